package registry_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/mcp-gateway/internal/gwconfig"
	"github.com/MrWong99/mcp-gateway/internal/registry"
	"github.com/MrWong99/mcp-gateway/internal/upstream"
)

// fakeClient is a named fake upstream.Client for exercising the registry's
// connect/reconnect/health bookkeeping without a real subprocess or network
// call.
type fakeClient struct {
	connectErr  error
	connects    int32
	closes      int32
	needsAuth   bool
	listToolsFn func() ([]upstream.Tool, error)
}

func (f *fakeClient) Connect(ctx context.Context) error {
	atomic.AddInt32(&f.connects, 1)
	return f.connectErr
}
func (f *fakeClient) ListTools(ctx context.Context) ([]upstream.Tool, error) {
	if f.listToolsFn != nil {
		return f.listToolsFn()
	}
	return nil, nil
}
func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]any) (*upstream.CallResult, error) {
	return &upstream.CallResult{Content: "ok"}, nil
}
func (f *fakeClient) Close() error {
	atomic.AddInt32(&f.closes, 1)
	return nil
}
func (f *fakeClient) HealthCheck(ctx context.Context) upstream.Health {
	return upstream.Health{OK: f.connectErr == nil}
}
func (f *fakeClient) RequiresAuth() bool    { return f.needsAuth }
func (f *fakeClient) IsAuthenticated() bool { return !f.needsAuth }

func onePackage(id string) []gwconfig.Package {
	return []gwconfig.Package{{ID: id, Name: id, Transport: gwconfig.TransportStdio}}
}

func TestRegistry_GetClientConnectsOnFirstUse(t *testing.T) {
	fc := &fakeClient{}
	reg := registry.NewWithFactory(onePackage("demo"), nil, func(gwconfig.Package) upstream.Client { return fc })

	c, err := reg.GetClient(context.Background(), "demo")
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if c != fc {
		t.Fatal("expected the registry to return the fake client")
	}
	if fc.connects != 1 {
		t.Errorf("expected exactly one connect call, got %d", fc.connects)
	}

	status, _, err := reg.Status("demo")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != registry.StatusConnected {
		t.Errorf("expected status connected, got %v", status)
	}
}

func TestRegistry_GetClientReusesLiveConnection(t *testing.T) {
	fc := &fakeClient{}
	reg := registry.NewWithFactory(onePackage("demo"), nil, func(gwconfig.Package) upstream.Client { return fc })

	if _, err := reg.GetClient(context.Background(), "demo"); err != nil {
		t.Fatalf("first GetClient: %v", err)
	}
	if _, err := reg.GetClient(context.Background(), "demo"); err != nil {
		t.Fatalf("second GetClient: %v", err)
	}
	if fc.connects != 1 {
		t.Errorf("expected the second call to reuse the live client, got %d connects", fc.connects)
	}
}

func TestRegistry_GetClientUnknownPackage(t *testing.T) {
	reg := registry.NewWithFactory(nil, nil, func(gwconfig.Package) upstream.Client { return &fakeClient{} })
	if _, err := reg.GetClient(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for an unconfigured package id")
	}
}

func TestRegistry_GetClientSurfacesNeedsAuth(t *testing.T) {
	fc := &fakeClient{connectErr: upstream.ErrNeedsAuth}
	reg := registry.NewWithFactory(onePackage("demo"), nil, func(gwconfig.Package) upstream.Client { return fc })

	if _, err := reg.GetClient(context.Background(), "demo"); err == nil {
		t.Fatal("expected GetClient to surface the needs-auth error")
	}
	status, _, err := reg.Status("demo")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != registry.StatusAuthRequired {
		t.Errorf("expected status auth_required, got %v", status)
	}
}

func TestRegistry_ReconnectAllocatesFreshClientAndClosesOld(t *testing.T) {
	first := &fakeClient{}
	second := &fakeClient{}
	calls := 0
	reg := registry.NewWithFactory(onePackage("demo"), nil, func(gwconfig.Package) upstream.Client {
		calls++
		if calls == 1 {
			return first
		}
		return second
	})

	if _, err := reg.GetClient(context.Background(), "demo"); err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	c, err := reg.Reconnect(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if c != second {
		t.Fatal("expected Reconnect to allocate a fresh client instance")
	}
	if first.closes != 1 {
		t.Errorf("expected the old client to be closed exactly once, got %d", first.closes)
	}
}

func TestRegistry_CloseAllClosesEveryLiveClient(t *testing.T) {
	fc := &fakeClient{}
	reg := registry.NewWithFactory(onePackage("demo"), nil, func(gwconfig.Package) upstream.Client { return fc })
	if _, err := reg.GetClient(context.Background(), "demo"); err != nil {
		t.Fatalf("GetClient: %v", err)
	}

	reg.CloseAll()
	if fc.closes != 1 {
		t.Errorf("expected CloseAll to close the live client, got %d closes", fc.closes)
	}
	status, _, err := reg.Status("demo")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != registry.StatusDisconnected {
		t.Errorf("expected status disconnected after CloseAll, got %v", status)
	}
}

func TestRegistry_EagerConnectDoesNotRetryNeedsAuth(t *testing.T) {
	fc := &fakeClient{connectErr: upstream.ErrNeedsAuth}
	reg := registry.NewWithFactory(onePackage("demo"), nil, func(gwconfig.Package) upstream.Client { return fc })

	reg.EagerConnect(context.Background())

	if fc.connects != 1 {
		t.Errorf("expected exactly one connect attempt for a needs-auth package, got %d", fc.connects)
	}
}

func TestRegistry_DisabledPackageNeverConnects(t *testing.T) {
	pkgs := []gwconfig.Package{{ID: "demo", Transport: gwconfig.TransportStdio, Disabled: true}}
	fc := &fakeClient{}
	reg := registry.NewWithFactory(pkgs, nil, func(gwconfig.Package) upstream.Client { return fc })

	if _, err := reg.GetClient(context.Background(), "demo"); err == nil {
		t.Fatal("expected GetClient to refuse a disabled package")
	}
	if fc.connects != 0 {
		t.Errorf("expected a disabled package to never be connected, got %d connects", fc.connects)
	}
}
