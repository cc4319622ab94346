package metatool_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mcp-gateway/internal/catalog"
	"github.com/MrWong99/mcp-gateway/internal/gwconfig"
	"github.com/MrWong99/mcp-gateway/internal/metatool"
	"github.com/MrWong99/mcp-gateway/internal/registry"
	"github.com/MrWong99/mcp-gateway/internal/upstream"
)

type fakeClient struct {
	tools      []upstream.Tool
	callResult *upstream.CallResult
	callErr    error
	callDelay  time.Duration

	mu    sync.Mutex
	calls []string
}

func (f *fakeClient) Connect(ctx context.Context) error { return nil }
func (f *fakeClient) ListTools(ctx context.Context) ([]upstream.Tool, error) {
	return f.tools, nil
}
func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]any) (*upstream.CallResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.callDelay > 0 {
		time.Sleep(f.callDelay)
	}
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.callResult != nil {
		return f.callResult, nil
	}
	return &upstream.CallResult{Content: "ok"}, nil
}
func (f *fakeClient) Close() error                                    { return nil }
func (f *fakeClient) HealthCheck(ctx context.Context) upstream.Health { return upstream.Health{OK: true} }
func (f *fakeClient) RequiresAuth() bool                              { return false }
func (f *fakeClient) IsAuthenticated() bool                           { return true }

func schemaRequiring(prop string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{prop: map[string]any{"type": "string"}},
		"required":   []any{prop},
	}
}

func newTestHandlers(t *testing.T, pkgs []gwconfig.Package, fc *fakeClient) *metatool.Handlers {
	t.Helper()
	reg := registry.NewWithFactory(pkgs, nil, func(gwconfig.Package) upstream.Client { return fc })
	cat := catalog.New(reg)
	return metatool.New(reg, cat, nil)
}

func TestListToolPackages_FiltersHidden(t *testing.T) {
	pkgs := []gwconfig.Package{
		{ID: "a", Transport: gwconfig.TransportStdio, Visibility: gwconfig.VisibilityDefault},
		{ID: "b", Transport: gwconfig.TransportStdio, Visibility: gwconfig.VisibilityHidden},
	}
	h := newTestHandlers(t, pkgs, &fakeClient{})

	res, toolErr := h.ListToolPackages(context.Background(), metatool.ListPackagesArgs{})
	if toolErr != nil {
		t.Fatalf("ListToolPackages: %v", toolErr)
	}
	if len(res.Packages) != 1 || res.Packages[0].ID != "a" {
		t.Fatalf("expected only the visible package, got %+v", res.Packages)
	}

	res2, toolErr := h.ListToolPackages(context.Background(), metatool.ListPackagesArgs{IncludeHidden: true})
	if toolErr != nil {
		t.Fatalf("ListToolPackages include_hidden: %v", toolErr)
	}
	if len(res2.Packages) != 2 {
		t.Fatalf("expected both packages with include_hidden, got %+v", res2.Packages)
	}
}

func TestListTools_UnknownPackage(t *testing.T) {
	h := newTestHandlers(t, nil, &fakeClient{})
	_, toolErr := h.ListTools(context.Background(), metatool.ListToolsArgs{PackageID: "nope"})
	if toolErr == nil || toolErr.Code != metatool.CodePackageNotFound {
		t.Fatalf("expected PACKAGE_NOT_FOUND, got %+v", toolErr)
	}
}

func TestUseTool_ValidationFailure(t *testing.T) {
	fc := &fakeClient{tools: []upstream.Tool{{Name: "greet", InputSchema: schemaRequiring("name")}}}
	pkgs := []gwconfig.Package{{ID: "demo", Transport: gwconfig.TransportStdio}}
	h := newTestHandlers(t, pkgs, fc)

	_, toolErr := h.UseTool(context.Background(), metatool.UseToolArgs{PackageID: "demo", ToolName: "greet", Arguments: map[string]any{}})
	if toolErr == nil || toolErr.Code != metatool.CodeArgValidationFailed {
		t.Fatalf("expected ARG_VALIDATION_FAILED, got %+v", toolErr)
	}
	if len(fc.calls) != 0 {
		t.Error("expected CallTool to never be reached when validation fails")
	}
}

func TestUseTool_Success(t *testing.T) {
	fc := &fakeClient{
		tools:      []upstream.Tool{{Name: "greet", InputSchema: schemaRequiring("name")}},
		callResult: &upstream.CallResult{Content: "hello world"},
	}
	pkgs := []gwconfig.Package{{ID: "demo", Transport: gwconfig.TransportStdio}}
	h := newTestHandlers(t, pkgs, fc)

	res, toolErr := h.UseTool(context.Background(), metatool.UseToolArgs{PackageID: "demo", ToolName: "greet", Arguments: map[string]any{"name": "Ada"}})
	if toolErr != nil {
		t.Fatalf("UseTool: %v", toolErr)
	}
	if res.Content != "hello world" {
		t.Errorf("unexpected content: %q", res.Content)
	}
	if len(fc.calls) != 1 || fc.calls[0] != "greet" {
		t.Errorf("expected exactly one call to greet, got %v", fc.calls)
	}
}

func TestUseTool_DownstreamErrorIsEnrichedWithDiagnostic(t *testing.T) {
	fc := &fakeClient{
		tools:   []upstream.Tool{{Name: "greet", InputSchema: schemaRequiring("name")}},
		callErr: errors.New("upstream returned 403 forbidden"),
	}
	pkgs := []gwconfig.Package{{ID: "demo", Transport: gwconfig.TransportStdio}}
	h := newTestHandlers(t, pkgs, fc)

	_, toolErr := h.UseTool(context.Background(), metatool.UseToolArgs{
		PackageID: "demo", ToolName: "greet", Arguments: map[string]any{"name": "Ada", "secret": "shh"},
	})
	if toolErr == nil || toolErr.Code != metatool.CodeDownstreamError {
		t.Fatalf("expected DOWNSTREAM_ERROR, got %+v", toolErr)
	}
	for _, want := range []string{"package: demo", "tool: greet", "duration_ms:", "argument keys: name, secret", "401/403"} {
		if !strings.Contains(toolErr.Message, want) {
			t.Errorf("expected diagnostic to contain %q, got %q", want, toolErr.Message)
		}
	}
	if strings.Contains(toolErr.Message, "shh") {
		t.Errorf("diagnostic must never include argument values, got %q", toolErr.Message)
	}
}

func TestUseTool_DryRunSkipsUpstreamCall(t *testing.T) {
	fc := &fakeClient{
		tools:      []upstream.Tool{{Name: "greet", InputSchema: schemaRequiring("name")}},
		callResult: &upstream.CallResult{Content: "hello world"},
	}
	pkgs := []gwconfig.Package{{ID: "demo", Transport: gwconfig.TransportStdio}}
	h := newTestHandlers(t, pkgs, fc)

	res, toolErr := h.UseTool(context.Background(), metatool.UseToolArgs{
		PackageID: "demo", ToolName: "greet", Arguments: map[string]any{"name": "Ada"}, DryRun: true,
	})
	if toolErr != nil {
		t.Fatalf("UseTool dry_run: %v", toolErr)
	}
	if !res.DryRun {
		t.Error("expected DryRun to be true")
	}
	if res.DurationMS != 0 {
		t.Errorf("expected duration_ms 0 for a dry run, got %d", res.DurationMS)
	}
	if len(fc.calls) != 0 {
		t.Errorf("expected CallTool to never be reached on a dry run, got %v", fc.calls)
	}
}

func TestUseTool_DryRunStillValidatesArguments(t *testing.T) {
	fc := &fakeClient{tools: []upstream.Tool{{Name: "greet", InputSchema: schemaRequiring("name")}}}
	pkgs := []gwconfig.Package{{ID: "demo", Transport: gwconfig.TransportStdio}}
	h := newTestHandlers(t, pkgs, fc)

	_, toolErr := h.UseTool(context.Background(), metatool.UseToolArgs{
		PackageID: "demo", ToolName: "greet", Arguments: map[string]any{}, DryRun: true,
	})
	if toolErr == nil || toolErr.Code != metatool.CodeArgValidationFailed {
		t.Fatalf("expected ARG_VALIDATION_FAILED even on a dry run, got %+v", toolErr)
	}
}

func TestUseTool_DisabledPackageIsUnavailable(t *testing.T) {
	pkgs := []gwconfig.Package{{ID: "demo", Transport: gwconfig.TransportStdio, Disabled: true}}
	h := newTestHandlers(t, pkgs, &fakeClient{})

	_, toolErr := h.UseTool(context.Background(), metatool.UseToolArgs{PackageID: "demo", ToolName: "anything"})
	if toolErr == nil || toolErr.Code != metatool.CodePackageUnavailable {
		t.Fatalf("expected PACKAGE_UNAVAILABLE, got %+v", toolErr)
	}
	if toolErr.RPCCode != -32004 {
		t.Errorf("expected rpc code -32004, got %d", toolErr.RPCCode)
	}
}

func TestListToolPackages_DisabledOmittedUnlessRequested(t *testing.T) {
	pkgs := []gwconfig.Package{
		{ID: "a", Transport: gwconfig.TransportStdio},
		{ID: "d", Transport: gwconfig.TransportStdio, Disabled: true},
	}
	h := newTestHandlers(t, pkgs, &fakeClient{})

	res, toolErr := h.ListToolPackages(context.Background(), metatool.ListPackagesArgs{})
	if toolErr != nil {
		t.Fatalf("ListToolPackages: %v", toolErr)
	}
	if len(res.Packages) != 1 || res.Packages[0].ID != "a" {
		t.Fatalf("expected disabled package omitted by default, got %+v", res.Packages)
	}

	res2, toolErr := h.ListToolPackages(context.Background(), metatool.ListPackagesArgs{IncludeDisabled: true})
	if toolErr != nil {
		t.Fatalf("ListToolPackages include_disabled: %v", toolErr)
	}
	if len(res2.Packages) != 2 {
		t.Fatalf("expected both packages with include_disabled, got %+v", res2.Packages)
	}
	for _, p := range res2.Packages {
		if p.ID == "d" && p.Status != registry.StatusDisabled {
			t.Errorf("expected disabled package to report status %q, got %q", registry.StatusDisabled, p.Status)
		}
	}
}

func TestUseTool_UnknownTool(t *testing.T) {
	fc := &fakeClient{tools: []upstream.Tool{{Name: "greet"}}}
	pkgs := []gwconfig.Package{{ID: "demo", Transport: gwconfig.TransportStdio}}
	h := newTestHandlers(t, pkgs, fc)

	_, toolErr := h.UseTool(context.Background(), metatool.UseToolArgs{PackageID: "demo", ToolName: "nope"})
	if toolErr == nil || toolErr.Code != metatool.CodeToolNotFound {
		t.Fatalf("expected TOOL_NOT_FOUND, got %+v", toolErr)
	}
}

func TestMultiUseTool_PreservesOrderAndIsolatesFailures(t *testing.T) {
	fc := &fakeClient{tools: []upstream.Tool{{Name: "a"}, {Name: "b"}}}
	pkgs := []gwconfig.Package{{ID: "demo", Transport: gwconfig.TransportStdio}}
	h := newTestHandlers(t, pkgs, fc)

	calls := []metatool.UseToolArgs{
		{PackageID: "demo", ToolName: "a"},
		{PackageID: "demo", ToolName: "missing"},
		{PackageID: "demo", ToolName: "b"},
	}
	res, toolErr := h.MultiUseTool(context.Background(), metatool.MultiUseToolArgs{Calls: calls})
	if toolErr != nil {
		t.Fatalf("MultiUseTool: %v", toolErr)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}
	for i, r := range res.Results {
		if r.Index != i {
			t.Errorf("result %d has Index %d, expected order-preserving index", i, r.Index)
		}
		if r.RequestID == "" {
			t.Errorf("result %d missing request_id", i)
		}
	}
	if res.Results[1].Error == nil || res.Results[1].Error.Code != metatool.CodeToolNotFound {
		t.Errorf("expected result 1 to carry a TOOL_NOT_FOUND error, got %+v", res.Results[1])
	}
	if res.Results[0].Error != nil || res.Results[2].Error != nil {
		t.Errorf("expected the successful calls to carry no error: %+v / %+v", res.Results[0], res.Results[2])
	}
}

func TestMultiUseTool_RejectsEmptyBatch(t *testing.T) {
	h := newTestHandlers(t, nil, &fakeClient{})
	_, toolErr := h.MultiUseTool(context.Background(), metatool.MultiUseToolArgs{})
	if toolErr == nil || toolErr.Code != metatool.CodeInvalidParams {
		t.Fatalf("expected INVALID_PARAMS for an empty batch, got %+v", toolErr)
	}
}

func TestMultiUseTool_ShortTimeoutYieldsBatchTimeout(t *testing.T) {
	fc := &fakeClient{tools: []upstream.Tool{{Name: "a"}}, callDelay: 20 * time.Millisecond}
	pkgs := []gwconfig.Package{{ID: "demo", Transport: gwconfig.TransportStdio}}
	h := newTestHandlers(t, pkgs, fc)

	calls := []metatool.UseToolArgs{
		{PackageID: "demo", ToolName: "a"},
		{PackageID: "demo", ToolName: "a"},
	}
	res, toolErr := h.MultiUseTool(context.Background(), metatool.MultiUseToolArgs{
		Calls: calls, Concurrency: 1, TimeoutMS: 1,
	})
	if toolErr != nil {
		t.Fatalf("MultiUseTool: %v", toolErr)
	}
	last := res.Results[1]
	if last.Error == nil || last.Error.Code != metatool.CodeDownstreamError {
		t.Fatalf("expected the second call to never get a free slot before the 1ms deadline, got %+v", last)
	}
	if last.DurationMS != 0 {
		t.Errorf("expected duration_ms 0 for a batch_timeout result, got %d", last.DurationMS)
	}
}

func TestHealthCheckAll_ReportsDisabledPackages(t *testing.T) {
	pkgs := []gwconfig.Package{{ID: "demo", Transport: gwconfig.TransportStdio, Disabled: true}}
	h := newTestHandlers(t, pkgs, &fakeClient{})

	res := h.HealthCheckAll(context.Background())
	if len(res.Packages) != 1 || res.Packages[0].Status != "disabled" {
		t.Fatalf("expected the disabled package to report status=disabled, got %+v", res.Packages)
	}
}

func TestHealthCheckAll_SummaryTallyCountsEachStatus(t *testing.T) {
	pkgs := []gwconfig.Package{
		{ID: "ok-pkg", Transport: gwconfig.TransportStdio},
		{ID: "disabled-pkg", Transport: gwconfig.TransportStdio, Disabled: true},
	}
	h := newTestHandlers(t, pkgs, &fakeClient{})

	res := h.HealthCheckAll(context.Background())
	if res.Summary.Total != 2 {
		t.Errorf("expected total=2, got %d", res.Summary.Total)
	}
	if res.Summary.Healthy != 1 {
		t.Errorf("expected healthy=1, got %d", res.Summary.Healthy)
	}
	if res.Summary.Disabled != 1 {
		t.Errorf("expected disabled=1, got %d", res.Summary.Disabled)
	}
}

func TestGetHelp_UnknownTopicListsKnownOnes(t *testing.T) {
	h := newTestHandlers(t, nil, &fakeClient{})
	res := h.GetHelp(metatool.GetHelpArgs{Topic: "bogus"})
	if res.Text == "" {
		t.Fatal("expected non-empty help text for an unknown topic")
	}
}

func TestGetHelp_DefaultTopic(t *testing.T) {
	h := newTestHandlers(t, nil, &fakeClient{})
	res := h.GetHelp(metatool.GetHelpArgs{})
	if res.Text == "" {
		t.Fatal("expected non-empty default help text")
	}
}
