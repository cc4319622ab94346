package catalog_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/mcp-gateway/internal/catalog"
	"github.com/MrWong99/mcp-gateway/internal/gwconfig"
	"github.com/MrWong99/mcp-gateway/internal/registry"
	"github.com/MrWong99/mcp-gateway/internal/upstream"
)

// entryNames extracts just the tool names from a page, since the pagination
// tests care about ordering and membership, not every Entry field.
func entryNames(entries []catalog.Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

type fakeClient struct {
	tools      []upstream.Tool
	err        error
	connectErr error
}

func (f *fakeClient) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeClient) ListTools(ctx context.Context) ([]upstream.Tool, error) {
	return f.tools, f.err
}
func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]any) (*upstream.CallResult, error) {
	return &upstream.CallResult{}, nil
}
func (f *fakeClient) Close() error                      { return nil }
func (f *fakeClient) HealthCheck(ctx context.Context) upstream.Health { return upstream.Health{OK: true} }
func (f *fakeClient) RequiresAuth() bool                { return false }
func (f *fakeClient) IsAuthenticated() bool              { return true }

func newTestRegistry(pkgID string, fc *fakeClient) *registry.Registry {
	pkgs := []gwconfig.Package{{ID: pkgID, Transport: gwconfig.TransportStdio}}
	return registry.NewWithFactory(pkgs, nil, func(gwconfig.Package) upstream.Client { return fc })
}

func schemaWithProps(props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props}
}

func TestCatalog_EnsureLoadedRefreshesOnce(t *testing.T) {
	fc := &fakeClient{tools: []upstream.Tool{{Name: "get_item", Description: "fetch an item"}}}
	reg := newTestRegistry("demo", fc)
	c := catalog.New(reg)

	entries, err := c.EnsureLoaded(context.Background(), "demo")
	if err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "get_item" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Summary != "read" {
		t.Errorf("expected get_item to classify as read, got %q", entries[0].Summary)
	}
}

func TestCatalog_ClassifyHeuristics(t *testing.T) {
	cases := []struct {
		name     string
		wantSumm string
	}{
		{"list_repos", "list"},
		{"create_issue", "create"},
		{"delete_branch", "delete"},
		{"update_profile", "update"},
		{"search_code", "search"},
		{"authenticate_user", "auth"},
		{"get_file", "read"},
		{"write_log", "write"},
		{"frobnicate", "general"},
	}

	for _, tc := range cases {
		fc := &fakeClient{tools: []upstream.Tool{{Name: tc.name}}}
		reg := newTestRegistry("demo", fc)
		c := catalog.New(reg)
		entries, err := c.EnsureLoaded(context.Background(), "demo")
		if err != nil {
			t.Fatalf("EnsureLoaded(%s): %v", tc.name, err)
		}
		if got := entries[0].Summary; got != tc.wantSumm {
			t.Errorf("classify(%q) = %q, want %q", tc.name, got, tc.wantSumm)
		}
	}
}

func TestCatalog_ArgsSkeletonFromSchema(t *testing.T) {
	schema := schemaWithProps(map[string]any{
		"query":   map[string]any{"type": "string"},
		"limit":   map[string]any{"type": "integer"},
		"verbose": map[string]any{"type": "boolean"},
		"tags":    map[string]any{"type": "array"},
	})
	fc := &fakeClient{tools: []upstream.Tool{{Name: "search_things", InputSchema: schema}}}
	reg := newTestRegistry("demo", fc)
	c := catalog.New(reg)

	entries, err := c.EnsureLoaded(context.Background(), "demo")
	if err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	skel := entries[0].ArgsSkeleton
	if skel["query"] != "" {
		t.Errorf("expected empty string placeholder for query, got %v", skel["query"])
	}
	if skel["limit"] != 0 {
		t.Errorf("expected 0 placeholder for limit, got %v", skel["limit"])
	}
	if skel["verbose"] != false {
		t.Errorf("expected false placeholder for verbose, got %v", skel["verbose"])
	}
}

func TestCatalog_SchemaHashIsStableAndDistinct(t *testing.T) {
	schemaA := schemaWithProps(map[string]any{"x": map[string]any{"type": "string"}})
	schemaB := schemaWithProps(map[string]any{"y": map[string]any{"type": "integer"}})

	fc := &fakeClient{tools: []upstream.Tool{
		{Name: "tool_a", InputSchema: schemaA},
		{Name: "tool_b", InputSchema: schemaB},
	}}
	reg := newTestRegistry("demo", fc)
	c := catalog.New(reg)
	entries, err := c.EnsureLoaded(context.Background(), "demo")
	if err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if entries[0].SchemaHash == entries[1].SchemaHash {
		t.Error("expected distinct schemas to produce distinct hashes")
	}
	if entries[0].SchemaHash == "" || len(entries[0].SchemaHash) < len("sha256:") {
		t.Errorf("expected a sha256:-prefixed hash, got %q", entries[0].SchemaHash)
	}
}

func TestCatalog_ListPackagePaginates(t *testing.T) {
	var tools []upstream.Tool
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		tools = append(tools, upstream.Tool{Name: name})
	}
	fc := &fakeClient{tools: tools}
	reg := newTestRegistry("demo", fc)
	c := catalog.New(reg)

	page1, err := c.ListPackage(context.Background(), "demo", "", 2)
	if err != nil {
		t.Fatalf("ListPackage page1: %v", err)
	}
	if len(page1.Entries) != 2 || page1.NextPageToken == "" {
		t.Fatalf("expected a 2-entry first page with a next token, got %+v", page1)
	}

	page2, err := c.ListPackage(context.Background(), "demo", page1.NextPageToken, 2)
	if err != nil {
		t.Fatalf("ListPackage page2: %v", err)
	}
	if len(page2.Entries) != 2 || page2.Entries[0].Name != "c" {
		t.Fatalf("expected page2 to start at 'c', got %+v", page2.Entries)
	}

	page3, err := c.ListPackage(context.Background(), "demo", page2.NextPageToken, 2)
	if err != nil {
		t.Fatalf("ListPackage page3: %v", err)
	}
	if len(page3.Entries) != 1 || page3.NextPageToken != "" {
		t.Fatalf("expected a final 1-entry page with no next token, got %+v", page3)
	}

	gotOrder := append(append(entryNames(page1.Entries), entryNames(page2.Entries)...), entryNames(page3.Entries)...)
	wantOrder := []string{"a", "b", "c", "d", "e"}
	if diff := cmp.Diff(wantOrder, gotOrder); diff != "" {
		t.Errorf("paginated tool order mismatch (-want +got):\n%s", diff)
	}
}

func TestCatalog_MalformedPageTokenStartsFromZero(t *testing.T) {
	var tools []upstream.Tool
	for _, name := range []string{"a", "b"} {
		tools = append(tools, upstream.Tool{Name: name})
	}
	fc := &fakeClient{tools: tools}
	reg := newTestRegistry("demo", fc)
	c := catalog.New(reg)

	page, err := c.ListPackage(context.Background(), "demo", "not-valid-base64!!", 10)
	if err != nil {
		t.Fatalf("expected a malformed token to be treated as page 0, not an error: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, entryNames(page.Entries)); diff != "" {
		t.Errorf("expected the first page, got (-want +got):\n%s", diff)
	}
}

func TestCatalog_RefreshPackagePropagatesUpstreamError(t *testing.T) {
	fc := &fakeClient{err: errListFailed}
	reg := newTestRegistry("demo", fc)
	c := catalog.New(reg)

	if _, err := c.RefreshPackage(context.Background(), "demo"); err == nil {
		t.Fatal("expected RefreshPackage to surface the upstream list_tools error")
	}
}

func TestCatalog_RefreshFailureCachesStatusMirroringEntry(t *testing.T) {
	fc := &fakeClient{err: errListFailed}
	reg := newTestRegistry("demo", fc)
	c := catalog.New(reg)

	if got := c.Status("demo"); got != catalog.StatusPending {
		t.Fatalf("expected an unrefreshed package to report pending, got %q", got)
	}

	if _, err := c.RefreshPackage(context.Background(), "demo"); err == nil {
		t.Fatal("expected RefreshPackage to surface the upstream list_tools error")
	}
	if got := c.Status("demo"); got != catalog.StatusFailed {
		t.Fatalf("expected a list_tools failure to cache a failed status, got %q", got)
	}

	// lastRefreshed is left untouched on failure, so EnsureLoaded still treats
	// the package as unloaded and retries rather than serving the cached
	// failure entry forever.
	if _, err := c.ListPackage(context.Background(), "demo", "", 10); err == nil {
		t.Fatal("expected ListPackage to retry and surface the still-failing list_tools error")
	}

	fc.err = nil
	fc.tools = []upstream.Tool{{Name: "a"}}
	entries, err := c.RefreshPackage(context.Background(), "demo")
	if err != nil {
		t.Fatalf("expected the package to recover on a subsequent successful refresh: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a" {
		t.Fatalf("unexpected entries after recovery: %+v", entries)
	}
	if got := c.Status("demo"); got != catalog.StatusConnected {
		t.Fatalf("expected the recovered package to report connected, got %q", got)
	}
}

var errListFailed = &testError{"list_tools failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
