// Package catalog builds and serves the gateway's Tool Catalog: the set of
// tools each configured package currently exposes, summarized, hashed and
// paginated for the list_tools meta-tool, and kept fresh by refreshing a
// package's tool list against its live upstream client.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/mcp-gateway/internal/registry"
	"github.com/MrWong99/mcp-gateway/internal/upstream"
)

// Entry is the catalog's enriched view of a single upstream tool.
type Entry struct {
	PackageID   string         `json:"package_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Summary     string         `json:"summary"` // read|write|search|create|delete|update|list|auth|general
	InputSchema any            `json:"input_schema,omitempty"`
	ArgsSkeleton map[string]any `json:"args_skeleton,omitempty"`
	SchemaHash  string         `json:"schema_hash"`
}

// Status is a package's tool-cache state, mirroring the registry's
// connection status one level up: whether the catalog actually holds a
// usable tool list for the package right now.
type Status string

const (
	StatusPending     Status = "pending"
	StatusConnected   Status = "connected"
	StatusFailed      Status = "failed"
	StatusAuthRequired Status = "auth_required"
)

// packageCatalog is the catalog's state for one configured package.
type packageCatalog struct {
	mu            sync.RWMutex
	tools         []Entry
	etag          string
	status        Status
	lastRefreshed time.Time
	lastError     string
}

// Catalog owns the per-package tool lists and their pagination/ETag state.
type Catalog struct {
	reg *registry.Registry

	mu       sync.RWMutex
	packages map[string]*packageCatalog

	sf singleflight.Group
}

// New builds a Catalog backed by reg. Package catalogs are populated lazily
// on first access (EnsureLoaded) or eagerly via RefreshPackage.
func New(reg *registry.Registry) *Catalog {
	return &Catalog{reg: reg, packages: make(map[string]*packageCatalog)}
}

func (c *Catalog) entryFor(pkgID string) *packageCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.packages[pkgID]
	if !ok {
		pc = &packageCatalog{}
		c.packages[pkgID] = pc
	}
	return pc
}

// EnsureLoaded returns pkgID's current tool list, refreshing it first if it
// has never been loaded. An already-loaded (possibly stale) catalog is
// returned as-is — staleness is only resolved by an explicit RefreshPackage
// call, e.g. after authenticate completes or a config hot-reload fires.
func (c *Catalog) EnsureLoaded(ctx context.Context, pkgID string) ([]Entry, error) {
	pc := c.entryFor(pkgID)
	pc.mu.RLock()
	loaded := !pc.lastRefreshed.IsZero()
	pc.mu.RUnlock()
	if loaded {
		pc.mu.RLock()
		defer pc.mu.RUnlock()
		return pc.tools, nil
	}
	return c.RefreshPackage(ctx, pkgID)
}

// RefreshPackage connects (if necessary) to pkgID's upstream, lists its
// current tools, and rebuilds the package's catalog entries. Concurrent
// refreshes for the same package are deduplicated via singleflight.
func (c *Catalog) RefreshPackage(ctx context.Context, pkgID string) ([]Entry, error) {
	v, err, _ := c.sf.Do(pkgID, func() (any, error) {
		return c.refresh(ctx, pkgID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

func (c *Catalog) refresh(ctx context.Context, pkgID string) ([]Entry, error) {
	pc := c.entryFor(pkgID)

	client, err := c.reg.GetClient(ctx, pkgID)
	if err != nil {
		pc.cacheFailure(statusForErr(err), err)
		return nil, err
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		wrapped := fmt.Errorf("catalog: refresh %q: %w", pkgID, err)
		pc.cacheFailure(statusForErr(err), wrapped)
		return nil, wrapped
	}

	entries := make([]Entry, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, buildEntry(pkgID, t))
	}

	pc.mu.Lock()
	pc.tools = entries
	pc.etag = computeETag(entries)
	pc.status = StatusConnected
	pc.lastRefreshed = time.Now()
	pc.lastError = ""
	pc.mu.Unlock()

	return entries, nil
}

// statusForErr maps a GetClient/ListTools failure to the cache status it
// should be mirrored as: an auth demand is its own distinct state from a
// hard connect/list failure.
func statusForErr(err error) Status {
	if errors.Is(err, upstream.ErrNeedsAuth) || errors.Is(err, upstream.ErrClientIDMismatch) {
		return StatusAuthRequired
	}
	return StatusFailed
}

// cacheFailure records a failed refresh attempt as a status-mirroring cache
// entry with an empty tool list, rather than leaving the package's prior
// (possibly stale) entry in place or leaving no entry at all.
// lastRefreshed is deliberately left untouched so EnsureLoaded still treats
// the package as not-yet-loaded and retries on the next call.
func (pc *packageCatalog) cacheFailure(status Status, err error) {
	pc.mu.Lock()
	pc.tools = nil
	pc.status = status
	pc.lastError = err.Error()
	pc.mu.Unlock()
}

// Status reports pkgID's current tool-cache status, as last recorded by
// either a successful or failed refresh; StatusPending if it has never been
// attempted.
func (c *Catalog) Status(pkgID string) Status {
	pc := c.entryFor(pkgID)
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if pc.status == "" {
		return StatusPending
	}
	return pc.status
}

func buildEntry(pkgID string, t upstream.Tool) Entry {
	schemaBytes, _ := json.Marshal(t.InputSchema)
	hash := sha256.Sum256(schemaBytes)
	return Entry{
		PackageID:    pkgID,
		Name:         t.Name,
		Description:  t.Description,
		Summary:      classify(t.Name, t.Description),
		InputSchema:  t.InputSchema,
		ArgsSkeleton: skeleton(t.InputSchema),
		SchemaHash:   "sha256:" + fmt.Sprintf("%x", hash),
	}
}

// classify buckets a tool into a coarse action category from its name and
// description, used to help a caller skim a long tool list without reading
// every description. Order matters: the first matching category wins, so
// e.g. "get_token" classifies as "auth", not "read".
func classify(name, description string) string {
	n := strings.ToLower(name)
	d := strings.ToLower(description)
	has := func(prefixes ...string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(n, p) || strings.Contains(n, "_"+p) {
				return true
			}
		}
		return false
	}
	switch {
	case has("auth", "login", "token", "oauth"):
		return "auth"
	case has("delete", "remove", "destroy"):
		return "delete"
	case has("create", "add", "insert", "new"):
		return "create"
	case has("update", "edit", "modify", "patch", "set"):
		return "update"
	case has("search", "query", "find"):
		return "search"
	case has("list", "ls"):
		return "list"
	case has("get", "fetch", "read", "describe", "show", "view"):
		return "read"
	case has("write", "save", "put", "upload", "send"):
		return "write"
	case strings.Contains(d, "read-only") || strings.Contains(d, "readonly"):
		return "read"
	default:
		return "general"
	}
}

// skeleton walks a JSON-Schema document's top-level "properties" and
// produces a minimal example arguments object: one zero-value placeholder
// per property, typed from the schema's declared "type". Nested objects
// recurse through their own "properties" at every depth; arrays get an
// empty slice rather than a sampled
// element, since a sample would require guessing at item shape.
func skeleton(schema any) map[string]any {
	m, ok := schema.(map[string]any)
	if !ok {
		return nil
	}
	props, ok := m["properties"].(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]any, len(props))
	for name, raw := range props {
		out[name] = placeholderFor(raw)
	}
	return out
}

func placeholderFor(raw any) any {
	prop, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	switch t, _ := prop["type"].(string); t {
	case "string":
		return ""
	case "integer", "number":
		return 0
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return skeleton(prop)
	default:
		return nil
	}
}

// computeETag hashes the catalog entries' names and schema hashes so a
// caller can detect "nothing changed" without re-fetching the full tool
// list. encoding/json sorts map keys, but Entry is a struct with fixed field
// order, so entries are hashed in a stable, explicitly name-sorted order
// rather than relying on upstream-reported order.
func computeETag(entries []Entry) string {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var sb strings.Builder
	for _, e := range sorted {
		sb.WriteString(e.Name)
		sb.WriteByte('\x00')
		sb.WriteString(e.SchemaHash)
		sb.WriteByte('\x00')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return "sha256:" + fmt.Sprintf("%x", sum)
}

// PageToken encodes pagination state as base64(JSON) so it's opaque to
// clients but trivially introspectable for debugging.
type PageToken struct {
	Index int `json:"index"`
}

// EncodePageToken serializes a PageToken for return to the caller.
func EncodePageToken(index int) string {
	data, _ := json.Marshal(PageToken{Index: index})
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePageToken parses a page token produced by EncodePageToken. An empty
// token decodes to index 0 (the first page); a malformed or negative token
// is logged and also treated as index 0, rather than failing the caller's
// list_tools request over an opaque token it never minted.
func DecodePageToken(token string) int {
	if token == "" {
		return 0
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		slog.Warn("catalog: malformed page token, starting from the first page", slog.Any("err", err))
		return 0
	}
	var pt PageToken
	if err := json.Unmarshal(data, &pt); err != nil {
		slog.Warn("catalog: malformed page token, starting from the first page", slog.Any("err", err))
		return 0
	}
	if pt.Index < 0 {
		slog.Warn("catalog: page token has a negative index, starting from the first page", slog.Int("index", pt.Index))
		return 0
	}
	return pt.Index
}

// Page is one page of a package's (or the whole catalog's) tool listing.
type Page struct {
	Entries       []Entry
	NextPageToken string
	ETag          string
}

// ListPackage returns one page of pkgID's tools, loading the package's
// catalog first if necessary.
func (c *Catalog) ListPackage(ctx context.Context, pkgID, pageToken string, pageSize int) (Page, error) {
	entries, err := c.EnsureLoaded(ctx, pkgID)
	if err != nil {
		return Page{}, err
	}
	pc := c.entryFor(pkgID)
	pc.mu.RLock()
	etag := pc.etag
	pc.mu.RUnlock()

	return paginate(entries, pageToken, pageSize, etag)
}

// ListAll returns one page spanning every loaded package's tools, in
// package-then-tool-name order, plus a global ETag covering the whole set.
// Packages that have never been refreshed are skipped rather than
// implicitly triggering a refresh, since a "list everything" call should not
// silently connect to every configured upstream.
func (c *Catalog) ListAll(pageToken string, pageSize int) (Page, error) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.packages))
	for id := range c.packages {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)

	var all []Entry
	var etags []string
	for _, id := range ids {
		pc := c.entryFor(id)
		pc.mu.RLock()
		all = append(all, pc.tools...)
		if pc.etag != "" {
			etags = append(etags, pc.etag)
		}
		pc.mu.RUnlock()
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].PackageID != all[j].PackageID {
			return all[i].PackageID < all[j].PackageID
		}
		return all[i].Name < all[j].Name
	})

	global := sha256.Sum256([]byte(strings.Join(etags, "\x00")))
	return paginate(all, pageToken, pageSize, "sha256:"+fmt.Sprintf("%x", global))
}

func paginate(entries []Entry, pageToken string, pageSize int, etag string) (Page, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	start := DecodePageToken(pageToken)
	if start > len(entries) {
		start = len(entries)
	}
	end := start + pageSize
	if end > len(entries) {
		end = len(entries)
	}

	page := Page{Entries: entries[start:end], ETag: etag}
	if end < len(entries) {
		page.NextPageToken = EncodePageToken(end)
	}
	return page, nil
}
