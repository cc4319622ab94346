// Package upstream implements the gateway's two upstream client
// transports — a stdio child-process client and an HTTP client supporting
// both Streamable HTTP and HTTP+SSE — behind a single [Client] capability
// set, so the Package Registry and Tool Catalog never need to know which
// transport a given package uses.
package upstream

import (
	"context"
	"errors"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrNeedsAuth is the sentinel error kind returned (wrapped) when an
// upstream is reachable but refuses unauthenticated access. It is never a
// crash: callers coarsen it into connection status "auth_required".
var ErrNeedsAuth = errors.New("upstream: needs authentication")

// ErrClientIDMismatch is returned when the upstream's OAuth authorization
// server reports that the persisted dynamically-registered client_id is no
// longer recognized. HTTPClient invalidates all persisted OAuth artifacts
// for the package before returning it; callers treat it as a demand for
// re-authentication.
var ErrClientIDMismatch = errors.New("upstream: oauth client id mismatch")

// Tool is the gateway's transport-agnostic view of a single upstream tool
// definition, copied out of the MCP SDK's wire type so callers never hold a
// reference into SDK-owned memory.
type Tool struct {
	Name        string
	Description string
	InputSchema any // raw JSON-Schema document (map[string]any after decode)
}

// CallResult is the outcome of a single tool invocation.
type CallResult struct {
	// Content is the concatenated text content of the tool's response.
	Content string
	// Raw holds the structured content block, when the upstream returned one,
	// for callers that want to pass it through unredacted.
	Raw any
	IsError bool
}

// Health is the result of a health_check() probe.
type Health struct {
	OK        bool
	Error     string
	NeedsAuth bool
}

// Client is the capability set every upstream client (stdio or HTTP)
// implements. The Package Registry owns the single live Client per package
// id; the Tool Catalog only ever looks one up by id, never holds it beyond a
// single call.
type Client interface {
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
	Close() error
	HealthCheck(ctx context.Context) Health
	RequiresAuth() bool
	IsAuthenticated() bool
}

// classifyAuthError reports whether err (or its message) indicates the
// upstream demands authentication — used by HTTPClient to demote a connect
// or call failure into ErrNeedsAuth.
func classifyAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNeedsAuth) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"oauth", "401", "unauthorized", "invalid_token", "authorization"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// textContent concatenates every TextContent block in an SDK CallToolResult.
func textContent(content []mcpsdk.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// connectTimeout bounds a single connect attempt so a hung child process or
// unreachable HTTP endpoint cannot stall eager connection forever.
const connectTimeout = 30 * time.Second
