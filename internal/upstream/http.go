package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// OAuthTokenSource is the capability the OAuth subsystem exposes to the HTTP
// upstream client. HTTPClient returns an *http.Client that attaches the
// package's persisted OAuth token (auto-refreshing it as needed), or nil if
// no token is currently persisted — the caller then attempts a plain
// connect and treats a 401-class failure as NeedsAuth.
type OAuthTokenSource interface {
	HTTPClient(ctx context.Context, pkgID string) (*http.Client, error)
	InvalidateAll(pkgID string)
}

// HTTPClient is the upstream client for both Streamable HTTP and HTTP+SSE
// transports. Selection is driven purely by the configured HTTPKind, never
// by sniffing the URL.
//
// An MCP transport cannot be re-started once connected: calling Connect on
// an already-connected HTTPClient is an invariant violation and returns an
// error rather than re-driving the existing session. After finish_oauth
// completes a token exchange, callers must allocate a fresh *HTTPClient
// (see registry.Registry's reconnect path) rather than calling Connect again
// on this one.
type HTTPClient struct {
	pkgID        string
	baseURL      string
	kind         string // "streamable" | "sse"
	extraHeaders map[string]string
	oauthEnabled bool
	oauthSource  OAuthTokenSource

	mu               sync.Mutex
	client           *mcpsdk.Client
	session          *mcpsdk.ClientSession
	connected        bool
	lastFailNeedsAuth bool
	authenticated    bool
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs an HTTP upstream client. oauthSource may be nil
// when oauthEnabled is false.
func NewHTTPClient(pkgID, baseURL, kind string, extraHeaders map[string]string, oauthEnabled bool, oauthSource OAuthTokenSource) *HTTPClient {
	return &HTTPClient{
		pkgID:        pkgID,
		baseURL:      baseURL,
		kind:         kind,
		extraHeaders: extraHeaders,
		oauthEnabled: oauthEnabled,
		oauthSource:  oauthSource,
	}
}

// Connect attaches a persisted OAuth token (if one exists) before
// connecting; otherwise it attempts a plain connect. A 401/Unauthorized/
// invalid_token failure becomes [ErrNeedsAuth] rather than propagating as a
// generic error. A "client id mismatch" failure invalidates all persisted
// OAuth artifacts for the package.
func (c *HTTPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("upstream %q: Connect called twice on the same HTTPClient — MCP transports cannot be re-started; allocate a new client instead", c.pkgID)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var httpClient *http.Client
	if c.oauthEnabled && c.oauthSource != nil {
		authed, err := c.oauthSource.HTTPClient(ctx, c.pkgID)
		if err != nil {
			return fmt.Errorf("upstream %q: loading oauth token: %w", c.pkgID, err)
		}
		httpClient = authed
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	httpClient = &http.Client{
		Transport:     withExtraHeaders(c.extraHeaders, httpClient.Transport),
		CheckRedirect: httpClient.CheckRedirect,
		Jar:           httpClient.Jar,
		Timeout:       httpClient.Timeout,
	}

	var transport mcpsdk.Transport
	switch c.kind {
	case "sse":
		transport = &mcpsdk.SSEClientTransport{Endpoint: c.baseURL, HTTPClient: httpClient}
	default:
		transport = &mcpsdk.StreamableClientTransport{Endpoint: c.baseURL, HTTPClient: httpClient}
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mcp-gateway", Version: "1.0.0"}, nil)
	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return c.classifyConnectError(err)
	}

	c.client = client
	c.session = session
	c.connected = true
	c.lastFailNeedsAuth = false
	c.authenticated = true
	return nil
}

func (c *HTTPClient) classifyConnectError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "client id mismatch") {
		if c.oauthSource != nil {
			c.oauthSource.InvalidateAll(c.pkgID)
		}
		return fmt.Errorf("upstream %q: %w: %v", c.pkgID, ErrClientIDMismatch, err)
	}
	if classifyAuthError(err) {
		c.lastFailNeedsAuth = true
		return fmt.Errorf("upstream %q: %w: %v", c.pkgID, ErrNeedsAuth, err)
	}
	return fmt.Errorf("upstream %q: connect: %w", c.pkgID, err)
}

// ListTools returns the upstream's tool set, in upstream-reported order.
func (c *HTTPClient) ListTools(ctx context.Context) ([]Tool, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("upstream %q: not connected", c.pkgID)
	}

	var tools []Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			if classifyAuthError(err) {
				c.mu.Lock()
				c.lastFailNeedsAuth = true
				c.mu.Unlock()
				return nil, fmt.Errorf("upstream %q: list_tools: %w: %v", c.pkgID, ErrNeedsAuth, err)
			}
			return nil, fmt.Errorf("upstream %q: list_tools: %w", c.pkgID, err)
		}
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return tools, nil
}

// CallTool invokes a single tool by name.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("upstream %q: not connected", c.pkgID)
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("upstream %q: call_tool %q: %w", c.pkgID, name, err)
	}
	return &CallResult{
		Content: textContent(res.Content),
		Raw:     res.StructuredContent,
		IsError: res.IsError,
	}, nil
}

// Close closes the underlying session. HTTP upstreams have no child process
// to terminate.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// HealthCheck returns needs_auth without attempting a call when the client
// has never connected or last failed with NeedsAuth; otherwise it attempts
// list_tools.
func (c *HTTPClient) HealthCheck(ctx context.Context) Health {
	c.mu.Lock()
	neverConnected := c.session == nil
	needsAuth := c.lastFailNeedsAuth
	c.mu.Unlock()

	if neverConnected || needsAuth {
		return Health{OK: false, NeedsAuth: true}
	}
	if _, err := c.ListTools(ctx); err != nil {
		if classifyAuthError(err) {
			return Health{OK: false, NeedsAuth: true, Error: err.Error()}
		}
		return Health{OK: false, Error: err.Error()}
	}
	return Health{OK: true}
}

// RequiresAuth reports whether this package was configured with oauth: true.
func (c *HTTPClient) RequiresAuth() bool { return c.oauthEnabled }

// IsAuthenticated reports whether the last connect/list_tools attempt
// succeeded without hitting a NeedsAuth condition.
func (c *HTTPClient) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated && !c.lastFailNeedsAuth
}
