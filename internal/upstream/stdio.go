package upstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// StdioClient spawns a child process and speaks framed JSON-RPC over its
// stdin/stdout via the MCP SDK's CommandTransport. It owns the child
// process: Close terminates it if still alive.
type StdioClient struct {
	pkgID   string
	command string
	args    []string
	env     map[string]string
	cwd     string

	mu      sync.Mutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
	cmd     *exec.Cmd
}

var _ Client = (*StdioClient)(nil)

// NewStdioClient constructs a stdio upstream client. The process is not
// spawned until Connect is called.
func NewStdioClient(pkgID, command string, args []string, env map[string]string, cwd string) *StdioClient {
	return &StdioClient{pkgID: pkgID, command: command, args: args, env: env, cwd: cwd}
}

// Connect spawns the child process and performs the MCP initialize
// handshake. Connect errors are enriched with actionable diagnostics:
// command-not-found suggests checking PATH, permission-denied suggests
// chmod, and any other spawn failure includes cwd and full argv.
func (c *StdioClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	cmd := exec.Command(c.command, c.args...)
	cmd.Dir = c.cwd
	cmd.Env = os.Environ()
	for k, v := range c.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mcp-gateway", Version: "1.0.0"}, nil)
	transport := &mcpsdk.CommandTransport{Command: cmd}

	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return c.enrichConnectError(err)
	}

	c.client = client
	c.session = session
	c.cmd = cmd
	return nil
}

// enrichConnectError maps OS-level spawn failures to actionable diagnostics,
// per §4.C's stdio error-enrichment requirement.
func (c *StdioClient) enrichConnectError(err error) error {
	argv := append([]string{c.command}, c.args...)
	switch {
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("upstream %q: command %q not found — install it or check PATH: %w", c.pkgID, c.command, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("upstream %q: permission denied executing %q — try chmod +x: %w", c.pkgID, c.command, err)
	default:
		return fmt.Errorf("upstream %q: failed to spawn %v (cwd=%q): %w", c.pkgID, argv, c.cwd, err)
	}
}

// ListTools returns the upstream's current tool set, in upstream-reported
// order.
func (c *StdioClient) ListTools(ctx context.Context) ([]Tool, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("upstream %q: not connected", c.pkgID)
	}

	var tools []Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("upstream %q: list_tools: %w", c.pkgID, err)
		}
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

// CallTool invokes a single tool by name.
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
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

// Close terminates the child process if it is still alive.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			firstErr = err
		}
		c.session = nil
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return firstErr
}

// HealthCheck calls list_tools as a liveness probe: success maps to ok,
// failure to an error status. stdio upstreams never require interactive
// auth so needs_auth is never set here.
func (c *StdioClient) HealthCheck(ctx context.Context) Health {
	if _, err := c.ListTools(ctx); err != nil {
		return Health{OK: false, Error: err.Error()}
	}
	return Health{OK: true}
}

// RequiresAuth always returns false for stdio upstreams: credentials, if
// any, flow through the configured env vars rather than an interactive flow.
func (c *StdioClient) RequiresAuth() bool { return false }

// IsAuthenticated always returns true: env-based auth has no intermediate
// unauthenticated state the gateway can observe.
func (c *StdioClient) IsAuthenticated() bool { return true }
