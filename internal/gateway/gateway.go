// Package gateway wires the registry, catalog, validator and oauthflow
// packages into an *mcp.Server exposing the seven meta-tools, and owns
// config hot-reload (building a fresh Registry+Catalog pair and swapping
// them in atomically) and graceful shutdown.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/mcp-gateway/internal/catalog"
	"github.com/MrWong99/mcp-gateway/internal/gwconfig"
	"github.com/MrWong99/mcp-gateway/internal/metatool"
	"github.com/MrWong99/mcp-gateway/internal/oauthflow"
	"github.com/MrWong99/mcp-gateway/internal/registry"
)

const serverInstructions = `mcp-gateway multiplexes a configurable set of upstream MCP servers behind
seven meta-tools. Call get_help for an overview, list_tool_packages to see
what's configured, and list_tools before use_tool so you know a tool's
exact argument shape.`

// snapshot is the one pointer the Gateway swaps atomically on reload.
type snapshot struct {
	reg *registry.Registry
	cat *catalog.Catalog
}

// Gateway owns the live meta-tool handlers and the config paths it was
// started from, so it can rebuild its snapshot on a watcher-triggered
// reload.
type Gateway struct {
	configPaths []string
	oauth       *oauthflow.Manager
	server      *mcpsdk.Server

	mu   sync.RWMutex
	snap *snapshot

	watcher *gwconfig.Watcher
}

// New loads configPaths, builds the initial Registry/Catalog snapshot,
// eager-connects it, and constructs the *mcp.Server advertising the seven
// meta-tools. It does not start serving — call Run with a transport.
func New(ctx context.Context, configPaths []string, oauth *oauthflow.Manager) (*Gateway, error) {
	g := &Gateway{configPaths: configPaths, oauth: oauth}

	if err := g.reload(ctx); err != nil {
		return nil, fmt.Errorf("gateway: initial config load: %w", err)
	}

	g.server = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "mcp-gateway", Version: "1.0.0"}, &mcpsdk.ServerOptions{
		Instructions: serverInstructions,
	})
	g.registerTools()

	g.watcher = gwconfig.NewWatcher(configPaths, func(paths []string) {
		if err := g.reload(context.Background()); err != nil {
			slog.Error("gateway: config reload failed, keeping previous snapshot", "error", err)
		}
	})

	return g, nil
}

// reload builds a fresh Registry+Catalog pair from the current config
// paths, eager-connects it, and swaps it in. The previous Registry's
// clients are closed only after the swap, per the atomicity requirement: an
// in-flight tool call observes either the old or new snapshot, never a mix.
func (g *Gateway) reload(ctx context.Context) error {
	packages, err := gwconfig.Load(g.configPaths)
	if err != nil {
		return err
	}

	reg := registry.New(packages, g.oauth)
	cat := catalog.New(reg)
	reg.EagerConnect(ctx)

	g.mu.Lock()
	old := g.snap
	g.snap = &snapshot{reg: reg, cat: cat}
	g.mu.Unlock()

	if old != nil {
		old.reg.CloseAll()
	}
	return nil
}

// Ready reports whether the gateway has completed its initial config load.
// New only returns a non-nil *Gateway once this is true, so Ready mainly
// exists to give main.go's /readyz handler something to call.
func (g *Gateway) Ready() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.snap == nil {
		return fmt.Errorf("gateway: no config snapshot loaded")
	}
	return nil
}

func (g *Gateway) handlers() *metatool.Handlers {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return metatool.New(g.snap.reg, g.snap.cat, g.oauth)
}

// Run serves the gateway over transport until the client disconnects or ctx
// is cancelled.
func (g *Gateway) Run(ctx context.Context, transport mcpsdk.Transport) error {
	return g.server.Run(ctx, transport)
}

// Shutdown stops the config watcher and closes every live upstream client,
// in that order, per §4.J's shutdown sequencing.
func (g *Gateway) Shutdown() {
	if g.watcher != nil {
		g.watcher.Stop()
	}
	g.mu.RLock()
	snap := g.snap
	g.mu.RUnlock()
	if snap != nil {
		snap.reg.CloseAll()
	}
}

func (g *Gateway) registerTools() {
	mcpsdk.AddTool(g.server, &mcpsdk.Tool{
		Name:        "list_tool_packages",
		Description: "List every configured upstream package, its transport, and its live connection status.",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, args metatool.ListPackagesArgs) (*mcpsdk.CallToolResult, any, error) {
		res, toolErr := g.handlers().ListToolPackages(ctx, args)
		return toResult(res, toolErr)
	})

	mcpsdk.AddTool(g.server, &mcpsdk.Tool{
		Name:        "list_tools",
		Description: "List the tools a package (or every loaded package) currently exposes, paginated.",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, args metatool.ListToolsArgs) (*mcpsdk.CallToolResult, any, error) {
		res, toolErr := g.handlers().ListTools(ctx, args)
		return toResult(res, toolErr)
	})

	mcpsdk.AddTool(g.server, &mcpsdk.Tool{
		Name:        "use_tool",
		Description: "Call a single tool on a single upstream package, after validating arguments against its schema. Pass dry_run:true to validate only, without forwarding the call upstream.",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, args metatool.UseToolArgs) (*mcpsdk.CallToolResult, any, error) {
		res, toolErr := g.handlers().UseTool(ctx, args)
		return toResult(res, toolErr)
	})

	mcpsdk.AddTool(g.server, &mcpsdk.Tool{
		Name:        "multi_use_tool",
		Description: "Call several tools (possibly across several packages) concurrently in one round trip.",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, args metatool.MultiUseToolArgs) (*mcpsdk.CallToolResult, any, error) {
		res, toolErr := g.handlers().MultiUseTool(ctx, args)
		// toResult's second return value is res itself, which AddTool marshals
		// into CallToolResult.StructuredContent — multi_use_tool's results are
		// mirrored as structured content the same way every other meta-tool is.
		return toResult(res, toolErr)
	})

	mcpsdk.AddTool(g.server, &mcpsdk.Tool{
		Name:        "authenticate",
		Description: "Start, poll, or invalidate an OAuth-enabled package's authorization flow.",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, args metatool.AuthenticateArgs) (*mcpsdk.CallToolResult, any, error) {
		res, toolErr := g.handlers().Authenticate(ctx, args)
		return toResult(res, toolErr)
	})

	mcpsdk.AddTool(g.server, &mcpsdk.Tool{
		Name:        "health_check_all",
		Description: "Probe every configured package's upstream and report connection health.",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, args metatool.HealthCheckAllArgs) (*mcpsdk.CallToolResult, any, error) {
		res := g.handlers().HealthCheckAll(ctx)
		return toResult(res, nil)
	})

	mcpsdk.AddTool(g.server, &mcpsdk.Tool{
		Name:        "get_help",
		Description: "Explain how to use the gateway's meta-tools, or a specific topic.",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, args metatool.GetHelpArgs) (*mcpsdk.CallToolResult, any, error) {
		res := g.handlers().GetHelp(args)
		return toResult(res, nil)
	})
}

// toResult renders a meta-tool's outcome as an MCP CallToolResult: a
// successful call gets its result marshaled as structured content plus a
// JSON text rendering for clients that only read text blocks; a failure
// gets IsError:true and the ToolError marshaled the same way, never a
// transport-level Go error (which would surface as a protocol error instead
// of tool-call data the agent can branch on).
func toResult(payload any, toolErr *metatool.ToolError) (*mcpsdk.CallToolResult, any, error) {
	if toolErr != nil {
		data, _ := json.Marshal(toolErr)
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
		}, toolErr, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		errData, _ := json.Marshal(&metatool.ToolError{Code: metatool.CodeInternalError, Message: err.Error()})
		return &mcpsdk.CallToolResult{IsError: true, Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(errData)}}}, nil, nil
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, payload, nil
}
