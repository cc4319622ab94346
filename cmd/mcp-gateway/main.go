// Command mcp-gateway runs the MCP gateway: it aggregates a configurable set
// of upstream MCP servers behind seven meta-tools and speaks MCP over stdio
// to whatever client spawned it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/mcp-gateway/internal/gateway"
	"github.com/MrWong99/mcp-gateway/internal/health"
	"github.com/MrWong99/mcp-gateway/internal/oauthflow"
	"github.com/MrWong99/mcp-gateway/internal/observe"
)

const (
	legacyStateDirName = ".super-mcp"
	stateDirName       = ".mcp-gateway"
	defaultConfigName  = "config.json"
	ambientAddr        = ":9090"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 && args[0] == "add" {
		return runAdd(args[1:])
	}

	fs := flag.NewFlagSet("mcp-gateway", flag.ContinueOnError)
	configFlag := fs.String("config", "", "comma-separated list of config file paths (default: $MCP_GATEWAY_CONFIG, $SUPER_MCP_CONFIG, or <state-dir>/config.json)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp-gateway: resolve home directory: %v\n", err)
		return 1
	}
	stateDir := filepath.Join(home, stateDirName)
	legacyStateDir := filepath.Join(home, legacyStateDirName)

	configPaths := resolveConfigPaths(*configFlag, stateDir)

	setupLogging(stateDir)
	slog.Info("mcp-gateway starting", "config_paths", configPaths, "state_dir", stateDir)

	oauth, err := oauthflow.NewManager(stateDir, legacyStateDir)
	if err != nil {
		slog.Error("failed to open oauth token store", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(ctx, configPaths, oauth)
	if err != nil {
		slog.Error("failed to start gateway", "error", err)
		return 1
	}

	metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: "1.0.0"})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "error", err)
		return 1
	}

	ambientServer := startAmbientServer(gw)

	slog.Info("mcp-gateway ready, serving MCP over stdio")

	runErr := gw.Run(ctx, &mcpsdk.StdioTransport{})

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = ambientServer.Shutdown(shutdownCtx)
	gw.Shutdown()
	if err := metricsShutdown(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("gateway run error", "error", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// resolveConfigPaths picks the config path list in priority order: the
// -config flag, $MCP_GATEWAY_CONFIG, the legacy $SUPER_MCP_CONFIG alias, and
// finally <state-dir>/config.json (created empty on first run if missing).
func resolveConfigPaths(flagValue, stateDir string) []string {
	if flagValue != "" {
		return splitPaths(flagValue)
	}
	if v := os.Getenv("MCP_GATEWAY_CONFIG"); v != "" {
		return splitPaths(v)
	}
	if v := os.Getenv("SUPER_MCP_CONFIG"); v != "" {
		return splitPaths(v)
	}

	defaultPath := filepath.Join(stateDir, defaultConfigName)
	if _, err := os.Stat(defaultPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(stateDir, 0o700); err == nil {
			_ = os.WriteFile(defaultPath, []byte(`{"mcpServers":{}}`), 0o600)
		}
	}
	return []string{defaultPath}
}

func splitPaths(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// setupLogging wires slog to stderr (stdout is reserved for the MCP stdio
// transport), and additionally appends JSON records to
// <state-dir>/logs/gateway.log when MCP_GATEWAY_ENABLE_FILE_LOGS is truthy.
// The log file is not rotated.
func setupLogging(stateDir string) {
	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, nil)}

	if isTruthy(os.Getenv("MCP_GATEWAY_ENABLE_FILE_LOGS")) {
		logDir := filepath.Join(stateDir, "logs")
		if err := os.MkdirAll(logDir, 0o700); err == nil {
			logPath := filepath.Join(logDir, "gateway.log")
			if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
				handlers = append(handlers, slog.NewJSONHandler(f, nil))
			}
		}
	}

	if len(handlers) == 1 {
		slog.SetDefault(slog.New(handlers[0]))
		return
	}
	slog.SetDefault(slog.New(&multiHandler{handlers: handlers}))
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// startAmbientServer serves /healthz, /readyz and /metrics on ambientAddr.
// This is plain process liveness/metrics, orthogonal to the gateway's own
// MCP stdio transport.
func startAmbientServer(gw *gateway.Gateway) *http.Server {
	mux := http.NewServeMux()
	h := health.New(health.Checker{Name: "gateway", Check: func(ctx context.Context) error {
		return gw.Ready()
	}})
	h.Register(mux)
	mux.Handle("GET /metrics", observe.PrometheusHandler())

	handler := observe.Middleware(observe.DefaultMetrics())(mux)
	srv := &http.Server{Addr: ambientAddr, Handler: handler}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ambient http server error", "error", err)
		}
	}()
	return srv
}

func runAdd(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: mcp-gateway add <stdio|http>")
		return 1
	}

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp-gateway: resolve home directory: %v\n", err)
		return 1
	}
	stateDir := filepath.Join(home, stateDirName)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "mcp-gateway: create state dir: %v\n", err)
		return 1
	}
	configPath := filepath.Join(stateDir, defaultConfigName)

	if err := addTemplate(configPath, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "mcp-gateway: %v\n", err)
		return 1
	}
	fmt.Printf("added a %s template server entry to %s — edit it before use\n", args[0], configPath)
	return 0
}
