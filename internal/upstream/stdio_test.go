package upstream_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/MrWong99/mcp-gateway/internal/upstream"
)

func TestStdioClient_ConnectCommandNotFound(t *testing.T) {
	c := upstream.NewStdioClient("demo", "mcp-gateway-definitely-does-not-exist", nil, nil, "")
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("expected an error for a nonexistent command")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected a PATH hint in the error, got: %v", err)
	}
}

func TestStdioClient_ConnectPermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits only")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "unexecutable.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho hi\n"), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}

	c := upstream.NewStdioClient("demo", script, nil, nil, dir)
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("expected a permission error for a non-executable script")
	}
	if !strings.Contains(err.Error(), "permission denied") && !strings.Contains(err.Error(), "chmod") {
		t.Errorf("expected a chmod hint in the error, got: %v", err)
	}
}

func TestStdioClient_CallToolBeforeConnectFails(t *testing.T) {
	c := upstream.NewStdioClient("demo", "true", nil, nil, "")
	if _, err := c.CallTool(context.Background(), "anything", nil); err == nil {
		t.Fatal("expected an error calling a tool before Connect")
	}
}

func TestStdioClient_CloseBeforeConnectIsNoop(t *testing.T) {
	c := upstream.NewStdioClient("demo", "true", nil, nil, "")
	if err := c.Close(); err != nil {
		t.Errorf("Close on an unconnected client should be a no-op, got: %v", err)
	}
}

func TestStdioClient_RequiresAuthAlwaysFalse(t *testing.T) {
	c := upstream.NewStdioClient("demo", "true", nil, nil, "")
	if c.RequiresAuth() {
		t.Error("stdio clients never require interactive auth")
	}
	if !c.IsAuthenticated() {
		t.Error("stdio clients are always considered authenticated")
	}
}
