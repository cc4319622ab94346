package metatool

import (
	"github.com/MrWong99/mcp-gateway/internal/catalog"
	"github.com/MrWong99/mcp-gateway/internal/registry"
)

// PackageSummary is list_tool_packages' per-package view: configuration
// plus live connection status, never the tool list itself (use list_tools
// for that).
type PackageSummary struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Transport   string            `json:"transport"`
	Visibility  string            `json:"visibility"`
	AuthMode    string            `json:"auth_mode"`
	Status      registry.Status   `json:"status"`
	LastError   string            `json:"last_error,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// ListPackagesArgs are list_tool_packages' arguments.
type ListPackagesArgs struct {
	IncludeHidden   bool `json:"include_hidden,omitempty"`
	IncludeDisabled bool `json:"include_disabled,omitempty"`
	SafeOnly        bool `json:"safe_only,omitempty"`
}

// ListPackagesResult is list_tool_packages' result.
type ListPackagesResult struct {
	Packages []PackageSummary `json:"packages"`
}

// ListToolsArgs are list_tools' arguments. An empty PackageID lists tools
// across every loaded package.
type ListToolsArgs struct {
	PackageID string `json:"package_id,omitempty"`
	PageToken string `json:"page_token,omitempty"`
	PageSize  int    `json:"page_size,omitempty"`
}

// ListToolsResult is list_tools' result.
type ListToolsResult struct {
	Tools         []catalog.Entry `json:"tools"`
	NextPageToken string          `json:"next_page_token,omitempty"`
	ETag          string          `json:"etag"`
}

// UseToolArgs are use_tool's arguments, and the element type of
// multi_use_tool's Calls.
type UseToolArgs struct {
	PackageID string         `json:"package_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	DryRun    bool           `json:"dry_run,omitempty"`
}

// UseToolResult is use_tool's successful result. For a dry run, DryRun is
// true and the call is never forwarded to the upstream: Content/Raw/IsError
// stay zero and DurationMS is 0.
type UseToolResult struct {
	Content    string `json:"content"`
	Raw        any    `json:"raw,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	DryRun     bool   `json:"dry_run,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// MultiUseToolArgs are multi_use_tool's arguments. TimeoutMS bounds the
// whole batch (see [MultiUseTool]'s doc comment); zero means the default.
type MultiUseToolArgs struct {
	Calls       []UseToolArgs `json:"calls"`
	Concurrency int           `json:"concurrency,omitempty"`
	TimeoutMS   int           `json:"timeout_ms,omitempty"`
}

// MultiCallResult is one element of multi_use_tool's results, in the same
// order as the corresponding entry in Calls.
type MultiCallResult struct {
	Index      int            `json:"index"`
	RequestID  string         `json:"request_id"`
	Result     *UseToolResult `json:"result,omitempty"`
	Error      *ToolError     `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// MultiUseToolResult is multi_use_tool's result.
type MultiUseToolResult struct {
	Results []MultiCallResult `json:"results"`
}

// AuthenticateArgs are authenticate's arguments. Action is one of
// "start", "status", or "invalidate".
type AuthenticateArgs struct {
	PackageID string `json:"package_id"`
	Action    string `json:"action"`
	Scope     string `json:"scope,omitempty"` // for action=invalidate: all|tokens|client|verifier
}

// AuthenticateResult is authenticate's result.
type AuthenticateResult struct {
	Status  string `json:"status"`
	AuthURL string `json:"auth_url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthCheckAllArgs are health_check_all's (empty) arguments.
type HealthCheckAllArgs struct{}

// PackageHealth is one package's entry in health_check_all's result.
type PackageHealth struct {
	PackageID string `json:"package_id"`
	Status    string `json:"status"`
	NeedsAuth bool   `json:"needs_auth,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthTally is health_check_all's summary count across every configured
// package, broken down by the status each one landed in.
type HealthTally struct {
	Total           int `json:"total"`
	Healthy         int `json:"healthy"`
	Errored         int `json:"errored"`
	Unavailable     int `json:"unavailable"`
	Disabled        int `json:"disabled"`
	RequiringAuth   int `json:"requiring_auth"`
	Authenticated   int `json:"authenticated"`
	WithEnvIssues   int `json:"with_env_issues"`
}

// HealthCheckAllResult is health_check_all's result.
type HealthCheckAllResult struct {
	Packages        []PackageHealth `json:"packages"`
	Summary         HealthTally     `json:"summary"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// GetHelpArgs are get_help's arguments.
type GetHelpArgs struct {
	Topic string `json:"topic,omitempty"`
}

// GetHelpResult is get_help's result.
type GetHelpResult struct {
	Text string `json:"text"`
}
