// Package gwconfig ingests the gateway's package configuration: parsing one
// or more JSON config files, merging them in order, expanding environment
// variables, and normalizing the result into the internal [Package] record
// that the rest of the gateway operates on.
package gwconfig

// Transport identifies how the gateway reaches an upstream MCP server.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// HTTPKind distinguishes the two HTTP transport variants for Transport ==
// [TransportHTTP]. Streamable HTTP supersedes HTTP+SSE as of MCP spec
// 2025-03-26 but SSE is preserved for backward compatibility with older
// upstreams.
type HTTPKind string

const (
	HTTPKindStreamable HTTPKind = "streamable"
	HTTPKindSSE        HTTPKind = "sse"
)

// Visibility controls whether a package is surfaced by default in
// list_tool_packages.
type Visibility string

const (
	VisibilityDefault Visibility = "default"
	VisibilityHidden  Visibility = "hidden"
)

// AuthMode describes how a package authenticates to its upstream, reported
// back to clients via list_tool_packages/health_check_all.
type AuthMode string

const (
	AuthModeNone  AuthMode = "none"
	AuthModeEnv   AuthMode = "env"
	AuthModeOAuth AuthMode = "oauth"
)

// Auth carries auth-related metadata surfaced to clients. It does not itself
// drive the OAuth flow — that is owned by the oauthflow package, keyed by
// Package.ID.
type Auth struct {
	Mode     AuthMode `json:"mode,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	Method   string   `json:"method,omitempty"`
}

// Package is the normalized, validated representation of a single configured
// upstream MCP server. It is the unit the Package Registry, Tool Catalog and
// meta-tool handlers all key off of.
type Package struct {
	ID          string
	Name        string
	Description string

	Transport Transport
	HTTPKind  HTTPKind

	// stdio fields
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string

	// http fields
	BaseURL      string
	ExtraHeaders map[string]string

	OAuth      bool
	Auth       Auth
	Visibility Visibility
	Disabled   bool

	// Warnings accumulated while loading this single package: one entry per
	// sensitive-looking env key (TOKEN/KEY/SECRET) whose resolved value is
	// empty, a YOUR_... placeholder, or still holds an unresolved ${VAR}.
	// Duplicate ids on merge and unresolved ${VAR} in other keys are only
	// logged, not recorded here. Non-fatal; reported by list_tool_packages
	// and counted by health_check_all.
	Warnings []string
}

// IsVisible reports whether the package should appear in a default
// (non-include_disabled, non-hidden-aware) listing.
func (p Package) IsVisible(includeHidden bool) bool {
	if p.Disabled {
		return false
	}
	if p.Visibility == VisibilityHidden && !includeHidden {
		return false
	}
	return true
}

// HasPlaceholder reports whether any of the package's env values, or its
// auth client id, still holds an obvious template placeholder
// (YOUR_CLIENT_ID/YOUR_SECRET/YOUR_TOKEN-style values), used by the
// safe_only filter in list_tool_packages.
func (p Package) HasPlaceholder() bool {
	for _, v := range p.Env {
		if looksLikePlaceholder(v) {
			return true
		}
	}
	if looksLikePlaceholder(p.Auth.ClientID) {
		return true
	}
	return false
}
