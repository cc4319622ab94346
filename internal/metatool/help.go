package metatool

import "strings"

var helpTopics = map[string]string{
	"": `mcp-gateway multiplexes a set of configured upstream MCP servers ("packages") behind seven meta-tools:

  list_tool_packages — see what packages are configured and their connection status
  list_tools         — see what tools a package (or all packages) currently exposes
  use_tool           — call exactly one upstream tool
  multi_use_tool      — call several upstream tools concurrently in one round trip
  authenticate       — start, poll, or invalidate a package's OAuth flow
  health_check_all   — probe every configured package's upstream
  get_help           — this text; pass topic="authenticate" etc. for more detail

Start with list_tool_packages, then list_tools for the package you care about, then use_tool.`,

	"authenticate": `authenticate drives a package's OAuth authorization-code-with-PKCE flow.

  action=start       begins a new flow and returns an auth_url to open in a browser.
                      Only one flow runs at a time across the whole gateway.
  action=status      polls the flow: pending, complete, failed, or timed_out.
                      On complete, the package is automatically reconnected.
  action=invalidate  discards persisted OAuth state. scope is one of
                      all|tokens|client|verifier (default: all).`,

	"multi_use_tool": `multi_use_tool runs several use_tool-equivalent calls concurrently and
returns their results in the same order as the input calls list, each
tagged with a request_id for correlation. A single call's failure never
fails the batch: check each result's error field independently.`,

	"list_tools": `list_tools returns a page of tool entries, each carrying a summary
classification (read/write/search/create/delete/update/list/auth/general),
an args_skeleton showing the shape of a minimal valid call, and a
schema_hash that stays stable across restarts when the upstream's schema
doesn't change. Pass package_id to scope to one package, or omit it to see
every package whose catalog has already been loaded.`,
}

// GetHelp implements get_help.
func (h *Handlers) GetHelp(args GetHelpArgs) *GetHelpResult {
	topic := strings.ToLower(strings.TrimSpace(args.Topic))
	if text, ok := helpTopics[topic]; ok {
		return &GetHelpResult{Text: text}
	}
	var known []string
	for k := range helpTopics {
		if k != "" {
			known = append(known, k)
		}
	}
	return &GetHelpResult{Text: "unknown topic " + args.Topic + ". known topics: " + strings.Join(known, ", ")}
}
