package gwconfig

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// rawServer mirrors a single entry's on-disk shape under "mcpServers" (or
// the legacy "packages" array).
type rawServer struct {
	ID          string            `json:"id,omitempty"` // only used in the legacy packages array
	Type        string            `json:"type,omitempty"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	OAuth       bool              `json:"oauth,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Visibility  string            `json:"visibility,omitempty"`
	Disabled    bool              `json:"disabled,omitempty"`
}

// sensitiveKeyMarkers are substrings that mark an env var as likely carrying
// a secret, used to decide whether to flag an unresolved/placeholder value.
var sensitiveKeyMarkers = []string{"TOKEN", "KEY", "SECRET"}

// Load reads and merges the config files at paths (in order), expands
// environment variables, validates, and returns the normalized package list.
// An empty merged result is not an error — the gateway is allowed to start
// in minimal mode with zero packages.
func Load(paths []string) ([]Package, error) {
	byID := make(map[string]Package)
	order := make([]string, 0)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("gwconfig: read %q: %w", path, err)
		}
		pkgs, err := parseFile(data)
		if err != nil {
			return nil, fmt.Errorf("gwconfig: parse %q: %w", path, err)
		}
		for _, p := range pkgs {
			if _, exists := byID[p.ID]; exists {
				slog.Warn("gwconfig: duplicate package id on merge, later file wins",
					slog.String("id", p.ID), slog.String("file", path))
			} else {
				order = append(order, p.ID)
			}
			byID[p.ID] = p
		}
	}

	result := make([]Package, 0, len(order))
	for _, id := range order {
		result = append(result, byID[id])
	}

	for i := range result {
		expandPackageEnv(&result[i])
		if err := validatePackage(&result[i]); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// parseFile decodes a single config file, accepting either the modern
// {"mcpServers": {...}} shape or the legacy {"packages": [...]} shape. gjson
// is used to shape-sniff which key is present without a second full
// unmarshal of the whole document.
func parseFile(data []byte) ([]Package, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON")
	}

	if mcpServers := gjson.GetBytes(data, "mcpServers"); mcpServers.Exists() {
		return parseModernShape(mcpServers)
	}
	if pkgs := gjson.GetBytes(data, "packages"); pkgs.Exists() {
		return parseLegacyShape(pkgs)
	}
	// Neither key present: treat as an empty file rather than an error so a
	// config fragment that only sets unrelated top-level keys doesn't block
	// startup.
	return nil, nil
}

func parseModernShape(servers gjson.Result) ([]Package, error) {
	ids := make([]string, 0)
	servers.ForEach(func(key, _ gjson.Result) bool {
		ids = append(ids, key.String())
		return true
	})
	sort.Strings(ids) // deterministic within one file for objects with no order guarantee

	byKey := make(map[string]Package, len(ids))
	servers.ForEach(func(key, value gjson.Result) bool {
		var rs rawServer
		if err := json.Unmarshal([]byte(value.Raw), &rs); err != nil {
			slog.Warn("gwconfig: skipping malformed server entry", slog.String("id", key.String()), slog.Any("err", err))
			return true
		}
		byKey[key.String()] = normalizeServer(key.String(), rs)
		return true
	})

	out := make([]Package, 0, len(byKey))
	for _, id := range ids {
		if p, ok := byKey[id]; ok {
			out = append(out, p)
			delete(byKey, id)
		}
	}
	return out, nil
}

func parseLegacyShape(pkgs gjson.Result) ([]Package, error) {
	var out []Package
	for _, item := range pkgs.Array() {
		var rs rawServer
		if err := json.Unmarshal([]byte(item.Raw), &rs); err != nil {
			slog.Warn("gwconfig: skipping malformed legacy package entry", slog.Any("err", err))
			continue
		}
		if rs.ID == "" {
			slog.Warn("gwconfig: legacy package entry missing id, skipping")
			continue
		}
		out = append(out, normalizeServer(rs.ID, rs))
	}
	return out, nil
}

// normalizeServer maps a rawServer into the internal Package representation,
// inferring the transport when "type" is omitted: stdio when "command" is
// set, http when "url" is set.
func normalizeServer(id string, rs rawServer) Package {
	p := Package{
		ID:           id,
		Name:         rs.Name,
		Description:  rs.Description,
		Command:      rs.Command,
		Args:         rs.Args,
		Env:          rs.Env,
		Cwd:          rs.Cwd,
		BaseURL:      rs.URL,
		ExtraHeaders: rs.Headers,
		OAuth:        rs.OAuth,
		Disabled:     rs.Disabled,
		Visibility:   Visibility(rs.Visibility),
	}
	if p.Name == "" {
		p.Name = id
	}
	if p.Visibility == "" {
		p.Visibility = VisibilityDefault
	}

	switch strings.ToLower(rs.Type) {
	case "stdio":
		p.Transport = TransportStdio
	case "sse":
		p.Transport = TransportHTTP
		p.HTTPKind = HTTPKindSSE
	case "http":
		p.Transport = TransportHTTP
		p.HTTPKind = HTTPKindStreamable
	default:
		// type omitted: infer from which of command/url is present.
		if rs.Command != "" {
			p.Transport = TransportStdio
		} else {
			p.Transport = TransportHTTP
			p.HTTPKind = HTTPKindStreamable
		}
	}

	if p.OAuth {
		p.Auth.Mode = AuthModeOAuth
	} else if p.Transport == TransportStdio {
		p.Auth.Mode = AuthModeEnv
	} else {
		p.Auth.Mode = AuthModeNone
	}

	return p
}

// validatePackage enforces §3's invariants. A disabled package skips
// transport-specific validation so that half-filled templates don't block
// startup.
func validatePackage(p *Package) error {
	if p.Visibility != VisibilityDefault && p.Visibility != VisibilityHidden {
		return fmt.Errorf("gwconfig: package %q: visibility %q must be \"default\" or \"hidden\"", p.ID, p.Visibility)
	}
	if p.Disabled {
		return nil
	}
	if p.OAuth && p.Transport != TransportHTTP {
		return fmt.Errorf("gwconfig: package %q: oauth requires transport http", p.ID)
	}
	switch p.Transport {
	case TransportStdio:
		if p.Command == "" {
			return fmt.Errorf("gwconfig: package %q: command is required for stdio transport", p.ID)
		}
	case TransportHTTP:
		if p.BaseURL == "" {
			return fmt.Errorf("gwconfig: package %q: base_url is required for http transport", p.ID)
		}
		if _, err := url.Parse(p.BaseURL); err != nil {
			return fmt.Errorf("gwconfig: package %q: base_url %q does not parse: %w", p.ID, p.BaseURL, err)
		}
	default:
		return fmt.Errorf("gwconfig: package %q: unknown transport %q", p.ID, p.Transport)
	}
	return nil
}
