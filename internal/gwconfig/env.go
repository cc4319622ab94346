package gwconfig

import (
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// bracedVarPattern matches ${VAR} references.
var bracedVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// bareVarPattern matches bare $VAR references using upper-case/underscore
// names only, to avoid false positives on literal dollar signs in values
// such as prices.
var bareVarPattern = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

// expandPackageEnv expands ${VAR} and $VAR references in every env value of
// p, and flags sensitive-looking keys whose resolved value still looks
// unresolved or templated. Mutates p in place and appends to p.Warnings.
func expandPackageEnv(p *Package) {
	if len(p.Env) == 0 {
		return
	}
	expanded := make(map[string]string, len(p.Env))
	for k, v := range p.Env {
		resolved := expandValue(p.ID, k, v)
		expanded[k] = resolved
		if isSensitiveKey(k) && looksSuspicious(resolved) {
			warn := "env var " + k + " looks like an unresolved placeholder"
			p.Warnings = append(p.Warnings, warn)
			slog.Warn("gwconfig: sensitive-looking env value unresolved",
				slog.String("package", p.ID), slog.String("key", k))
		}
	}
	p.Env = expanded
}

// expandValue substitutes ${VAR} (warning once per var on failure, leaving
// the literal text in place) and $VAR (silently, only uppercase/underscore
// names) in v using the process environment.
func expandValue(pkgID, key, v string) string {
	warned := make(map[string]bool)

	v = bracedVarPattern.ReplaceAllStringFunc(v, func(match string) string {
		name := bracedVarPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if !warned[name] {
			slog.Warn("gwconfig: unresolved ${VAR} reference, leaving literal",
				slog.String("package", pkgID), slog.String("key", key), slog.String("var", name))
			warned[name] = true
		}
		return match
	})

	v = bareVarPattern.ReplaceAllStringFunc(v, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})

	return v
}

func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// looksSuspicious reports whether a resolved value still contains an
// unresolved ${...} reference, is a literal "YOUR_..." placeholder, or is
// empty.
func looksSuspicious(v string) bool {
	return strings.Contains(v, "${") || strings.HasPrefix(v, "YOUR_") || v == ""
}

// looksLikePlaceholder is the predicate used by the safe_only filter in
// list_tool_packages: a narrower check than looksSuspicious, restricted to
// values that equal or start with one of a fixed set of known placeholder
// literals.
func looksLikePlaceholder(v string) bool {
	switch v {
	case "YOUR_CLIENT_ID", "YOUR_SECRET", "YOUR_TOKEN":
		return true
	}
	return strings.HasPrefix(v, "YOUR_CLIENT_ID") || strings.HasPrefix(v, "YOUR_SECRET") || strings.HasPrefix(v, "YOUR_TOKEN")
}
