// Package validator checks tool call arguments against a tool's declared
// JSON-Schema input schema before the gateway forwards the call upstream,
// producing structured, per-field errors a calling agent can act on
// directly rather than a single opaque message.
package validator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidationError is one structured complaint about a single argument path.
type ValidationError struct {
	Path             string `json:"path"`
	Keyword          string `json:"keyword"`
	Message          string `json:"message"`
	MissingProperty  string `json:"missing_property,omitempty"`
	ExpectedType     string `json:"expected_type,omitempty"`
	ActualType       string `json:"actual_type,omitempty"`
	AllowedValues    []any  `json:"allowed_values,omitempty"`
}

// Validator validates argument maps against one tool's compiled schema.
type Validator struct {
	raw      map[string]any
	resolved *jsonschema.Resolved // nil if the schema failed to resolve via jsonschema-go
}

// cache memoizes one Validator per distinct schema hash so a schema shared
// by many calls to the same tool is only ever parsed and resolved once.
type cache struct {
	mu    sync.Mutex
	byKey map[string]*Validator
}

var compiledCache = &cache{byKey: make(map[string]*Validator)}

// Compile builds (or returns the cached) Validator for schema, keyed by
// cacheKey — the catalog's schema_hash is the expected key, so two tools
// sharing byte-identical schemas share one compiled Validator.
func Compile(cacheKey string, schema any) (*Validator, error) {
	compiledCache.mu.Lock()
	if v, ok := compiledCache.byKey[cacheKey]; ok {
		compiledCache.mu.Unlock()
		return v, nil
	}
	compiledCache.mu.Unlock()

	v, err := newValidator(schema)
	if err != nil {
		return nil, err
	}

	compiledCache.mu.Lock()
	compiledCache.byKey[cacheKey] = v
	compiledCache.mu.Unlock()
	return v, nil
}

func newValidator(schema any) (*Validator, error) {
	raw, ok := schema.(map[string]any)
	if !ok {
		if schema == nil {
			raw = map[string]any{}
		} else {
			return nil, fmt.Errorf("validator: input schema is not a JSON object: %T", schema)
		}
	}

	v := &Validator{raw: raw}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("validator: marshal schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		slog.Debug("validator: schema did not parse as a jsonschema-go Schema, falling back to manual validation only", "error", err)
		return v, nil
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		slog.Debug("validator: schema failed to resolve via jsonschema-go, falling back to manual validation only", "error", err)
		return v, nil
	}
	v.resolved = resolved
	return v, nil
}

// Validate checks args against the compiled schema and returns every
// violation found, in a stable (path-sorted) order. A nil/empty result means
// args is valid.
func (v *Validator) Validate(args map[string]any) []ValidationError {
	var errs []ValidationError
	errs = append(errs, checkRequired(v.raw, args)...)
	errs = append(errs, checkProperties(v.raw, args)...)

	if v.resolved != nil {
		if err := v.resolved.Validate(args); err != nil && len(errs) == 0 {
			// jsonschema-go caught something the manual walk above didn't
			// (e.g. a "pattern" or "format" constraint) — surface it as a
			// single generic violation rather than trying to decompose its
			// internal error structure, which isn't part of its stable API.
			errs = append(errs, ValidationError{
				Path:    "",
				Keyword: "schema",
				Message: err.Error(),
			})
		}
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return errs
}

func checkRequired(schema map[string]any, args map[string]any) []ValidationError {
	reqRaw, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	var errs []ValidationError
	for _, r := range reqRaw {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, present := args[name]; !present {
			errs = append(errs, ValidationError{
				Path:            name,
				Keyword:         "required",
				Message:         fmt.Sprintf("missing required property %q", name),
				MissingProperty: name,
			})
		}
	}
	return errs
}

func checkProperties(schema map[string]any, args map[string]any) []ValidationError {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	var errs []ValidationError
	for name, value := range args {
		propRaw, ok := props[name]
		if !ok {
			continue // additionalProperties policy is left to jsonschema-go's pass, if it resolved
		}
		prop, ok := propRaw.(map[string]any)
		if !ok {
			continue
		}
		if err := checkType(name, prop, value); err != nil {
			errs = append(errs, *err)
			continue
		}
		if err := checkEnum(name, prop, value); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

func checkType(path string, prop map[string]any, value any) *ValidationError {
	want, ok := prop["type"].(string)
	if !ok {
		return nil
	}
	if typeMatches(want, value) {
		return nil
	}
	return &ValidationError{
		Path:         path,
		Keyword:      "type",
		Message:      fmt.Sprintf("%q should be %s", path, want),
		ExpectedType: want,
		ActualType:   jsonTypeOf(value),
	}
}

func typeMatches(want string, value any) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		switch n := value.(type) {
		case float64:
			return n == float64(int64(n))
		case int, int32, int64:
			return true
		}
		return false
	case "number":
		switch value.(type) {
		case float64, int, int32, int64:
			return true
		}
		return false
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

func jsonTypeOf(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int32, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func checkEnum(path string, prop map[string]any, value any) *ValidationError {
	enumRaw, ok := prop["enum"].([]any)
	if !ok {
		return nil
	}
	for _, allowed := range enumRaw {
		if fmt.Sprint(allowed) == fmt.Sprint(value) {
			return nil
		}
	}
	vals := make([]string, len(enumRaw))
	for i, v := range enumRaw {
		vals[i] = fmt.Sprint(v)
	}
	return &ValidationError{
		Path:          path,
		Keyword:       "enum",
		Message:       fmt.Sprintf("%q must be one of [%s]", path, strings.Join(vals, ", ")),
		AllowedValues: enumRaw,
	}
}

// FormatErrors renders a ValidationError slice as a single human-readable
// summary string, used when the gateway needs to surface validation
// failures as tool-call error text rather than structured JSON-RPC data.
func FormatErrors(errs []ValidationError) string {
	var sb strings.Builder
	for i, e := range errs {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(e.Message)
	}
	return sb.String()
}
