package metatool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/mcp-gateway/internal/catalog"
	"github.com/MrWong99/mcp-gateway/internal/gwconfig"
	"github.com/MrWong99/mcp-gateway/internal/oauthflow"
	"github.com/MrWong99/mcp-gateway/internal/registry"
	"github.com/MrWong99/mcp-gateway/internal/upstream"
	"github.com/MrWong99/mcp-gateway/internal/validator"
)

// Handlers implements the seven meta-tools over a Registry, Catalog and
// oauthflow Manager. The gateway package builds a Handlers over its current
// Registry/Catalog snapshot for each tool call, so a config hot-reload takes
// effect by swapping that snapshot.
type Handlers struct {
	Registry *registry.Registry
	Catalog  *catalog.Catalog
	OAuth    *oauthflow.Manager
}

// New builds a Handlers over the given components.
func New(reg *registry.Registry, cat *catalog.Catalog, oauth *oauthflow.Manager) *Handlers {
	return &Handlers{Registry: reg, Catalog: cat, OAuth: oauth}
}

// ListToolPackages implements list_tool_packages.
func (h *Handlers) ListToolPackages(ctx context.Context, args ListPackagesArgs) (*ListPackagesResult, *ToolError) {
	pkgs := h.Registry.Packages()
	out := make([]PackageSummary, 0, len(pkgs))
	for _, p := range pkgs {
		if p.Disabled && !args.IncludeDisabled {
			continue
		}
		if p.Visibility == gwconfig.VisibilityHidden && !args.IncludeHidden {
			continue
		}
		if args.SafeOnly && p.HasPlaceholder() {
			continue
		}
		status, lastErr, _ := h.Registry.Status(p.ID)
		if p.Disabled {
			status = registry.StatusDisabled
		}
		out = append(out, PackageSummary{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Transport:   string(p.Transport),
			Visibility:  string(p.Visibility),
			AuthMode:    string(p.Auth.Mode),
			Status:      status,
			LastError:   lastErr,
			Warnings:    p.Warnings,
		})
	}
	return &ListPackagesResult{Packages: out}, nil
}

// ListTools implements list_tools.
func (h *Handlers) ListTools(ctx context.Context, args ListToolsArgs) (*ListToolsResult, *ToolError) {
	var page catalog.Page
	var err error
	if args.PackageID == "" {
		page, err = h.Catalog.ListAll(args.PageToken, args.PageSize)
	} else {
		if _, ok := h.Registry.Package(args.PackageID); !ok {
			return nil, newErr(CodePackageNotFound, "no such package %q", args.PackageID)
		}
		page, err = h.Catalog.ListPackage(ctx, args.PackageID, args.PageToken, args.PageSize)
	}
	if err != nil {
		return nil, classifyCatalogErr(args.PackageID, err)
	}
	return &ListToolsResult{Tools: page.Entries, NextPageToken: page.NextPageToken, ETag: page.ETag}, nil
}

// UseTool implements use_tool: validate args against the tool's catalog
// schema, then forward the call to the package's live upstream client.
func (h *Handlers) UseTool(ctx context.Context, args UseToolArgs) (*UseToolResult, *ToolError) {
	if args.PackageID == "" || args.ToolName == "" {
		return nil, newErr(CodeInvalidParams, "package_id and tool_name are required")
	}
	pkg, ok := h.Registry.Package(args.PackageID)
	if !ok {
		return nil, newErr(CodePackageNotFound, "no such package %q", args.PackageID)
	}
	if pkg.Disabled {
		return nil, newErr(CodePackageUnavailable, "package %q is disabled", args.PackageID)
	}

	entries, err := h.Catalog.EnsureLoaded(ctx, args.PackageID)
	if err != nil {
		return nil, classifyCatalogErr(args.PackageID, err)
	}

	var tool *catalog.Entry
	for i := range entries {
		if entries[i].Name == args.ToolName {
			tool = &entries[i]
			break
		}
	}
	if tool == nil {
		return nil, newErr(CodeToolNotFound, "package %q has no tool %q", args.PackageID, args.ToolName)
	}

	v, err := validator.Compile(tool.SchemaHash, tool.InputSchema)
	if err != nil {
		return nil, newErr(CodeInternalError, "failed to compile schema for %q: %v", args.ToolName, err)
	}
	if violations := v.Validate(args.Arguments); len(violations) > 0 {
		return nil, newErrData(CodeArgValidationFailed, violations, "argument validation failed: %s", validator.FormatErrors(violations))
	}

	if args.DryRun {
		return &UseToolResult{DryRun: true}, nil
	}

	client, err := h.Registry.GetClient(ctx, args.PackageID)
	if err != nil {
		return nil, classifyConnectErr(args.PackageID, err)
	}

	start := time.Now()
	res, err := client.CallTool(ctx, args.ToolName, args.Arguments)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		return nil, classifyToolCallErr(args.PackageID, args.ToolName, args.Arguments, duration, err)
	}
	return &UseToolResult{Content: res.Content, Raw: res.Raw, IsError: res.IsError, DurationMS: duration}, nil
}

// Authenticate implements authenticate's start/status/invalidate actions.
func (h *Handlers) Authenticate(ctx context.Context, args AuthenticateArgs) (*AuthenticateResult, *ToolError) {
	pkg, ok := h.Registry.Package(args.PackageID)
	if !ok {
		return nil, newErr(CodePackageNotFound, "no such package %q", args.PackageID)
	}
	if !pkg.OAuth {
		return nil, newErr(CodeInvalidParams, "package %q is not configured for oauth", args.PackageID)
	}

	switch args.Action {
	case "", "start":
		authURL, err := h.OAuth.StartAuthorization(ctx, pkg.ID, pkg.BaseURL, pkg.Auth.Scopes)
		if err != nil {
			return nil, newErr(CodeAuthIncomplete, "failed to start authorization: %v", err)
		}
		return &AuthenticateResult{Status: "pending", AuthURL: authURL}, nil

	case "status":
		status, errMsg := h.OAuth.Status(pkg.ID)
		if status == oauthflow.StatusComplete {
			if _, err := h.Registry.Reconnect(ctx, pkg.ID); err != nil {
				return &AuthenticateResult{Status: string(status), Error: err.Error()}, nil
			}
		}
		return &AuthenticateResult{Status: string(status), Error: errMsg}, nil

	case "invalidate":
		scope := args.Scope
		if scope == "" {
			scope = "all"
		}
		if err := h.OAuth.Invalidate(pkg.ID, scope); err != nil {
			return nil, newErr(CodeInternalError, "failed to invalidate: %v", err)
		}
		return &AuthenticateResult{Status: "invalidated"}, nil

	default:
		return nil, newErr(CodeInvalidParams, "unknown action %q (expected start, status, or invalidate)", args.Action)
	}
}

// HealthCheckAll implements health_check_all: probes every configured
// package's live (or not-yet-connected) client concurrently and tallies the
// results into a summary alongside the per-package detail.
func (h *Handlers) HealthCheckAll(ctx context.Context) *HealthCheckAllResult {
	pkgs := h.Registry.Packages()
	out := make([]PackageHealth, len(pkgs))

	var wg sync.WaitGroup
	for i, p := range pkgs {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = h.checkOnePackage(ctx, p)
		}()
	}
	wg.Wait()

	tally := HealthTally{Total: len(out)}
	var recs []string
	for i, p := range pkgs {
		ph := out[i]
		switch ph.Status {
		case "ok":
			tally.Healthy++
			if p.OAuth {
				tally.Authenticated++
			}
		case "auth_required":
			tally.RequiringAuth++
			recs = append(recs, fmt.Sprintf("package %q needs authentication: run authenticate({package_id:%q})", p.ID, p.ID))
		case "unavailable":
			tally.Unavailable++
			recs = append(recs, fmt.Sprintf("package %q is unreachable: %s", p.ID, ph.Error))
		case "error":
			tally.Errored++
			recs = append(recs, fmt.Sprintf("package %q failed its health probe: %s", p.ID, ph.Error))
		case "disabled":
			tally.Disabled++
		}
		if len(p.Warnings) > 0 {
			tally.WithEnvIssues++
		}
	}
	return &HealthCheckAllResult{Packages: out, Summary: tally, Recommendations: recs}
}

// checkOnePackage probes a single package's connection/health status,
// distinguishing a package that has never successfully connected
// ("unavailable") from one that connected before but is now failing its
// live probe ("error").
func (h *Handlers) checkOnePackage(ctx context.Context, p gwconfig.Package) PackageHealth {
	if p.Disabled {
		return PackageHealth{PackageID: p.ID, Status: "disabled"}
	}

	status, _, _ := h.Registry.Status(p.ID)
	client, err := h.Registry.GetClient(ctx, p.ID)
	if err != nil {
		ph := PackageHealth{PackageID: p.ID, Error: err.Error()}
		switch {
		case errors.Is(err, upstream.ErrNeedsAuth), errors.Is(err, upstream.ErrClientIDMismatch):
			ph.Status, ph.NeedsAuth = "auth_required", true
		case status == registry.StatusConnected:
			ph.Status = "error"
		default:
			ph.Status = "unavailable"
		}
		return ph
	}

	health := client.HealthCheck(ctx)
	ph := PackageHealth{PackageID: p.ID, NeedsAuth: health.NeedsAuth, Error: health.Error}
	switch {
	case health.OK:
		ph.Status = "ok"
	case health.NeedsAuth:
		ph.Status = "auth_required"
	default:
		ph.Status = "error"
	}
	return ph
}

func classifyCatalogErr(pkgID string, err error) *ToolError {
	if errors.Is(err, upstream.ErrNeedsAuth) || errors.Is(err, upstream.ErrClientIDMismatch) {
		return newErr(CodeAuthRequired, "package %q requires authentication: %v", pkgID, err)
	}
	return newErr(CodePackageUnavailable, "package %q is unavailable: %v", pkgID, err)
}

func classifyConnectErr(pkgID string, err error) *ToolError {
	if errors.Is(err, registry.ErrPackageNotFound) {
		return newErr(CodePackageNotFound, "no such package %q", pkgID)
	}
	if errors.Is(err, upstream.ErrNeedsAuth) || errors.Is(err, upstream.ErrClientIDMismatch) {
		return newErr(CodeAuthRequired, "package %q requires authentication: %v", pkgID, err)
	}
	return newErr(CodeDownstreamError, "call to package %q failed: %v", pkgID, err)
}

// classifyToolCallErr builds use_tool's DOWNSTREAM_ERROR for a failed
// client.CallTool: a multi-line diagnostic that classifies the failure by
// substring, and always lists the package, tool, duration, and the names
// (never the values) of the arguments the caller provided.
func classifyToolCallErr(pkgID, toolName string, args map[string]any, durationMS int64, err error) *ToolError {
	if errors.Is(err, upstream.ErrNeedsAuth) || errors.Is(err, upstream.ErrClientIDMismatch) {
		return newErr(CodeAuthRequired, "package %q requires authentication: %v", pkgID, err)
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	diagnostic := fmt.Sprintf(
		"tool call failed (%s)\npackage: %s\ntool: %s\nduration_ms: %d\nargument keys: %s\nerror: %v",
		classifyFailureReason(err), pkgID, toolName, durationMS, strings.Join(keys, ", "), err)
	return newErr(CodeDownstreamError, "%s", diagnostic)
}

// classifyFailureReason buckets a downstream error by message substring so a
// caller can branch without string-matching the full diagnostic itself.
func classifyFailureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized"):
		return "401/403"
	case strings.Contains(msg, "permission") || strings.Contains(msg, "forbidden"):
		return "permission"
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return "not found"
	default:
		return "other"
	}
}
