// Package registry owns the one live [upstream.Client] per configured
// package: lazy connection on first use, health-checked reuse, in-flight
// connect deduplication, and an eager-connect pass run at startup so most
// packages are already warm before the first tool call arrives.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/mcp-gateway/internal/gwconfig"
	"github.com/MrWong99/mcp-gateway/internal/upstream"
)

// Status is the connection lifecycle state of a single package, surfaced to
// clients via list_tool_packages and health_check_all.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusAuthRequired Status = "auth_required"
	StatusError        Status = "error"
	StatusDisabled     Status = "disabled"
)

// ErrPackageNotFound is returned when a pkgID is not present in the
// registry's configured package set.
var ErrPackageNotFound = errors.New("registry: package not found")

// eagerMaxAttempts and eagerRetryDelay bound the startup eager-connect pass:
// a package that fails for a reason that looks permanent (auth required, or
// a stdio command that cannot be found or executed) is not worth retrying
// five times, so those classes of error bypass the retry loop entirely.
const (
	eagerMaxAttempts = 5
	eagerRetryDelay  = 10 * time.Second
)

// entry is the registry's bookkeeping for one configured package.
type entry struct {
	pkg gwconfig.Package

	mu        sync.Mutex
	client    upstream.Client
	status    Status
	lastError string
}

// Registry holds the single live upstream client per configured package.
type Registry struct {
	oauthSource upstream.OAuthTokenSource

	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string // preserves configured package order for listings
	newClient func(gwconfig.Package) upstream.Client

	sf singleflight.Group
}

// New builds a Registry over packages. oauthSource may be nil if no package
// in the set uses oauth.
func New(packages []gwconfig.Package, oauthSource upstream.OAuthTokenSource) *Registry {
	r := &Registry{
		oauthSource: oauthSource,
		entries:     make(map[string]*entry, len(packages)),
	}
	r.newClient = r.buildClient
	for _, p := range packages {
		r.entries[p.ID] = &entry{pkg: p, status: StatusDisconnected}
		r.order = append(r.order, p.ID)
	}
	return r
}

// NewWithFactory builds a Registry like New but substitutes newClient for
// the real stdio/HTTP client construction, so tests can exercise the
// registry's connect/reconnect/eager-connect/singleflight logic against a
// fake upstream.Client without spawning a process or making a network call.
func NewWithFactory(packages []gwconfig.Package, oauthSource upstream.OAuthTokenSource, newClient func(gwconfig.Package) upstream.Client) *Registry {
	r := New(packages, oauthSource)
	r.newClient = newClient
	return r
}

// Packages returns the configured packages in their original order.
func (r *Registry) Packages() []gwconfig.Package {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]gwconfig.Package, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].pkg)
	}
	return out
}

// Package returns the configured record for pkgID.
func (r *Registry) Package(pkgID string) (gwconfig.Package, bool) {
	r.mu.RLock()
	e, ok := r.entries[pkgID]
	r.mu.RUnlock()
	if !ok {
		return gwconfig.Package{}, false
	}
	return e.pkg, true
}

// Status returns pkgID's current connection status and last error message,
// if any.
func (r *Registry) Status(pkgID string) (Status, string, error) {
	e, err := r.entryFor(pkgID)
	if err != nil {
		return "", "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.lastError, nil
}

func (r *Registry) entryFor(pkgID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[pkgID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPackageNotFound, pkgID)
	}
	return e, nil
}

// buildClient allocates a fresh, not-yet-connected upstream client for pkg.
// Always allocating a new instance (rather than reusing one across
// reconnects) honors upstream.HTTPClient's single-connect invariant.
func (r *Registry) buildClient(pkg gwconfig.Package) upstream.Client {
	switch pkg.Transport {
	case gwconfig.TransportStdio:
		return upstream.NewStdioClient(pkg.ID, pkg.Command, pkg.Args, pkg.Env, pkg.Cwd)
	default:
		kind := "streamable"
		if pkg.HTTPKind == gwconfig.HTTPKindSSE {
			kind = "sse"
		}
		return upstream.NewHTTPClient(pkg.ID, pkg.BaseURL, kind, pkg.ExtraHeaders, pkg.OAuth, r.oauthSource)
	}
}

// GetClient implements the gateway's get_client algorithm: return the live,
// healthy client for pkgID, connecting (or reconnecting) it if necessary.
// Concurrent callers for the same pkgID share a single in-flight connect via
// singleflight.
func (r *Registry) GetClient(ctx context.Context, pkgID string) (upstream.Client, error) {
	e, err := r.entryFor(pkgID)
	if err != nil {
		return nil, err
	}
	if e.pkg.Disabled {
		return nil, fmt.Errorf("registry: package %q is disabled", pkgID)
	}

	e.mu.Lock()
	client := e.client
	status := e.status
	e.mu.Unlock()

	if client != nil && status == StatusConnected {
		if client.HealthCheck(ctx).OK {
			return client, nil
		}
		// Unhealthy: mark it stale so connect replaces it with a fresh client.
		e.mu.Lock()
		if e.client == client {
			e.status = StatusDisconnected
		}
		e.mu.Unlock()
	}

	v, err, _ := r.sf.Do(pkgID, func() (any, error) {
		return r.connect(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return v.(upstream.Client), nil
}

// connect performs a single connect attempt for e, replacing any prior
// client. Callers must hold no lock; connect takes e.mu itself.
func (r *Registry) connect(ctx context.Context, e *entry) (upstream.Client, error) {
	e.mu.Lock()
	// Another singleflight caller (or eager-connect) may have already
	// completed a connect while we queued for e.mu.
	if e.client != nil && e.status == StatusConnected {
		c := e.client
		e.mu.Unlock()
		return c, nil
	}
	old := e.client
	e.status = StatusConnecting
	e.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	client := r.newClient(e.pkg)
	err := client.Connect(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case err == nil:
		e.client = client
		e.status = StatusConnected
		e.lastError = ""
		return client, nil
	case errors.Is(err, upstream.ErrNeedsAuth), errors.Is(err, upstream.ErrClientIDMismatch):
		e.client = nil
		e.status = StatusAuthRequired
		e.lastError = err.Error()
		return nil, err
	default:
		e.client = nil
		e.status = StatusError
		e.lastError = err.Error()
		return nil, err
	}
}

// Reconnect discards any existing client for pkgID and forces a fresh
// connect attempt, used after an authenticate flow completes so the next
// call picks up the newly persisted token.
func (r *Registry) Reconnect(ctx context.Context, pkgID string) (upstream.Client, error) {
	e, err := r.entryFor(pkgID)
	if err != nil {
		return nil, err
	}
	v, err, _ := r.sf.Do(pkgID+":reconnect", func() (any, error) {
		// Drop the connected status so connect closes the old client and
		// builds a new one instead of returning it.
		e.mu.Lock()
		e.status = StatusDisconnected
		e.mu.Unlock()
		return r.connect(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return v.(upstream.Client), nil
}

// EagerConnect attempts to connect every enabled package concurrently at
// startup, retrying transient failures up to eagerMaxAttempts times with
// eagerRetryDelay between attempts. Errors classified as NeedsAuth are not
// retried — they are an expected steady state, not a transient failure —
// and neither is a stdio command that cannot be found or executed.
// EagerConnect never itself returns an error: a package that never comes up
// stays in its last-observed status for health_check_all to report.
func (r *Registry) EagerConnect(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, pkgID := range r.order {
		pkgID := pkgID
		g.Go(func() error {
			r.eagerConnectOne(ctx, pkgID)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) eagerConnectOne(ctx context.Context, pkgID string) {
	e, err := r.entryFor(pkgID)
	if err != nil || e.pkg.Disabled {
		return
	}

	for attempt := 1; attempt <= eagerMaxAttempts; attempt++ {
		_, err := r.connect(ctx, e)
		if err == nil {
			return
		}
		if errors.Is(err, upstream.ErrNeedsAuth) || errors.Is(err, upstream.ErrClientIDMismatch) {
			slog.Info("registry: eager connect deferred, package requires authentication", "package", pkgID)
			return
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			slog.Warn("registry: eager connect not retried, command cannot be run", "package", pkgID, "error", err)
			return
		}
		if attempt == eagerMaxAttempts {
			slog.Warn("registry: eager connect exhausted retries", "package", pkgID, "attempts", attempt, "error", err)
			return
		}
		slog.Warn("registry: eager connect attempt failed, retrying", "package", pkgID, "attempt", attempt, "error", err)
		select {
		case <-time.After(eagerRetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

// CloseAll closes every live client, used during graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		e := r.entries[id]
		e.mu.Lock()
		client := e.client
		e.client = nil
		e.status = StatusDisconnected
		e.mu.Unlock()
		if client != nil {
			if err := client.Close(); err != nil {
				slog.Warn("registry: error closing upstream client", "package", id, "error", err)
			}
		}
	}
}
