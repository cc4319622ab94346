// Package oauthflow implements the gateway's authorization-code-with-PKCE
// OAuth flow for upstream MCP servers: a single shared loopback callback
// listener, a process-wide lock serializing authorizations, dynamic client
// registration where the upstream supports it, and on-disk token
// persistence with transparent refresh.
package oauthflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// flowTimeout bounds how long the gateway waits for the user to complete
// the browser consent screen and the callback to land before abandoning the
// flow and releasing the global lock.
const flowTimeout = 5 * time.Minute

// Status is the lifecycle state of a package's authorization attempt.
type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Manager drives authorization flows for every OAuth-enabled package and
// implements upstream.OAuthTokenSource so upstream.HTTPClient can transparently
// attach a valid bearer token.
type Manager struct {
	store      *Store
	lock       *globalLock
	httpClient *http.Client

	mu       sync.Mutex
	statuses map[string]Status
	errs     map[string]string
}

// NewManager opens the token store rooted at stateDir and migrates any
// legacy tokens found under legacyStateDir/oauth-tokens (pass "" to skip
// migration).
func NewManager(stateDir, legacyStateDir string) (*Manager, error) {
	store, err := NewStore(stateDir)
	if err != nil {
		return nil, err
	}
	if legacyStateDir != "" {
		store.MigrateLegacyDir(filepath.Join(legacyStateDir, "oauth-tokens"))
	}
	return &Manager{
		store:      store,
		lock:       newGlobalLock(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		statuses:   make(map[string]Status),
		errs:       make(map[string]string),
	}, nil
}

// HTTPClient implements upstream.OAuthTokenSource. It returns nil (not an
// error) when no token has ever been persisted for pkgID, so the caller
// falls back to a plain connect attempt.
func (m *Manager) HTTPClient(ctx context.Context, pkgID string) (*http.Client, error) {
	tok := m.store.GetToken(pkgID)
	if tok == nil {
		return nil, nil
	}
	cl := m.store.GetClient(pkgID)

	cfg := &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: ""}}
	if cl != nil {
		cfg.ClientID = cl.ClientID
		cfg.ClientSecret = cl.ClientSecret
		cfg.Endpoint.TokenURL = cl.TokenURL
		cfg.Endpoint.AuthURL = cl.AuthURL
	}

	base := tok.ToOAuth2Token()
	if !tok.IsExpired() || cfg.Endpoint.TokenURL == "" {
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(base)), nil
	}

	ts := cfg.TokenSource(ctx, base)
	refreshed, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("oauthflow: refresh token for %q: %w", pkgID, err)
	}
	if refreshed.AccessToken != base.AccessToken {
		if err := m.store.StoreToken(pkgID, refreshed, tok.Issuer); err != nil {
			slog.Warn("oauthflow: failed to persist refreshed token", "package", pkgID, "error", err)
		}
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(refreshed)), nil
}

// InvalidateAll implements upstream.OAuthTokenSource.
func (m *Manager) InvalidateAll(pkgID string) {
	if err := m.store.InvalidateScope(pkgID, "all"); err != nil {
		slog.Warn("oauthflow: invalidate all failed", "package", pkgID, "error", err)
	}
	m.setStatus(pkgID, StatusNone, "")
}

// Invalidate removes the requested scope ("all", "tokens", "client",
// "verifier") of persisted OAuth state for pkgID, per the authenticate
// meta-tool's invalidate action.
func (m *Manager) Invalidate(pkgID, scope string) error {
	return m.store.InvalidateScope(pkgID, scope)
}

// IsAuthenticated reports whether a non-expired (or refreshable) token is
// currently persisted for pkgID.
func (m *Manager) IsAuthenticated(pkgID string) bool {
	tok := m.store.GetToken(pkgID)
	return tok != nil && (!tok.IsExpired() || tok.RefreshToken != "")
}

// Status returns the lifecycle state of pkgID's most recent authorization
// attempt, and any error message recorded for a failed/timed-out attempt.
func (m *Manager) Status(pkgID string) (Status, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[pkgID], m.errs[pkgID]
}

func (m *Manager) setStatus(pkgID string, s Status, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[pkgID] = s
	m.errs[pkgID] = errMsg
}

// StartAuthorization begins a new authorization-code-with-PKCE flow for
// pkgID against baseURL and returns the URL the user must open in a
// browser. The token exchange itself happens asynchronously once the
// loopback callback receives the redirect; poll [Manager.Status] for
// completion. Only one flow runs at a time across the whole gateway: a
// second call blocks (up to maxWaitTime) behind the global lock.
func (m *Manager) StartAuthorization(ctx context.Context, pkgID, baseURL string, scopes []string) (authURL string, err error) {
	release, err := m.lock.acquire(ctx)
	if err != nil {
		return "", err
	}

	ep, err := discoverEndpoints(ctx, m.httpClient, baseURL)
	if err != nil {
		release()
		return "", fmt.Errorf("oauthflow: discover endpoints for %q: %w", pkgID, err)
	}

	redirectURI := fmt.Sprintf("http://127.0.0.1:%d%s", callbackPort, callbackPath)

	cl := m.store.GetClient(pkgID)
	if cl == nil {
		if ep.RegistrationEndpoint == "" {
			release()
			return "", fmt.Errorf("oauthflow: %q's authorization server does not support dynamic client registration and no client_id is configured", pkgID)
		}
		registered, err := registerClient(ctx, m.httpClient, ep, redirectURI)
		if err != nil {
			release()
			return "", fmt.Errorf("oauthflow: register client for %q: %w", pkgID, err)
		}
		registered.AuthURL = ep.AuthorizationEndpoint
		registered.TokenURL = ep.TokenEndpoint
		if err := m.store.StoreClient(pkgID, registered); err != nil {
			release()
			return "", err
		}
		cl = registered
	}

	cfg := &oauth2.Config{
		ClientID:     cl.ClientID,
		ClientSecret: cl.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: cl.AuthURL, TokenURL: cl.TokenURL},
		RedirectURL:  redirectURI,
		Scopes:       scopes,
	}

	state, err := generateState()
	if err != nil {
		release()
		return "", err
	}
	verifier := oauth2.GenerateVerifier()
	m.store.PutVerifier(pkgID, verifier)

	srv := getSharedCallbackServer()
	resultCh, cleanup, err := srv.register(state)
	if err != nil {
		release()
		return "", err
	}

	m.setStatus(pkgID, StatusPending, "")
	authURL = cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	go m.awaitCallback(pkgID, cfg, resultCh, cleanup, release)

	return authURL, nil
}

func (m *Manager) awaitCallback(pkgID string, cfg *oauth2.Config, resultCh <-chan callbackResult, cleanup func(), release func()) {
	defer cleanup()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), flowTimeout)
	defer cancel()

	select {
	case res := <-resultCh:
		m.finish(ctx, pkgID, cfg, res)
	case <-ctx.Done():
		m.setStatus(pkgID, StatusTimedOut, "no authorization callback received within the allotted time")
	}
}

func (m *Manager) finish(ctx context.Context, pkgID string, cfg *oauth2.Config, res callbackResult) {
	if res.err != "" {
		msg := res.err
		if res.errorDescription != "" {
			msg += ": " + res.errorDescription
		}
		m.setStatus(pkgID, StatusFailed, msg)
		return
	}

	verifier, ok := m.store.TakeVerifier(pkgID)
	if !ok {
		m.setStatus(pkgID, StatusFailed, "no in-flight PKCE verifier found for this package")
		return
	}

	tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		m.setStatus(pkgID, StatusFailed, fmt.Sprintf("token exchange failed: %v", err))
		return
	}

	if err := m.store.StoreToken(pkgID, tok, cfg.Endpoint.TokenURL); err != nil {
		m.setStatus(pkgID, StatusFailed, fmt.Sprintf("failed to persist token: %v", err))
		return
	}
	m.setStatus(pkgID, StatusComplete, "")
}
