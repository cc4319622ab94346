package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// endpoints is the subset of RFC 8414 authorization server metadata (or its
// OpenID Connect Discovery equivalent) the gateway needs to drive an
// authorization-code-with-PKCE flow and, optionally, RFC 7591 dynamic client
// registration.
type endpoints struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	RegistrationEndpoint  string // empty when the server doesn't support RFC 7591
}

// discoverEndpoints probes the two well-known metadata documents MCP
// upstreams commonly expose, preferring the OAuth-specific document. It
// falls back to "<baseURL>/authorize" and "<baseURL>/token" when neither
// document is served, matching how minimal MCP servers that don't implement
// discovery are typically configured.
func discoverEndpoints(ctx context.Context, client *http.Client, baseURL string) (*endpoints, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("oauthflow: parse base url: %w", err)
	}
	origin := u.Scheme + "://" + u.Host

	for _, wellKnown := range []string{
		origin + "/.well-known/oauth-authorization-server",
		origin + "/.well-known/openid-configuration",
	} {
		if ep, ok := fetchMetadata(ctx, client, wellKnown); ok {
			return ep, nil
		}
	}

	return &endpoints{
		AuthorizationEndpoint: origin + "/authorize",
		TokenEndpoint:         origin + "/token",
	}, nil
}

func fetchMetadata(ctx context.Context, client *http.Client, docURL string) (*endpoints, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		return nil, false
	}

	var doc struct {
		AuthorizationEndpoint string `json:"authorization_endpoint"`
		TokenEndpoint         string `json:"token_endpoint"`
		RegistrationEndpoint  string `json:"registration_endpoint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, false
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, false
	}
	return &endpoints{
		AuthorizationEndpoint: doc.AuthorizationEndpoint,
		TokenEndpoint:         doc.TokenEndpoint,
		RegistrationEndpoint:  doc.RegistrationEndpoint,
	}, true
}

// registerClient performs RFC 7591 dynamic client registration against ep's
// RegistrationEndpoint. Callers must check ep.RegistrationEndpoint != ""
// first; upstreams that don't support it require a pre-provisioned
// client_id supplied out of band (not modeled here, matching SPEC_FULL.md's
// scope of public OAuth-enabled MCP servers).
func registerClient(ctx context.Context, client *http.Client, ep *endpoints, redirectURI string) (*StoredClient, error) {
	body, err := json.Marshal(map[string]any{
		"redirect_uris":              []string{redirectURI},
		"token_endpoint_auth_method": "none",
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"client_name":                "mcp-gateway",
	})
	if err != nil {
		return nil, fmt.Errorf("oauthflow: marshal registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.RegistrationEndpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("oauthflow: build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauthflow: dynamic client registration request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("oauthflow: dynamic client registration returned status %d", resp.StatusCode)
	}

	var doc struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("oauthflow: decode registration response: %w", err)
	}
	if doc.ClientID == "" {
		return nil, fmt.Errorf("oauthflow: registration response missing client_id")
	}
	return &StoredClient{ClientID: doc.ClientID, ClientSecret: doc.ClientSecret}, nil
}
