package oauthflow

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// generateState returns a random, URL-safe state parameter used to link an
// authorization callback back to the flow that started it and to prevent
// CSRF. PKCE code verifier/challenge generation itself is delegated to
// golang.org/x/oauth2 (oauth2.GenerateVerifier, oauth2.S256ChallengeOption).
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauthflow: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
