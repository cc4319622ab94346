package oauthflow_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/MrWong99/mcp-gateway/internal/oauthflow"
)

func TestStore_StoreAndGetToken(t *testing.T) {
	dir := t.TempDir()
	s, err := oauthflow.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	tok := &oauth2.Token{AccessToken: "abc123", RefreshToken: "ref", Expiry: time.Now().Add(time.Hour)}
	if err := s.StoreToken("demo", tok, "https://issuer.example"); err != nil {
		t.Fatalf("StoreToken: %v", err)
	}

	got := s.GetToken("demo")
	if got == nil || got.AccessToken != "abc123" {
		t.Fatalf("expected to read back the stored token, got %+v", got)
	}

	if info, err := os.Stat(filepath.Join(dir, "oauth-tokens", "demo.json")); err != nil {
		t.Fatalf("expected the token file to exist: %v", err)
	} else if info.Mode().Perm() != 0o600 {
		t.Errorf("expected token file mode 0600, got %v", info.Mode().Perm())
	}
}

func TestStore_ReloadsPersistedTokensOnOpen(t *testing.T) {
	dir := t.TempDir()
	s1, err := oauthflow.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s1.StoreToken("demo", &oauth2.Token{AccessToken: "xyz"}, ""); err != nil {
		t.Fatalf("StoreToken: %v", err)
	}

	s2, err := oauthflow.NewStore(dir)
	if err != nil {
		t.Fatalf("reopen NewStore: %v", err)
	}
	got := s2.GetToken("demo")
	if got == nil || got.AccessToken != "xyz" {
		t.Fatalf("expected the reopened store to see the persisted token, got %+v", got)
	}
}

func TestStore_InvalidateAllRemovesTokenAndClient(t *testing.T) {
	dir := t.TempDir()
	s, err := oauthflow.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.StoreToken("demo", &oauth2.Token{AccessToken: "abc"}, ""); err != nil {
		t.Fatalf("StoreToken: %v", err)
	}
	if err := s.StoreClient("demo", &oauthflow.StoredClient{ClientID: "cid"}); err != nil {
		t.Fatalf("StoreClient: %v", err)
	}

	if err := s.InvalidateScope("demo", "all"); err != nil {
		t.Fatalf("InvalidateScope: %v", err)
	}

	if s.GetToken("demo") != nil {
		t.Error("expected token to be gone after invalidating scope=all")
	}
	if s.GetClient("demo") != nil {
		t.Error("expected client registration to be gone after invalidating scope=all")
	}
}

func TestStore_InvalidateTokensOnlyKeepsClient(t *testing.T) {
	dir := t.TempDir()
	s, err := oauthflow.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.StoreToken("demo", &oauth2.Token{AccessToken: "abc"}, ""); err != nil {
		t.Fatalf("StoreToken: %v", err)
	}
	if err := s.StoreClient("demo", &oauthflow.StoredClient{ClientID: "cid"}); err != nil {
		t.Fatalf("StoreClient: %v", err)
	}

	if err := s.InvalidateScope("demo", "tokens"); err != nil {
		t.Fatalf("InvalidateScope: %v", err)
	}

	if s.GetToken("demo") != nil {
		t.Error("expected the token to be removed")
	}
	if s.GetClient("demo") == nil {
		t.Error("expected the client registration to survive a tokens-only invalidation")
	}
}

func TestStoredToken_IsExpiredHonorsBuffer(t *testing.T) {
	soon := &oauthflow.StoredToken{Expiry: time.Now().Add(30 * time.Second)}
	if !soon.IsExpired() {
		t.Error("expected a token expiring within the refresh buffer to report expired")
	}

	later := &oauthflow.StoredToken{Expiry: time.Now().Add(time.Hour)}
	if later.IsExpired() {
		t.Error("expected a token expiring well in the future to report not expired")
	}

	never := &oauthflow.StoredToken{}
	if never.IsExpired() {
		t.Error("a zero Expiry means the upstream never reported one; treat it as non-expiring")
	}
}

func TestStore_MigrateLegacyDirDoesNotOverwrite(t *testing.T) {
	legacy := t.TempDir()
	if err := os.WriteFile(filepath.Join(legacy, "demo.json"), []byte(`{"access_token":"legacy"}`), 0o600); err != nil {
		t.Fatalf("seed legacy file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(legacy, "kept.json"), []byte(`{"access_token":"legacy"}`), 0o600); err != nil {
		t.Fatalf("seed legacy file: %v", err)
	}

	dir := t.TempDir()
	s, err := oauthflow.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.StoreToken("kept", &oauth2.Token{AccessToken: "current"}, ""); err != nil {
		t.Fatalf("StoreToken: %v", err)
	}
	s.MigrateLegacyDir(legacy)

	got := s.GetToken("demo")
	if got == nil || got.AccessToken != "legacy" {
		t.Fatalf("expected the legacy token to be migrated, got %+v", got)
	}
	if kept := s.GetToken("kept"); kept == nil || kept.AccessToken != "current" {
		t.Fatalf("expected the existing token to survive migration, got %+v", kept)
	}
}
