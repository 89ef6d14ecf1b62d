package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestUserOAuthConfig(t *testing.T) {
	cfg := UserOAuthConfig("id", "secret", "")
	if cfg.Endpoint.TokenURL != "https://id.twitch.tv/oauth2/token" {
		t.Errorf("TokenURL = %s, want the twitch endpoint", cfg.Endpoint.TokenURL)
	}
	if cfg.Endpoint.AuthStyle != oauth2.AuthStyleInParams {
		t.Errorf("AuthStyle = %v, want AuthStyleInParams", cfg.Endpoint.AuthStyle)
	}
	if got := UserOAuthConfig("id", "secret", "http://local/token").Endpoint.TokenURL; got != "http://local/token" {
		t.Errorf("TokenURL override = %s", got)
	}
}

func TestRefreshUserToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "old-refresh" {
			t.Errorf("form = %v", r.Form)
		}
		if r.Form.Get("client_secret") != "secret" {
			t.Errorf("client_secret not sent in params")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    14400,
			"token_type":    "bearer",
			"scope":         []string{"chat:read", "chat:edit"},
		})
	}))
	defer server.Close()

	tok, err := RefreshUserToken(context.Background(), UserOAuthConfig("id", "secret", server.URL), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshUserToken() error = %v", err)
	}
	if tok.AccessToken != "new-access" || tok.RefreshToken != "new-refresh" {
		t.Errorf("token = %+v", tok)
	}
	if until := time.Until(tok.Expiry); until < 3*time.Hour || until > 5*time.Hour {
		t.Errorf("expiry in %v, want about 4h", until)
	}
	if got := TokenScope(tok); got != "chat:read chat:edit" {
		t.Errorf("TokenScope() = %q", got)
	}
}

func TestRefreshUserTokenMissingParams(t *testing.T) {
	if _, err := RefreshUserToken(context.Background(), UserOAuthConfig("", "", ""), "r"); err == nil {
		t.Error("expected error without client credentials")
	}
	if _, err := RefreshUserToken(context.Background(), UserOAuthConfig("id", "secret", ""), ""); err == nil {
		t.Error("expected error without refresh token")
	}
}

func TestRefreshUserTokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":400,"message":"Invalid refresh token"}`))
	}))
	defer server.Close()
	if _, err := RefreshUserToken(context.Background(), UserOAuthConfig("id", "secret", server.URL), "bad"); err == nil {
		t.Error("expected error for rejected refresh")
	}
}
