package db

import (
	"context"
	"testing"
	"time"
)

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE provider = 'twitch-test'`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	access, _, _, _, err := GetOAuthToken(ctx, db, "twitch-test")
	if err != nil || access != "" {
		t.Fatalf("GetOAuthToken() on empty table = %q, %v; want empty, nil", access, err)
	}

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	store := &TokenStoreAdapter{DB: db}
	if err := store.UpsertOAuthToken(ctx, "twitch-test", "a1", "r1", exp, "chat:read chat:edit"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertOAuthToken(ctx, "twitch-test", "a2", "r2", exp, "chat:read chat:edit"); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	access, refresh, gotExp, scope, err := store.GetOAuthToken(ctx, "twitch-test")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "a2" || refresh != "r2" {
		t.Errorf("tokens = %q/%q, want a2/r2", access, refresh)
	}
	if !gotExp.Equal(exp) {
		t.Errorf("expiry = %v, want %v", gotExp, exp)
	}
	if scope != "chat:read chat:edit" {
		t.Errorf("scope = %q", scope)
	}
}
