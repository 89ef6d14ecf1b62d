package oauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/srteclados/clackbot/db"
	"github.com/srteclados/clackbot/testutil"
)

type storedToken struct {
	access, refresh, scope string
	expiry                 time.Time
}

type memTokens struct {
	mu   sync.Mutex
	rows map[string]storedToken
}

func newMemTokens(provider string, tok storedToken) *memTokens {
	return &memTokens{rows: map[string]storedToken{provider: tok}}
}

func (m *memTokens) GetOAuthToken(_ context.Context, provider string) (string, string, time.Time, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[provider]
	return r.access, r.refresh, r.expiry, r.scope, nil
}

func (m *memTokens) UpsertOAuthToken(_ context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[provider] = storedToken{access: access, refresh: refresh, scope: scope, expiry: expiry}
	return nil
}

func (m *memTokens) get(provider string) storedToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[provider]
}

func refreshTo(access, refresh, scope string, calls *int) RefreshFunc {
	return func(ctx context.Context, rt string) (*oauth2.Token, string, error) {
		*calls++
		return &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: time.Now().Add(4 * time.Hour)}, scope, nil
	}
}

func TestRefreshOnceOutsideWindow(t *testing.T) {
	store := newMemTokens("twitch", storedToken{access: "a", refresh: "r", expiry: time.Now().Add(time.Hour)})
	calls := 0
	refreshed, err := RefreshOnce(context.Background(), store, "twitch", 30*time.Minute, refreshTo("new", "", "", &calls))
	if err != nil || refreshed {
		t.Fatalf("RefreshOnce() = %v, %v; want false, nil", refreshed, err)
	}
	if calls != 0 {
		t.Errorf("refresh called %d times, want 0", calls)
	}
}

func TestRefreshOnceWithinWindow(t *testing.T) {
	store := newMemTokens("twitch", storedToken{access: "old", refresh: "old-refresh", scope: "chat:read", expiry: time.Now().Add(5 * time.Minute)})
	calls := 0
	refreshed, err := RefreshOnce(context.Background(), store, "twitch", 15*time.Minute, refreshTo("new-access", "new-refresh", "chat:read chat:edit", &calls))
	if err != nil || !refreshed {
		t.Fatalf("RefreshOnce() = %v, %v; want true, nil", refreshed, err)
	}
	got := store.get("twitch")
	if got.access != "new-access" || got.refresh != "new-refresh" || got.scope != "chat:read chat:edit" {
		t.Errorf("stored = %+v", got)
	}
}

func TestRefreshOncePreservesRefreshTokenAndScope(t *testing.T) {
	store := newMemTokens("twitch", storedToken{access: "old", refresh: "keep-me", scope: "chat:read", expiry: time.Now().Add(time.Minute)})
	calls := 0
	if _, err := RefreshOnce(context.Background(), store, "twitch", 15*time.Minute, refreshTo("new-access", "", "", &calls)); err != nil {
		t.Fatal(err)
	}
	got := store.get("twitch")
	if got.refresh != "keep-me" || got.scope != "chat:read" {
		t.Errorf("stored = %+v, want refresh token and scope preserved", got)
	}
}

func TestRefreshOnceNoRefreshToken(t *testing.T) {
	store := newMemTokens("twitch", storedToken{access: "a", expiry: time.Now().Add(time.Minute)})
	calls := 0
	if refreshed, _ := RefreshOnce(context.Background(), store, "twitch", 15*time.Minute, refreshTo("x", "", "", &calls)); refreshed || calls != 0 {
		t.Errorf("refreshed = %v, calls = %d; want no refresh without a refresh token", refreshed, calls)
	}
}

func TestRefreshOnceError(t *testing.T) {
	store := newMemTokens("twitch", storedToken{access: "old", refresh: "r", expiry: time.Now().Add(time.Minute)})
	fail := func(context.Context, string) (*oauth2.Token, string, error) { return nil, "", errors.New("refresh failed") }
	if _, err := RefreshOnce(context.Background(), store, "twitch", 15*time.Minute, fail); err == nil {
		t.Fatal("expected error")
	}
	if got := store.get("twitch"); got.access != "old" {
		t.Errorf("token updated on error: %+v", got)
	}
}

func TestStartRefresherCancellation(t *testing.T) {
	store := newMemTokens("twitch", storedToken{})
	ctx, cancel := context.WithCancel(context.Background())
	StartRefresher(ctx, store, "twitch", time.Hour, time.Minute, nil)
	cancel()
	// The goroutine exits on cancellation before the first check, so a nil fn is never called.
	time.Sleep(10 * time.Millisecond)
}

func TestStartRefresherPostgres(t *testing.T) {
	sqldb := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := &db.TokenStoreAdapter{DB: sqldb}
	if err := store.UpsertOAuthToken(ctx, "twitch", "old-access", "old-refresh", time.Now().Add(5*time.Minute), "chat:read"); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{}, 1)
	fn := func(ctx context.Context, rt string) (*oauth2.Token, string, error) {
		if rt != "old-refresh" {
			t.Errorf("refresh called with %s, want old-refresh", rt)
		}
		select {
		case done <- struct{}{}:
		default:
		}
		return &oauth2.Token{AccessToken: "new-access", RefreshToken: "new-refresh", Expiry: time.Now().Add(4 * time.Hour)}, "", nil
	}
	runCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	StartRefresher(runCtx, store, "twitch", 100*time.Millisecond, 15*time.Minute, fn)

	select {
	case <-done:
	case <-runCtx.Done():
		t.Fatal("refresh never ran")
	}
	// Wait for the upsert after the callback.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		access, _, _, scope, err := db.GetOAuthToken(ctx, sqldb, "twitch")
		if err != nil {
			t.Fatal(err)
		}
		if access == "new-access" {
			if scope != "chat:read" {
				t.Errorf("scope = %q, want preserved chat:read", scope)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("token not updated in database")
}
