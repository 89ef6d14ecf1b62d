// Package oauth keeps the bot's Twitch user token fresh. The token lives in the oauth_tokens
// table; a jittered loop refreshes it when its expiry falls within a configured window.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TokenStore persists provider tokens. db.TokenStoreAdapter implements it over oauth_tokens.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// RefreshFunc exchanges a refresh token for a new token and its scope.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, string, error)

// StartRefresher launches a goroutine that periodically checks the provider's token and
// refreshes it when the remaining lifetime is at most window.
func StartRefresher(ctx context.Context, store TokenStore, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	log := slog.Default().With(slog.String("component", "oauth_refresher"), slog.String("provider", provider))
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			if _, err := RefreshOnce(ctx, store, provider, window, fn); err != nil {
				log.Warn("token refresh failed", slog.Any("err", err))
			}
			// Per-iteration jitter of +-20% of interval.
			jitterRange := int64(interval/5) + 1
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			nextSleep := interval + time.Duration(rand.Int63n(jitterRange*2)-jitterRange)
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

// RefreshOnce refreshes the provider's token when it expires within window. It reports
// whether a new token was stored.
func RefreshOnce(ctx context.Context, store TokenStore, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	_, rt, exp, scope, err := store.GetOAuthToken(ctx, provider)
	if err != nil {
		return false, err
	}
	if rt == "" || time.Until(exp) > window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	tok, newScope, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		return false, err
	}
	newRT := tok.RefreshToken
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := store.UpsertOAuthToken(ctx, provider, tok.AccessToken, newRT, tok.Expiry, strings.TrimSpace(newScope)); err != nil {
		return false, err
	}
	slog.Info("token refreshed", slog.String("component", "oauth_refresher"), slog.String("provider", provider))
	return true, nil
}
