// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user id resolution and live status, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const helixBaseURL = "https://api.twitch.tv/helix"

// helixMaxRetries bounds the attempts per request for 429 and 5xx responses.
const helixMaxRetries = 3

// helixRetryDelay is the base backoff between retries; tests shorten it.
var helixRetryDelay = 500 * time.Millisecond

// HelixClient provides the Helix calls the bot needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// BaseURL overrides the Helix endpoint.
	BaseURL string
}

// Stream is a live broadcast as reported by GET /helix/streams.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	GameName    string    `json:"game_name"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return helixBaseURL
}

// get performs a GET against path with retries. A 401 invalidates the cached app token and
// retries once with a fresh one.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	refreshed := false
	for attempt := 1; ; attempt++ {
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+path+"?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			return err
		}
		status := resp.StatusCode
		if status == http.StatusOK {
			err := json.NewDecoder(resp.Body).Decode(out)
			closeBody(resp)
			return err
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		closeBody(resp)

		switch {
		case status == http.StatusUnauthorized && !refreshed:
			refreshed = true
			hc.AppTokenSource.Invalidate()
			continue
		case (status == http.StatusTooManyRequests || status >= 500) && attempt < helixMaxRetries:
			slog.Warn("helix request retry", slog.String("component", "twitchapi"), slog.String("path", path), slog.Int("status", status), slog.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * helixRetryDelay):
			}
			continue
		}
		return fmt.Errorf("helix %s: %s: %s", path, resp.Status, string(body))
	}
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/users", url.Values{"login": {login}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// GetStreams lists the live streams of the given logins. Offline channels are absent.
func (hc *HelixClient) GetStreams(ctx context.Context, logins ...string) ([]Stream, error) {
	if len(logins) == 0 {
		return nil, fmt.Errorf("no logins")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/streams", url.Values{"user_login": logins}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetCurrentStream returns the live stream of channel, or nil when it is offline.
func (hc *HelixClient) GetCurrentStream(ctx context.Context, channel string) (*Stream, error) {
	streams, err := hc.GetStreams(ctx, channel)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return &streams[0], nil
}
