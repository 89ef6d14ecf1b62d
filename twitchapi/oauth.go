package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// UserOAuthConfig returns the oauth2 config for the bot's user token. tokenURL overrides the
// Twitch endpoint when non-empty. Twitch reads the client secret from the form body only.
func UserOAuthConfig(clientID, clientSecret, tokenURL string) *oauth2.Config {
	endpoint := twitch.Endpoint
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if tokenURL != "" {
		endpoint.TokenURL = tokenURL
	}
	return &oauth2.Config{ClientID: clientID, ClientSecret: clientSecret, Endpoint: endpoint}
}

// RefreshUserToken exchanges a refresh token for a new user access token.
func RefreshUserToken(ctx context.Context, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("twitch refresh: %w", err)
	}
	return tok, nil
}

// TokenScope flattens the scope list Twitch returns alongside a token.
func TokenScope(tok *oauth2.Token) string {
	switch v := tok.Extra("scope").(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}
