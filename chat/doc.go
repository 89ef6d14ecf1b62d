// Package chat connects the bot to Twitch chat over IRC.
//
// Client joins TWITCH_CHANNEL, forwards every chat message to a handler (the bot command
// dispatcher) and sends replies and "/me" actions back to the channel.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes. If TWITCH_OAUTH_TOKEN is not provided, the
// package will try to reuse a stored token from the oauth_tokens table for
// provider "twitch".
package chat
