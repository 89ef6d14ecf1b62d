package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/srteclados/clackbot/platform"
	"github.com/srteclados/clackbot/telemetry"
)

// Message is an inbound chat line.
type Message struct {
	ID          string
	Channel     string
	UserID      string
	UserName    string
	DisplayName string
	Text        string
}

// Platform converts m for the command dispatcher. Chatters are identified by display name.
func (m Message) Platform() platform.Message {
	name := m.DisplayName
	if name == "" {
		name = m.UserName
	}
	return platform.Message{
		ID:          m.ID,
		ChannelID:   m.Channel,
		ChannelName: m.Channel,
		AuthorID:    m.UserID,
		AuthorName:  name,
		Content:     m.Text,
	}
}

// Handler receives chat messages. Each message is handled on its own goroutine.
type Handler func(ctx context.Context, msg Message)

// TokenStore reads the persisted bot token; db.TokenStoreAdapter implements it.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
}

// ircConn is the subset of *twitch.Client used here.
type ircConn interface {
	Say(channel, text string)
	Join(channels ...string)
	Connect() error
	Disconnect() error
	OnPrivateMessage(func(twitch.PrivateMessage))
}

// ResolveToken returns envToken when set, otherwise the stored "twitch" token. The result
// carries the "oauth:" prefix IRC expects.
func ResolveToken(ctx context.Context, envToken string, store TokenStore) (string, error) {
	tok := strings.TrimSpace(envToken)
	if tok == "" && store != nil {
		access, _, _, _, err := store.GetOAuthToken(ctx, "twitch")
		if err != nil {
			return "", fmt.Errorf("load stored twitch token: %w", err)
		}
		tok = access
	}
	if tok == "" {
		return "", errors.New("no twitch chat token: set TWITCH_OAUTH_TOKEN or store one for provider twitch")
	}
	if !strings.HasPrefix(tok, "oauth:") {
		tok = "oauth:" + tok
	}
	return tok, nil
}

// Client is a Twitch chat connection bound to one channel.
type Client struct {
	conn    ircConn
	channel string
	handler Handler
	log     *slog.Logger
}

// NewClient builds an IRC client for username; Run connects it.
func NewClient(username, token, channel string) *Client {
	return newClient(twitch.NewClient(username, token), channel)
}

func newClient(conn ircConn, channel string) *Client {
	return &Client{
		conn:    conn,
		channel: strings.ToLower(channel),
		log:     slog.Default().With(slog.String("component", "twitch_chat")),
	}
}

// Channel returns the joined channel.
func (c *Client) Channel() string { return c.channel }

// OnMessage sets the handler for inbound messages. Call it before Run.
func (c *Client) OnMessage(h Handler) { c.handler = h }

// Run joins the channel and blocks until ctx is cancelled or the connection fails.
func (c *Client) Run(ctx context.Context) error {
	c.conn.OnPrivateMessage(func(pm twitch.PrivateMessage) {
		if c.handler == nil {
			return
		}
		msg := Message{
			ID:          pm.ID,
			Channel:     pm.Channel,
			UserID:      pm.User.ID,
			UserName:    pm.User.Name,
			DisplayName: pm.User.DisplayName,
			Text:        pm.Message,
		}
		go func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("chat handler panic", slog.Any("panic", r))
				}
			}()
			mctx := telemetry.WithCorrelation(ctx, pm.ID)
			c.handler(mctx, msg)
		}()
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := c.conn.Disconnect(); err != nil {
				c.log.Debug("twitch chat disconnect", slog.Any("err", err))
			}
		case <-done:
		}
	}()

	c.conn.Join(c.channel)
	c.log.Info("twitch chat connecting", slog.String("channel", c.channel))
	err := c.conn.Connect()
	if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("twitch chat connect: %w", err)
	}
	return nil
}

// Say sends text to channel, or to the joined channel when channel is empty.
func (c *Client) Say(ctx context.Context, channel, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if channel == "" {
		channel = c.channel
	}
	c.conn.Say(strings.ToLower(channel), text)
	return nil
}

// Action sends text as a "/me" action.
func (c *Client) Action(ctx context.Context, channel, text string) error {
	return c.Say(ctx, channel, "/me "+text)
}
