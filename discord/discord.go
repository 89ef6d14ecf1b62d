// Package discord adapts a disgo gateway client to the bot. It implements platform.Platform over
// the Discord REST API and turns guild gateway events into platform messages and reactions.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/srteclados/clackbot/platform"
)

// reactionPage is the maximum page size of the reactions endpoint.
const reactionPage = 100

// restAPI is the subset of rest.Rest the adapter calls.
type restAPI interface {
	GetGuildChannels(guildID snowflake.ID, opts ...rest.RequestOpt) ([]discord.GuildChannel, error)
	GetRoles(guildID snowflake.ID, opts ...rest.RequestOpt) ([]discord.Role, error)
	CreateMessage(channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt) (*discord.Message, error)
	GetMessage(channelID snowflake.ID, messageID snowflake.ID, opts ...rest.RequestOpt) (*discord.Message, error)
	AddReaction(channelID snowflake.ID, messageID snowflake.ID, emoji string, opts ...rest.RequestOpt) error
	RemoveUserReaction(channelID snowflake.ID, messageID snowflake.ID, emoji string, userID snowflake.ID, opts ...rest.RequestOpt) error
	GetReactions(channelID snowflake.ID, messageID snowflake.ID, emoji string, reactionType discord.MessageReactionType, after int, limit int, opts ...rest.RequestOpt) ([]discord.User, error)
}

// Client implements platform.Platform for one guild.
type Client struct {
	rest    restAPI
	guildID snowflake.ID
	selfID  snowflake.ID
	gateway bot.Client

	channels *xsync.MapOf[snowflake.ID, string]
	roles    *xsync.MapOf[snowflake.ID, string]
	log      *slog.Logger

	runCtx     context.Context
	onMessage  func(ctx context.Context, msg platform.Message)
	onReaction func(ctx context.Context, r platform.Reaction)
}

// New builds a client over api for guildID. selfID is the bot user, whose reactions are ignored.
func New(api restAPI, guildID, selfID snowflake.ID) *Client {
	return &Client{
		rest:     api,
		guildID:  guildID,
		selfID:   selfID,
		channels: xsync.NewMapOf[snowflake.ID, string](),
		roles:    xsync.NewMapOf[snowflake.ID, string](),
		log:      slog.Default().With(slog.String("component", "discord")),
		runCtx:   context.Background(),
	}
}

// Connect prepares a gateway client for guildID. Register handlers, then call Run.
func Connect(token, guildID string) (*Client, error) {
	gid, err := snowflake.Parse(guildID)
	if err != nil {
		return nil, fmt.Errorf("parse DISCORD_GUILD_ID: %w", err)
	}
	var c *Client
	gw, err := disgo.New(token,
		bot.WithGatewayConfigOpts(gateway.WithIntents(
			gateway.IntentGuilds,
			gateway.IntentGuildMessages,
			gateway.IntentGuildMessageReactions,
			gateway.IntentMessageContent,
		)),
		bot.WithEventManagerConfigOpts(bot.WithAsyncEventsEnabled()),
		bot.WithEventListeners(
			bot.NewListenerFunc(func(_ *events.Ready) {
				c.log.Info("discord gateway ready", slog.String("guild_id", guildID))
			}),
			bot.NewListenerFunc(func(e *events.GuildMessageCreate) {
				if c.onMessage == nil || e.GuildID != c.guildID {
					return
				}
				c.onMessage(c.runCtx, c.toMessage(c.runCtx, e.ChannelID, e.Message))
			}),
			bot.NewListenerFunc(func(e *events.GuildMessageReactionAdd) {
				if c.onReaction == nil || e.GuildID != c.guildID {
					return
				}
				if r, ok := c.toReaction(c.runCtx, e.ChannelID, e.MessageID, e.UserID, e.Emoji, e.Member.RoleIDs); ok {
					c.onReaction(c.runCtx, r)
				}
			}),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("discord client: %w", err)
	}
	c = New(gw.Rest(), gid, gw.ID())
	c.gateway = gw
	return c, nil
}

// OnMessage registers the guild message handler. Each event runs on its own goroutine.
func (c *Client) OnMessage(fn func(ctx context.Context, msg platform.Message)) { c.onMessage = fn }

// OnReaction registers the reaction-add handler. Reactions of the bot itself are not delivered.
func (c *Client) OnReaction(fn func(ctx context.Context, r platform.Reaction)) { c.onReaction = fn }

// Run opens the gateway and blocks until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	if c.gateway == nil {
		return errors.New("discord client has no gateway")
	}
	c.runCtx = ctx
	if err := c.gateway.OpenGateway(ctx); err != nil {
		return fmt.Errorf("discord gateway: %w", err)
	}
	<-ctx.Done()
	c.gateway.Close(context.WithoutCancel(ctx))
	return nil
}

// EmojiKey is the reaction identifier the REST API expects: the unicode emoji itself or
// name:id for a custom emoji.
func EmojiKey(e discord.PartialEmoji) string {
	name := ""
	if e.Name != nil {
		name = *e.Name
	}
	if e.ID == nil {
		return name
	}
	return name + ":" + e.ID.String()
}

// ReactionKey is EmojiKey for the emoji of a message reaction, where a zero ID marks a unicode emoji.
func ReactionKey(e discord.Emoji) string {
	if e.ID == 0 {
		return e.Name
	}
	return e.Name + ":" + e.ID.String()
}

func (c *Client) toMessage(ctx context.Context, channelID snowflake.ID, m discord.Message) platform.Message {
	return platform.Message{
		ID:          m.ID.String(),
		ChannelID:   channelID.String(),
		ChannelName: c.channelName(ctx, channelID),
		AuthorID:    m.Author.ID.String(),
		AuthorName:  m.Author.Username + "#" + m.Author.Discriminator,
		AuthorBot:   m.Author.Bot,
		Content:     m.Content,
	}
}

func (c *Client) toReaction(ctx context.Context, channelID, messageID, userID snowflake.ID, emoji discord.PartialEmoji, roleIDs []snowflake.ID) (platform.Reaction, bool) {
	if userID == c.selfID {
		return platform.Reaction{}, false
	}
	return platform.Reaction{
		MessageID:   messageID.String(),
		ChannelID:   channelID.String(),
		ChannelName: c.channelName(ctx, channelID),
		Emoji:       EmojiKey(emoji),
		UserID:      userID.String(),
		RoleNames:   c.roleNames(ctx, roleIDs),
	}, true
}

func (c *Client) refreshChannels(ctx context.Context) ([]discord.GuildChannel, error) {
	chs, err := c.rest.GetGuildChannels(c.guildID, rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("list guild channels: %w", err)
	}
	for _, ch := range chs {
		c.channels.Store(ch.ID(), ch.Name())
	}
	return chs, nil
}

func (c *Client) channelName(ctx context.Context, id snowflake.ID) string {
	if name, ok := c.channels.Load(id); ok {
		return name
	}
	if _, err := c.refreshChannels(ctx); err != nil {
		c.log.Warn("channel lookup failed", slog.String("channel_id", id.String()), slog.Any("err", err))
	}
	name, _ := c.channels.Load(id)
	return name
}

func (c *Client) roleNames(ctx context.Context, ids []snowflake.ID) []string {
	var names []string
	refreshed := false
	for _, id := range ids {
		name, ok := c.roles.Load(id)
		if !ok && !refreshed {
			refreshed = true
			roles, err := c.rest.GetRoles(c.guildID, rest.WithCtx(ctx))
			if err != nil {
				c.log.Warn("role lookup failed", slog.Any("err", err))
			}
			for _, r := range roles {
				c.roles.Store(r.ID, r.Name)
			}
			name, ok = c.roles.Load(id)
		}
		if ok {
			names = append(names, name)
		}
	}
	return names
}

func parseIDs(ids ...string) ([]snowflake.ID, error) {
	out := make([]snowflake.ID, len(ids))
	for i, s := range ids {
		id, err := snowflake.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid snowflake %q: %w", s, err)
		}
		out[i] = id
	}
	return out, nil
}

func (c *Client) FindChannel(ctx context.Context, name string) (*platform.Channel, error) {
	chs, err := c.refreshChannels(ctx)
	if err != nil {
		return nil, err
	}
	for _, ch := range chs {
		if ch.Name() == name {
			return &platform.Channel{ID: ch.ID().String(), Name: name}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", platform.ErrChannelNotFound, name)
}

func (c *Client) Send(ctx context.Context, channelID, text string) error {
	ids, err := parseIDs(channelID)
	if err != nil {
		return err
	}
	_, err = c.rest.CreateMessage(ids[0], discord.MessageCreate{Content: text}, rest.WithCtx(ctx))
	return err
}

func (c *Client) React(ctx context.Context, channelID, messageID, emoji string) error {
	ids, err := parseIDs(channelID, messageID)
	if err != nil {
		return err
	}
	return c.rest.AddReaction(ids[0], ids[1], emoji, rest.WithCtx(ctx))
}

func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error {
	ids, err := parseIDs(channelID, messageID, userID)
	if err != nil {
		return err
	}
	// Discord answers 204 for a user that does not react with emoji.
	return c.rest.RemoveUserReaction(ids[0], ids[1], emoji, ids[2], rest.WithCtx(ctx))
}

func (c *Client) ListReactions(ctx context.Context, channelID, messageID string) ([]platform.ReactionSummary, error) {
	ids, err := parseIDs(channelID, messageID)
	if err != nil {
		return nil, err
	}
	msg, err := c.rest.GetMessage(ids[0], ids[1], rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	out := make([]platform.ReactionSummary, 0, len(msg.Reactions))
	for _, r := range msg.Reactions {
		emoji := ReactionKey(r.Emoji)
		members, err := c.reactionMembers(ctx, ids[0], ids[1], emoji)
		if err != nil {
			return nil, err
		}
		out = append(out, platform.ReactionSummary{Emoji: emoji, Count: len(members), Members: members})
	}
	return out, nil
}

func (c *Client) reactionMembers(ctx context.Context, channelID, messageID snowflake.ID, emoji string) ([]string, error) {
	var members []string
	after := 0
	for {
		users, err := c.rest.GetReactions(channelID, messageID, emoji, discord.MessageReactionTypeNormal, after, reactionPage, rest.WithCtx(ctx))
		if err != nil {
			return nil, fmt.Errorf("list %s reactions: %w", strings.TrimSpace(emoji), err)
		}
		for _, u := range users {
			members = append(members, u.ID.String())
		}
		if len(users) < reactionPage {
			return members, nil
		}
		after = int(users[len(users)-1].ID)
	}
}
