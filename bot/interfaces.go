package bot

import (
	"context"

	"github.com/srteclados/clackbot/platform"
)

// Sayer sends a line to a Twitch channel; chat.Client implements it.
type Sayer interface {
	Say(ctx context.Context, channel, text string) error
}

// TwitchInterface answers Twitch chatters with an @mention.
type TwitchInterface struct {
	chat Sayer
}

func NewTwitchInterface(chat Sayer) *TwitchInterface { return &TwitchInterface{chat: chat} }

func (t *TwitchInterface) Name() string { return Twitch }

func (t *TwitchInterface) Reply(ctx context.Context, msg platform.Message, text string) error {
	return t.chat.Say(ctx, msg.ChannelName, "@"+msg.AuthorName+" "+text)
}

func (t *TwitchInterface) Send(ctx context.Context, channel, text string) error {
	return t.chat.Say(ctx, channel, text)
}

// DiscordInterface answers Discord members with a user mention.
type DiscordInterface struct {
	platform platform.Platform
}

func NewDiscordInterface(p platform.Platform) *DiscordInterface { return &DiscordInterface{platform: p} }

func (d *DiscordInterface) Name() string { return Discord }

func (d *DiscordInterface) Reply(ctx context.Context, msg platform.Message, text string) error {
	return d.platform.Send(ctx, msg.ChannelID, "<@"+msg.AuthorID+"> "+text)
}

func (d *DiscordInterface) Send(ctx context.Context, channelID, text string) error {
	return d.platform.Send(ctx, channelID, text)
}
