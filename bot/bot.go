// Package bot routes chat messages from Twitch and Discord to the "!" commands of the clacks
// economy.
//
// A Bot is built explicitly from Deps and shared by every Interface. Pre-processors registered
// for an interface see each message first (the voting processor on Discord); a message one of
// them handles is not treated as a command.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/srteclados/clackbot/hangman"
	"github.com/srteclados/clackbot/platform"
	"github.com/srteclados/clackbot/store"
	"github.com/srteclados/clackbot/telemetry"
)

// Interface names.
const (
	Twitch  = "twitch"
	Discord = "discord"
)

// Interface is a chat platform the bot answers through.
type Interface interface {
	Name() string
	// Reply answers the author of msg in the channel msg came from.
	Reply(ctx context.Context, msg platform.Message, text string) error
	// Send posts text to a channel.
	Send(ctx context.Context, channelID, text string) error
}

// PreProcessor inspects a message before command dispatch and reports whether it consumed it.
type PreProcessor func(ctx context.Context, msg platform.Message) (bool, error)

// Call is one command invocation.
type Call struct {
	Interface Interface
	Message   platform.Message
	User      *store.User
	Command   string
	Args      []string
}

// Reply answers the author of the command.
func (c *Call) Reply(ctx context.Context, text string) error {
	return c.Interface.Reply(ctx, c.Message, text)
}

// SendToChannel posts text to the channel the command came from.
func (c *Call) SendToChannel(ctx context.Context, text string) error {
	return c.Interface.Send(ctx, c.Message.ChannelID, text)
}

// Command is a registered "!" command.
type Command struct {
	Name string
	// Interfaces lists where the command is available.
	Interfaces []string
	Handle     func(ctx context.Context, b *Bot, call *Call) error
}

func (c Command) availableOn(iface string) bool {
	for _, i := range c.Interfaces {
		if i == iface {
			return true
		}
	}
	return false
}

// Deps are the collaborators of the commands.
type Deps struct {
	Store   *store.Store
	Hangman *hangman.Game
	// DailyCooldown defaults to 24h.
	DailyCooldown time.Duration
	// RollDaily defaults to store.RollDaily.
	RollDaily func() store.DailyReward
	// Now defaults to time.Now.
	Now func() time.Time
}

type Bot struct {
	deps     Deps
	commands map[string]Command
	pre      map[string][]PreProcessor
}

// New returns a bot with the built-in commands registered.
func New(deps Deps) *Bot {
	if deps.DailyCooldown <= 0 {
		deps.DailyCooldown = 24 * time.Hour
	}
	if deps.RollDaily == nil {
		deps.RollDaily = store.RollDaily
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Hangman == nil {
		deps.Hangman = hangman.New(nil)
	}
	b := &Bot{deps: deps, commands: make(map[string]Command), pre: make(map[string][]PreProcessor)}
	for _, c := range builtinCommands() {
		b.Register(c)
	}
	return b
}

// Register adds or replaces a command.
func (b *Bot) Register(c Command) { b.commands[strings.ToLower(c.Name)] = c }

// UsePreProcessor runs p on every message of the named interface before dispatch.
func (b *Bot) UsePreProcessor(iface string, p PreProcessor) {
	b.pre[iface] = append(b.pre[iface], p)
}

// Commands lists the command names available on iface, sorted.
func (b *Bot) Commands(iface string) []string {
	var names []string
	for name, c := range b.commands {
		if c.availableOn(iface) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// HandleMessage dispatches one inbound message. Command failures are logged and returned; they
// never panic the caller.
func (b *Bot) HandleMessage(ctx context.Context, iface Interface, msg platform.Message) error {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "bot"), slog.String("interface", iface.Name()))
	for _, p := range b.pre[iface.Name()] {
		handled, err := p(ctx, msg)
		if err != nil {
			log.Warn("pre-processor failed", slog.String("message_id", msg.ID), slog.Any("err", err))
		}
		if handled {
			return err
		}
	}
	if msg.AuthorBot {
		return nil
	}
	name, args, ok := parseCommand(msg.Content)
	if !ok {
		return nil
	}

	cmd, found := b.commands[name]
	if !found || !cmd.availableOn(iface.Name()) {
		if s := b.suggest(iface.Name(), name); s != "" {
			return iface.Reply(ctx, msg, fmt.Sprintf("você quis dizer `!%s`?", s))
		}
		return nil
	}

	user, err := b.resolveUser(ctx, iface, msg)
	if errors.Is(err, store.ErrNotFound) {
		return iface.Reply(ctx, msg, fmt.Sprintf("você precisa linkar a sua conta do Twitch. Prá isso, visite o chat do SrTeclados e digite `!eusou %s`.", msg.AuthorName))
	}
	if err != nil {
		return fmt.Errorf("resolve user %s: %w", msg.AuthorName, err)
	}

	telemetry.IncCommand(iface.Name(), name)
	log.Info("command", slog.String("command", name), slog.String("user", user.DisplayName))
	call := &Call{Interface: iface, Message: msg, User: user, Command: name, Args: args}
	if err := cmd.Handle(ctx, b, call); err != nil {
		log.Error("command failed", slog.String("command", name), slog.Any("err", err))
		return fmt.Errorf("command %s: %w", name, err)
	}
	return nil
}

func parseCommand(content string) (string, []string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "!") {
		return "", nil, false
	}
	fields := strings.Fields(content[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func (b *Bot) resolveUser(ctx context.Context, iface Interface, msg platform.Message) (*store.User, error) {
	users := b.deps.Store.Users
	if iface.Name() == Discord {
		return users.FindByDiscord(ctx, msg.AuthorID, msg.AuthorName)
	}
	return users.FindOrCreate(ctx, msg.AuthorName)
}

func (b *Bot) suggest(iface, name string) string {
	matches := fuzzy.Find(name, b.Commands(iface))
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}
