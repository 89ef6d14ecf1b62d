// Package voting keeps a single active vote per user on the messages of the monitored channels.
//
// Every message posted to a monitored channel receives the two vote reactions. When a user
// reacts, their reactions on the other messages of the channel window (and the other emojis
// of the same message) are removed through the platform, so the remote ledger converges to one
// vote per user. Events of the same user are serialized.
package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/srteclados/clackbot/platform"
	"github.com/srteclados/clackbot/telemetry"
)

// DefaultWindow is the number of recent messages per channel that form one voting cycle.
const DefaultWindow = 10

// Config values left empty fall back to VOTING_CHANNELS, VOTING_ALLOW_ROLES and VOTING_WINDOW.
type Config struct {
	Channels     string
	AllowedRoles string
	Window       int
}

type voteKey struct {
	messageID string
	emoji     string
}

// userState serializes the events of one user and tracks which of their events are queued.
// It lives in Processor.users only while refs > 0.
type userState struct {
	lock sync.Mutex
	// refs counts in-flight events; it only changes inside users.Compute.
	refs int

	pmu     sync.Mutex
	pending map[voteKey]int
}

func (s *userState) enter(k voteKey) {
	s.pmu.Lock()
	s.pending[k]++
	s.pmu.Unlock()
}

func (s *userState) leave(k voteKey) {
	s.pmu.Lock()
	if s.pending[k]--; s.pending[k] <= 0 {
		delete(s.pending, k)
	}
	s.pmu.Unlock()
}

func (s *userState) isPending(k voteKey) bool {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	return s.pending[k] > 0
}

type Processor struct {
	platform     platform.Platform
	channels     []string
	channelSet   map[string]struct{}
	allowedRoles []string
	allowedSet   map[string]struct{}
	window       int

	windows *xsync.MapOf[string, *lru.Cache]
	users   *xsync.MapOf[string, *userState]
}

// NewProcessor builds a processor over p. See Config for the environment fallbacks.
func NewProcessor(p platform.Platform, cfg Config) *Processor {
	channels := cfg.Channels
	if channels == "" {
		channels = os.Getenv("VOTING_CHANNELS")
	}
	roles := cfg.AllowedRoles
	if roles == "" {
		roles = os.Getenv("VOTING_ALLOW_ROLES")
	}
	window := cfg.Window
	if window <= 0 {
		if n, err := strconv.Atoi(os.Getenv("VOTING_WINDOW")); err == nil && n > 0 {
			window = n
		} else {
			window = DefaultWindow
		}
	}
	proc := &Processor{
		platform:     p,
		channels:     splitList(channels),
		allowedRoles: splitList(roles),
		window:       window,
		windows:      xsync.NewMapOf[string, *lru.Cache](),
		users:        xsync.NewMapOf[string, *userState](),
	}
	proc.channelSet = toSet(proc.channels)
	proc.allowedSet = toSet(proc.allowedRoles)
	return proc
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, v := range list {
		set[v] = struct{}{}
	}
	return set
}

// Channels returns the monitored channel names in configuration order.
func (p *Processor) Channels() []string { return append([]string(nil), p.channels...) }

// AllowedRoles returns the role names exempt from the single-vote rule.
func (p *Processor) AllowedRoles() []string { return append([]string(nil), p.allowedRoles...) }

// Window returns the number of messages per channel that form a voting cycle.
func (p *Processor) Window() int { return p.window }

// Monitors reports whether channelName is a voting channel.
func (p *Processor) Monitors(channelName string) bool {
	_, ok := p.channelSet[channelName]
	return ok
}

func (p *Processor) channelWindow(channelID string) *lru.Cache {
	w, _ := p.windows.LoadOrCompute(channelID, func() *lru.Cache {
		c, err := lru.New(p.window)
		if err != nil {
			// lru.New only fails for non-positive sizes, which NewProcessor rules out.
			panic(err)
		}
		return c
	})
	return w
}

// Handle adds the vote reactions to a new message of a monitored channel. It reports whether
// the message belonged to a monitored channel.
func (p *Processor) Handle(ctx context.Context, msg platform.Message) (bool, error) {
	if !p.Monitors(msg.ChannelName) {
		return false, nil
	}
	// Add is the only call that touches recency, so the cache evicts in posting order.
	p.channelWindow(msg.ChannelID).Add(msg.ID, struct{}{})
	for _, emoji := range []string{platform.Upvote, platform.Downvote} {
		if err := p.platform.React(ctx, msg.ChannelID, msg.ID, emoji); err != nil {
			return true, fmt.Errorf("react %s on %s: %w", emoji, msg.ID, err)
		}
	}
	return true, nil
}

func (p *Processor) exempt(roles []string) bool {
	for _, r := range roles {
		if _, ok := p.allowedSet[r]; ok {
			return true
		}
	}
	return false
}

// cycle lists the window messages of the channel, oldest first. A message that already aged
// out of the window forms a cycle on its own.
func (p *Processor) cycle(channelID, messageID string) []string {
	w, ok := p.windows.Load(channelID)
	if !ok || !w.Contains(messageID) {
		return []string{messageID}
	}
	keys := w.Keys()
	out := make([]string, 0, len(keys)+1)
	found := false
	for _, k := range keys {
		id := k.(string)
		found = found || id == messageID
		out = append(out, id)
	}
	if !found {
		// Evicted between Contains and Keys by a concurrent post.
		out = append(out, messageID)
	}
	return out
}

// acquire returns the state of userID with k marked as queued, creating it on first use.
func (p *Processor) acquire(userID string, k voteKey) *userState {
	st, _ := p.users.Compute(userID, func(st *userState, loaded bool) (*userState, bool) {
		if !loaded {
			st = &userState{pending: make(map[voteKey]int)}
		}
		st.refs++
		return st, false
	})
	st.enter(k)
	return st
}

// release undoes acquire and drops the state once no event of userID is in flight.
func (p *Processor) release(userID string, st *userState, k voteKey) {
	st.leave(k)
	p.users.Compute(userID, func(cur *userState, loaded bool) (*userState, bool) {
		if !loaded {
			return cur, true
		}
		cur.refs--
		return cur, cur.refs <= 0
	})
}

// HandleReaction enforces the single vote of r.UserID after they added r.Emoji to r.MessageID.
func (p *Processor) HandleReaction(ctx context.Context, r platform.Reaction) (err error) {
	if !p.Monitors(r.ChannelName) {
		telemetry.IncReaction("ignored")
		return nil
	}
	if p.exempt(r.RoleNames) {
		telemetry.IncReaction("exempt")
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "voting.HandleReaction",
		attribute.String("channel", r.ChannelName),
		attribute.String("message_id", r.MessageID))
	defer func() { telemetry.EndSpan(span, err) }()

	added := voteKey{messageID: r.MessageID, emoji: r.Emoji}
	st := p.acquire(r.UserID, added)
	st.lock.Lock()
	defer st.lock.Unlock()
	// Release before unlocking so the next holder never sees this event as queued.
	defer p.release(r.UserID, st, added)

	current, err := p.platform.ListReactions(ctx, r.ChannelID, r.MessageID)
	if err != nil {
		telemetry.IncReaction("failed")
		return fmt.Errorf("list reactions of %s: %w", r.MessageID, err)
	}
	live := false
	for _, s := range current {
		if s.Emoji == r.Emoji && s.HasMember(r.UserID) {
			live = true
			break
		}
	}
	if !live {
		// The reaction was withdrawn before this event was handled; enforcing it would leave no vote.
		telemetry.IncReaction("stale")
		slog.Debug("stale reaction event", slog.String("component", "voting"),
			slog.String("message_id", r.MessageID), slog.String("user_id", r.UserID))
		return nil
	}

	removed := 0
	var errs []error
	for _, msgID := range p.cycle(r.ChannelID, r.MessageID) {
		summaries := current
		if msgID != r.MessageID {
			var lerr error
			if summaries, lerr = p.platform.ListReactions(ctx, r.ChannelID, msgID); lerr != nil {
				errs = append(errs, fmt.Errorf("list reactions of %s: %w", msgID, lerr))
				continue
			}
		}
		for _, s := range summaries {
			k := voteKey{messageID: msgID, emoji: s.Emoji}
			if k == added || !s.HasMember(r.UserID) {
				continue
			}
			// A queued event of this user for k is newer intent; it will remove this one instead.
			if st.isPending(k) {
				continue
			}
			if err := p.platform.RemoveReaction(ctx, r.ChannelID, msgID, s.Emoji, r.UserID); err != nil {
				errs = append(errs, fmt.Errorf("remove %s from %s: %w", s.Emoji, msgID, err))
				continue
			}
			removed++
		}
	}
	telemetry.AddVotesRemoved(removed)
	if err := errors.Join(errs...); err != nil {
		telemetry.IncReaction("failed")
		return err
	}
	telemetry.IncReaction("enforced")
	return nil
}
