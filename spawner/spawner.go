// Package spawner drives the periodic tick: live detection, raffle announcements, the session
// state machine and the Discord group-buy announcer.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/srteclados/clackbot/overlay"
	"github.com/srteclados/clackbot/platform"
	"github.com/srteclados/clackbot/store"
	"github.com/srteclados/clackbot/telemetry"
	"github.com/srteclados/clackbot/twitchapi"
)

// HeartbeatKey is the kv key holding the instant of the last completed tick (RFC3339).
const HeartbeatKey = "spawner_last_tick"

// checkTimeout bounds each sub-check of a tick.
const checkTimeout = 30 * time.Second

// StreamStatus reports the live broadcast of a channel, nil when offline.
type StreamStatus interface {
	GetCurrentStream(ctx context.Context, channel string) (*twitchapi.Stream, error)
}

// ChatAction sends a styled chat line to the Twitch channel.
type ChatAction interface {
	Action(ctx context.Context, channel, text string) error
}

type Config struct {
	TwitchChannel   string
	AnnounceChannel string
	// AlertRole is the Discord role mentioned in group-buy announcements. Empty disables them.
	AlertRole string
	// WarnLead holds countdown announcements until the start or end is this close. Zero sends
	// them on the first tick.
	WarnLead time.Duration
}

// Status is a snapshot of the last tick, served by /status.
type Status struct {
	LastTick time.Time         `json:"last_tick"`
	Live     bool              `json:"live"`
	Stream   *twitchapi.Stream `json:"stream,omitempty"`
}

type Spawner struct {
	store   *store.Store
	stream  StreamStatus
	chat    ChatAction
	discord platform.Platform
	overlay overlay.Notifier
	cfg     Config
	now     func() time.Time

	mu     sync.RWMutex
	status Status
}

// New builds a spawner. chat and discord may be nil when the adapter is disabled; stream nil
// means the channel is never considered live.
func New(st *store.Store, stream StreamStatus, chat ChatAction, discord platform.Platform, notifier overlay.Notifier, cfg Config) *Spawner {
	if cfg.AnnounceChannel == "" {
		cfg.AnnounceChannel = "announcements"
	}
	return &Spawner{store: st, stream: stream, chat: chat, discord: discord, overlay: notifier, cfg: cfg, now: time.Now}
}

// Status returns the last tick snapshot.
func (s *Spawner) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// StartSpawnerJob ticks every interval until ctx is done, starting immediately.
func StartSpawnerJob(ctx context.Context, s *Spawner, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("spawner job starting", slog.String("component", "spawner"), slog.Duration("interval", interval))
	s.tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("spawner job stopped", slog.String("component", "spawner"))
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Spawner) tick(ctx context.Context) {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	telemetry.IncCounter(telemetry.SpawnerTicks)
	telemetry.TimeFunc(telemetry.TickDuration, func() {
		// Failures are already logged and counted per check.
		_ = s.Check(ctx)
	})
	if err := s.store.KV.Set(ctx, HeartbeatKey, s.now().UTC().Format(time.RFC3339)); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("heartbeat write failed", slog.String("component", "spawner"), slog.Any("err", err))
	}
}

// Check runs one tick. The live/session path and the Discord announcer run concurrently and
// fail independently; the first error is returned after both finish.
func (s *Spawner) Check(ctx context.Context) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "spawner.check", attribute.String("channel", s.cfg.TwitchChannel))
	defer func() { telemetry.EndSpan(span, err) }()

	now := s.now()
	var g errgroup.Group
	g.Go(func() error { return s.guard(ctx, "stream", func(ctx context.Context) error { return s.checkStream(ctx, now) }) })
	g.Go(func() error { return s.guard(ctx, "discord", func(ctx context.Context) error { return s.CheckDiscord(ctx, now) }) })
	err = g.Wait()

	s.mu.Lock()
	s.status.LastTick = now
	s.mu.Unlock()
	return err
}

func (s *Spawner) guard(ctx context.Context, check string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		telemetry.IncTickFailure(check)
		telemetry.LoggerWithCorr(ctx).Warn("spawner check failed", slog.String("component", "spawner"), slog.String("check", check), slog.Any("err", err))
		return fmt.Errorf("%s check: %w", check, err)
	}
	return nil
}

func (s *Spawner) setStream(stream *twitchapi.Stream) {
	telemetry.SetStreamLive(stream != nil)
	s.mu.Lock()
	s.status.Live = stream != nil
	s.status.Stream = stream
	s.mu.Unlock()
}

func (s *Spawner) checkStream(ctx context.Context, now time.Time) error {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "spawner"))
	if s.stream == nil {
		s.setStream(nil)
		return nil
	}
	stream, err := s.stream.GetCurrentStream(ctx, s.cfg.TwitchChannel)
	if err != nil {
		return fmt.Errorf("stream status: %w", err)
	}
	s.setStream(stream)
	if stream == nil {
		log.Debug("channel is not streaming", slog.String("channel", s.cfg.TwitchChannel))
		return nil
	}

	raffle, err := s.store.Raffles.Current(ctx, now)
	if err != nil {
		return fmt.Errorf("current raffle: %w", err)
	}
	if raffle != nil {
		log.Debug("raffle ongoing, skipping sessions", slog.Int64("raffle_id", raffle.ID))
		return s.announceRaffle(ctx, raffle, now)
	}
	return s.checkSessions(ctx, now)
}

func (s *Spawner) announceRaffle(ctx context.Context, raffle *store.Raffle, now time.Time) error {
	if raffle.NotifiedAt != nil {
		return nil
	}
	won, err := s.store.Raffles.MarkNotified(ctx, raffle.ID, now)
	if err != nil {
		return fmt.Errorf("mark raffle %d notified: %w", raffle.ID, err)
	}
	if !won {
		return nil
	}
	telemetry.IncAnnouncement("raffle")
	telemetry.LoggerWithCorr(ctx).Info("raffle announced", slog.String("component", "spawner"), slog.Int64("raffle_id", raffle.ID), slog.String("name", raffle.Name))
	return errors.Join(
		s.overlay.Timer(ctx, "SORTEIO "+strings.ToUpper(raffle.Name), raffle.EndsAt),
		s.overlay.Notify(ctx, "fireworks", "SORTEIO ATIVO!",
			fmt.Sprintf("Envie <code>!sorteio &lt;clacks&gt;</code> agora para concorrer a <b>%s</b>!", raffle.Name)),
	)
}

func (s *Spawner) checkSessions(ctx context.Context, now time.Time) error {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "spawner"))
	pending, err := s.store.Sessions.Pending(ctx, now)
	if err != nil {
		return fmt.Errorf("pending sessions: %w", err)
	}
	if len(pending) == 0 {
		created, err := s.store.Sessions.CreateIfNone(ctx, now)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if created != nil {
			telemetry.IncCounter(telemetry.SessionsCreated)
			log.Info("session created", slog.Int64("session_id", created.ID), slog.Time("starts_at", created.StartsAt), slog.Int("bonus", created.Bonus))
		}
	}

	current, err := s.store.Sessions.Current(ctx, now)
	if err != nil {
		return fmt.Errorf("current sessions: %w", err)
	}
	if len(current) == 0 {
		return nil
	}
	session := current[0]
	won, err := s.store.Sessions.MarkProcessed(ctx, session.ID, now)
	if err != nil {
		return fmt.Errorf("mark session %d processed: %w", session.ID, err)
	}
	if !won {
		log.Debug("session already processed", slog.Int64("session_id", session.ID))
		return nil
	}
	telemetry.IncCounter(telemetry.SessionsActivated)
	telemetry.IncAnnouncement("session")
	log.Info("session activated", slog.Int64("session_id", session.ID), slog.Int("bonus", session.Bonus), slog.Int("duration", session.Duration))

	errs := []error{
		s.overlay.Notify(ctx, "coins", "RODADA DE CLACKS",
			fmt.Sprintf("Envie <code>!pegar</code> agora para acumular %d clacks!", session.Bonus)),
		s.overlay.Timer(ctx, fmt.Sprintf("PEGAR %d CLACKS", session.Bonus), session.EndsAt),
	}
	if s.chat != nil {
		errs = append(errs, s.chat.Action(ctx, s.cfg.TwitchChannel, SessionAction(session)))
	}
	return errors.Join(errs...)
}

// SessionAction is the Twitch chat line announcing an activated session.
func SessionAction(s store.Session) string {
	return fmt.Sprintf("Atenção, vocês têm %d minuto(s) para pegar %d clack(s) com o comando !pegar", s.Duration, s.Bonus)
}
