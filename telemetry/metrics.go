// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SpawnerTicks      prometheus.Counter
	TickFailures      *prometheus.CounterVec // label: check
	SessionsCreated   prometheus.Counter
	SessionsActivated prometheus.Counter
	Announcements     *prometheus.CounterVec // label: kind
	ReactionsHandled  *prometheus.CounterVec // label: outcome
	VotesRemoved      prometheus.Counter
	CommandsHandled   *prometheus.CounterVec // labels: interface, command

	// Histograms (seconds)
	TickDuration prometheus.Observer

	// Gauges
	StreamLiveGauge    prometheus.Gauge // 1=live,0=offline
	OverlaySubscribers prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SpawnerTicks = promauto.NewCounter(prometheus.CounterOpts{Name: "clackbot_spawner_ticks_total", Help: "Number of spawner ticks"})
		TickFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clackbot_tick_failures_total", Help: "Failed spawner sub-checks"}, []string{"check"})
		SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "clackbot_sessions_created_total", Help: "Sessions created by the spawner"})
		SessionsActivated = promauto.NewCounter(prometheus.CounterOpts{Name: "clackbot_sessions_activated_total", Help: "Sessions activated and announced"})
		Announcements = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clackbot_announcements_total", Help: "Announcements sent"}, []string{"kind"})
		ReactionsHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clackbot_reactions_handled_total", Help: "Reaction events handled by the voting processor"}, []string{"outcome"})
		VotesRemoved = promauto.NewCounter(prometheus.CounterOpts{Name: "clackbot_votes_removed_total", Help: "Reactions removed to keep a single vote"})
		CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clackbot_commands_total", Help: "Chat commands dispatched"}, []string{"interface", "command"})
		TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clackbot_tick_duration_seconds", Help: "Spawner tick duration seconds", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}})
		StreamLiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "clackbot_stream_live", Help: "Channel live=1 offline=0 as of the last tick"})
		OverlaySubscribers = promauto.NewGauge(prometheus.GaugeOpts{Name: "clackbot_overlay_subscribers", Help: "Connected overlay SSE clients"})
	})
}

// IncTickFailure counts a failed sub-check of a spawner tick.
func IncTickFailure(check string) {
	if TickFailures != nil {
		TickFailures.WithLabelValues(check).Inc()
	}
}

// IncAnnouncement counts an announcement of the given kind (session, raffle, gb_start, ...).
func IncAnnouncement(kind string) {
	if Announcements != nil {
		Announcements.WithLabelValues(kind).Inc()
	}
}

// IncReaction counts a reaction event by outcome (enforced, exempt, stale, ignored, failed).
func IncReaction(outcome string) {
	if ReactionsHandled != nil {
		ReactionsHandled.WithLabelValues(outcome).Inc()
	}
}

func IncCommand(iface, command string) {
	if CommandsHandled != nil {
		CommandsHandled.WithLabelValues(iface, command).Inc()
	}
}

func AddVotesRemoved(n int) {
	if VotesRemoved != nil && n > 0 {
		VotesRemoved.Add(float64(n))
	}
}

func IncCounter(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetStreamLive records whether the channel was live at the last tick.
func SetStreamLive(live bool) {
	if StreamLiveGauge == nil {
		return
	}
	if live {
		StreamLiveGauge.Set(1)
	} else {
		StreamLiveGauge.Set(0)
	}
}

// AddOverlaySubscribers adjusts the connected overlay client gauge by delta.
func AddOverlaySubscribers(delta int) {
	if OverlaySubscribers != nil {
		OverlaySubscribers.Add(float64(delta))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
