package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/srteclados/clackbot/store"
	"github.com/srteclados/clackbot/telemetry"
	"github.com/srteclados/clackbot/twitchapi"
)

type sessionStatus struct {
	ID       int64     `json:"id"`
	Bonus    int       `json:"bonus"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type raffleStatus struct {
	Name   string    `json:"name"`
	EndsAt time.Time `json:"ends_at"`
}

type statusResponse struct {
	Live               bool              `json:"live"`
	Stream             *twitchapi.Stream `json:"stream,omitempty"`
	LastTick           *time.Time        `json:"last_tick,omitempty"`
	ActiveSession      *sessionStatus    `json:"active_session,omitempty"`
	NextSession        *sessionStatus    `json:"next_session,omitempty"`
	Raffle             *raffleStatus     `json:"raffle,omitempty"`
	OverlaySubscribers int               `json:"overlay_subscribers"`
}

func toSessionStatus(s store.Session) *sessionStatus {
	return &sessionStatus{ID: s.ID, Bonus: s.Bonus, StartsAt: s.StartsAt, EndsAt: s.EndsAt}
}

// HandleStatus returns a JSON snapshot of the live state, sessions and raffle.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "http"))
	now := h.now()
	resp := statusResponse{}

	if h.deps.Spawner != nil {
		st := h.deps.Spawner.Status()
		resp.Live = st.Live
		resp.Stream = st.Stream
		if !st.LastTick.IsZero() {
			resp.LastTick = &st.LastTick
		}
	}
	if h.deps.Overlay != nil {
		resp.OverlaySubscribers = h.deps.Overlay.Subscribers()
	}

	active, err := h.deps.Store.Sessions.Active(ctx, now)
	switch {
	case err == nil:
		resp.ActiveSession = toSessionStatus(*active)
	case !errors.Is(err, store.ErrNotFound):
		log.Error("status active session", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	pending, err := h.deps.Store.Sessions.Pending(ctx, now)
	if err != nil {
		log.Error("status pending sessions", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(pending) > 0 {
		resp.NextSession = toSessionStatus(pending[0])
	}
	raffle, err := h.deps.Store.Raffles.Current(ctx, now)
	if err != nil {
		log.Error("status raffle", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if raffle != nil {
		resp.Raffle = &raffleStatus{Name: raffle.Name, EndsAt: raffle.EndsAt}
	}
	writeJSON(w, http.StatusOK, resp)
}
