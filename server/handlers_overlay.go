package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/srteclados/clackbot/telemetry"
)

// HandleOverlayEvents streams overlay events to the browser source as Server-Sent Events.
func (h *Handlers) HandleOverlayEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Overlay == nil {
		http.Error(w, "overlay disabled", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "overlay_sse"))

	id, events := h.deps.Overlay.Subscribe()
	defer h.deps.Overlay.Unsubscribe(id)
	log.Info("overlay client connected", slog.String("subscriber", id))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("overlay client disconnected", slog.String("subscriber", id))
			return
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case payload, ok := <-events:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				log.Warn("failed to write SSE data prefix", slog.Any("err", err))
				return
			}
			_, _ = w.Write(payload)
			if _, err := w.Write([]byte("\n\n")); err != nil {
				log.Warn("failed to write SSE terminator", slog.Any("err", err))
				return
			}
			flusher.Flush()
		}
	}
}
