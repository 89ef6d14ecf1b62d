package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/srteclados/clackbot/spawner"
)

// HandleHealthz responds to liveness checks by checking store connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness checks with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"store", h.deps.Store.Ping},
		{"spawner", h.checkHeartbeat},
	}

	for _, check := range checks {
		if err := check.fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handlers) checkHeartbeat(ctx context.Context) error {
	if h.deps.HeartbeatMaxAge <= 0 {
		return nil
	}
	v, err := h.deps.Store.KV.Get(ctx, spawner.HeartbeatKey)
	if err != nil {
		return err
	}
	if v == "" {
		return fmt.Errorf("no spawner tick yet")
	}
	last, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return fmt.Errorf("bad heartbeat %q: %w", v, err)
	}
	if age := h.now().Sub(last); age > h.deps.HeartbeatMaxAge {
		return fmt.Errorf("last spawner tick %s ago", age.Round(time.Second))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
