package server

import (
	"time"

	"github.com/srteclados/clackbot/overlay"
	"github.com/srteclados/clackbot/spawner"
	"github.com/srteclados/clackbot/store"
)

// StatusSource reports the last spawner tick.
type StatusSource interface {
	Status() spawner.Status
}

// Deps are the collaborators the handlers read from.
type Deps struct {
	Store   *store.Store
	Overlay *overlay.Hub
	Spawner StatusSource
	// HeartbeatMaxAge is how old the spawner heartbeat may get before /readyz fails.
	// Zero disables the check.
	HeartbeatMaxAge time.Duration
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
	now  func() time.Time
	// keepAlive is the SSE comment interval on idle overlay streams.
	keepAlive time.Duration
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, now: time.Now, keepAlive: 15 * time.Second}
}
