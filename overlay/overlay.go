// Package overlay fans out stream-overlay events (animations and countdown timers).
//
// The Hub delivers every event to its in-process subscribers (the SSE clients of the HTTP
// server) and to optional sinks such as Redis. Delivery is fire-and-forget: a slow subscriber
// drops events rather than blocking the spawner, and sink failures are only logged.
package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/srteclados/clackbot/telemetry"
)

// Notifier is what the spawner announces through.
type Notifier interface {
	Notify(ctx context.Context, animation, title, text string) error
	Timer(ctx context.Context, title string, endsAt time.Time) error
}

// Event is the JSON payload consumed by the overlay page.
type Event struct {
	Type      string `json:"type"`
	Animation string `json:"animation,omitempty"`
	Title     string `json:"title"`
	Text      string `json:"text,omitempty"`
	EndsAt    string `json:"endsAt,omitempty"`
}

// Sink receives every encoded event after local fan-out.
type Sink interface {
	Publish(ctx context.Context, payload []byte) error
}

const defaultBuffer = 16

type Hub struct {
	mu    sync.RWMutex
	subs  map[string]chan []byte
	sinks []Sink
}

func NewHub(sinks ...Sink) *Hub {
	return &Hub{subs: make(map[string]chan []byte), sinks: sinks}
}

// Subscribe registers a subscriber and returns its id and event channel. The channel is closed
// by Unsubscribe.
func (h *Hub) Subscribe() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, defaultBuffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	telemetry.AddOverlaySubscribers(1)
	return id, ch
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		close(ch)
		telemetry.AddOverlaySubscribers(-1)
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish encodes ev and delivers it. It only fails when ev cannot be encoded.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode overlay event: %w", err)
	}
	h.mu.RLock()
	for id, ch := range h.subs {
		select {
		case ch <- payload:
		default:
			slog.Warn("overlay subscriber lagging, dropping event", slog.String("component", "overlay"), slog.String("subscriber", id))
		}
	}
	h.mu.RUnlock()
	for _, s := range h.sinks {
		if err := s.Publish(ctx, payload); err != nil {
			slog.Warn("overlay sink publish failed", slog.String("component", "overlay"), slog.Any("err", err))
		}
	}
	return nil
}

func (h *Hub) Notify(ctx context.Context, animation, title, text string) error {
	return h.Publish(ctx, Event{Type: "overlay", Animation: animation, Title: title, Text: text})
}

func (h *Hub) Timer(ctx context.Context, title string, endsAt time.Time) error {
	return h.Publish(ctx, Event{Type: "timer", Title: title, EndsAt: endsAt.UTC().Format(time.RFC3339)})
}

// RedisPublisher forwards events to a Redis pub/sub channel for overlays served elsewhere.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, payload []byte) error {
	return p.client.Publish(ctx, p.channel, payload).Err()
}

// NewRedisClient connects to addr and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
