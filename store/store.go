// Package store persists sessions, raffles, group buys and users.
//
// Two backends implement the repositories: Postgres through bun (NewPostgres) and an in-process
// Memory used by tests and STORE_BACKEND=memory. Every flag transition is a compare-and-set keyed
// by id, so a repeated or concurrent call reports false instead of writing twice.
package store

import (
	"context"
	"time"
)

type SessionRepository interface {
	// Pending lists unprocessed sessions with startsAt >= now and endsAt >= now, by startsAt.
	Pending(ctx context.Context, now time.Time) ([]Session, error)
	// Current lists unprocessed sessions with startsAt <= now <= endsAt, by startsAt.
	Current(ctx context.Context, now time.Time) ([]Session, error)
	// CreateIfNone creates a session from the policy unless one is pending. It returns nil when
	// another pending session already existed.
	CreateIfNone(ctx context.Context, now time.Time) (*Session, error)
	// MarkProcessed sets processedAt when it is still null and reports whether this call did it.
	MarkProcessed(ctx context.Context, id int64, at time.Time) (bool, error)
	// Active returns the processed session whose window contains now, or ErrNotFound.
	Active(ctx context.Context, now time.Time) (*Session, error)
	// Claim records the user's claim and pays the bonus once. It reports false on a repeat claim.
	Claim(ctx context.Context, sessionID, userID int64, bonus int, at time.Time) (bool, error)
	// Create inserts a session as is.
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id int64) (*Session, error)
}

type RaffleRepository interface {
	// Current returns the raffle with endsAt >= now and the lowest endsAt, or nil.
	Current(ctx context.Context, now time.Time) (*Raffle, error)
	MarkNotified(ctx context.Context, id int64, at time.Time) (bool, error)
	Create(ctx context.Context, r *Raffle) error
}

type GroupBuyRepository interface {
	// Pending lists group buys whose start has not been announced.
	Pending(ctx context.Context) ([]GroupBuy, error)
	// Ending lists group buys whose end has not been announced.
	Ending(ctx context.Context) ([]GroupBuy, error)
	MarkWarned(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkNotified(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkEndWarned(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkEndNotified(ctx context.Context, id int64, at time.Time) (bool, error)
	Create(ctx context.Context, g *GroupBuy) error
	Get(ctx context.Context, id int64) (*GroupBuy, error)
}

type UserRepository interface {
	// Find resolves a Discord mention (<@id> or <@!id>) by discord id, anything else by display
	// name ignoring case. Missing users yield ErrNotFound.
	Find(ctx context.Context, identifier string) (*User, error)
	// FindByDiscord matches a linked discord id first and then the pending discord_wannabe tag.
	FindByDiscord(ctx context.Context, discordID, wannabe string) (*User, error)
	FindOrCreate(ctx context.Context, displayName string) (*User, error)
	// AddBonus adds amount to the balance in one update and returns the new balance.
	AddBonus(ctx context.Context, id int64, amount int) (int, error)
	// Daily pays reward when the cooldown since the last daily elapsed, or returns
	// *AlreadyRedeemedError carrying the next eligible instant.
	Daily(ctx context.Context, id int64, now time.Time, cooldown time.Duration, reward DailyReward) error
	Create(ctx context.Context, u *User) error
}

// KVRepository stores small operational values such as the spawner heartbeat.
type KVRepository interface {
	Set(ctx context.Context, key, value string) error
	// Get returns "" when the key is unknown.
	Get(ctx context.Context, key string) (string, error)
}

// Store groups the repositories of one backend.
type Store struct {
	Sessions  SessionRepository
	Raffles   RaffleRepository
	GroupBuys GroupBuyRepository
	Users     UserRepository
	KV        KVRepository

	// Ping checks backend availability for readiness checks.
	Ping func(ctx context.Context) error
}
