package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// sessionCreateLock is the pg_advisory_xact_lock key serializing session creation.
const sessionCreateLock int64 = 0x636c61636b73 // "clacks"

// NewPostgres returns a Store backed by Postgres through bun.
func NewPostgres(db *bun.DB, policy SessionPolicy) *Store {
	return &Store{
		Sessions:  &pgSessions{db: db, policy: policy},
		Raffles:   &pgRaffles{db: db},
		GroupBuys: &pgGroupBuys{db: db},
		Users:     &pgUsers{db: db},
		KV:        &pgKV{db: db},
		Ping:      db.PingContext,
	}
}

// markFlag sets column to at when it is still null. It reports whether this call performed the update.
func markFlag(ctx context.Context, db bun.IDB, model any, column string, id int64, at time.Time) (bool, error) {
	res, err := db.NewUpdate().
		Model(model).
		Set("? = ?", bun.Ident(column), at).
		Where("id = ?", id).
		Where("? IS NULL", bun.Ident(column)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type pgSessions struct {
	db     *bun.DB
	policy SessionPolicy
}

func pendingQuery(q *bun.SelectQuery, now time.Time) *bun.SelectQuery {
	return q.Where("processed_at IS NULL").
		Where("starts_at >= ?", now).
		Where("ends_at >= ?", now)
}

func (r *pgSessions) Pending(ctx context.Context, now time.Time) ([]Session, error) {
	var out []Session
	err := pendingQuery(r.db.NewSelect().Model(&out), now).Order("starts_at ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending sessions: %w", err)
	}
	return out, nil
}

func (r *pgSessions) Current(ctx context.Context, now time.Time) ([]Session, error) {
	var out []Session
	err := r.db.NewSelect().Model(&out).
		Where("processed_at IS NULL").
		Where("starts_at <= ?", now).
		Where("ends_at >= ?", now).
		Order("starts_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("current sessions: %w", err)
	}
	return out, nil
}

func (r *pgSessions) CreateIfNone(ctx context.Context, now time.Time) (*Session, error) {
	var created *Session
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", sessionCreateLock); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		n, err := pendingQuery(tx.NewSelect().Model((*Session)(nil)), now).Count(ctx)
		if err != nil {
			return fmt.Errorf("count pending: %w", err)
		}
		if n > 0 {
			return nil
		}
		var latest Session
		var latestEnd time.Time
		err = tx.NewSelect().Model(&latest).Order("ends_at DESC").Limit(1).Scan(ctx)
		switch {
		case err == nil:
			latestEnd = latest.EndsAt
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("latest session: %w", err)
		}
		s := r.policy.Next(now, latestEnd)
		if _, err := tx.NewInsert().Model(&s).Returning("*").Exec(ctx); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		created = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *pgSessions) MarkProcessed(ctx context.Context, id int64, at time.Time) (bool, error) {
	return markFlag(ctx, r.db, (*Session)(nil), "processed_at", id, at)
}

func (r *pgSessions) Active(ctx context.Context, now time.Time) (*Session, error) {
	var s Session
	err := r.db.NewSelect().Model(&s).
		Where("processed_at IS NOT NULL").
		Where("starts_at <= ?", now).
		Where("ends_at >= ?", now).
		Order("starts_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *pgSessions) Claim(ctx context.Context, sessionID, userID int64, bonus int, at time.Time) (bool, error) {
	claimed := false
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		c := SessionClaim{SessionID: sessionID, UserID: userID, ClaimedAt: at}
		res, err := tx.NewInsert().Model(&c).On("CONFLICT DO NOTHING").Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.NewUpdate().Model((*User)(nil)).
			Set("clacks = clacks + ?", bonus).
			Where("id = ?", userID).
			Exec(ctx); err != nil {
			return fmt.Errorf("pay claim: %w", err)
		}
		claimed = true
		return nil
	})
	return claimed, err
}

func (r *pgSessions) Create(ctx context.Context, s *Session) error {
	_, err := r.db.NewInsert().Model(s).Returning("*").Exec(ctx)
	return err
}

func (r *pgSessions) Get(ctx context.Context, id int64) (*Session, error) {
	var s Session
	if err := r.db.NewSelect().Model(&s).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

type pgRaffles struct{ db *bun.DB }

func (r *pgRaffles) Current(ctx context.Context, now time.Time) (*Raffle, error) {
	var out Raffle
	err := r.db.NewSelect().Model(&out).
		Where("ends_at >= ?", now).
		Order("ends_at ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current raffle: %w", err)
	}
	return &out, nil
}

func (r *pgRaffles) MarkNotified(ctx context.Context, id int64, at time.Time) (bool, error) {
	return markFlag(ctx, r.db, (*Raffle)(nil), "notified_at", id, at)
}

func (r *pgRaffles) Create(ctx context.Context, raffle *Raffle) error {
	_, err := r.db.NewInsert().Model(raffle).Returning("*").Exec(ctx)
	return err
}

type pgGroupBuys struct{ db *bun.DB }

func (r *pgGroupBuys) list(ctx context.Context, nullColumn, orderColumn string) ([]GroupBuy, error) {
	var out []GroupBuy
	err := r.db.NewSelect().Model(&out).
		Where("? IS NULL", bun.Ident(nullColumn)).
		OrderExpr("? ASC", bun.Ident(orderColumn)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("group buys by %s: %w", nullColumn, err)
	}
	return out, nil
}

func (r *pgGroupBuys) Pending(ctx context.Context) ([]GroupBuy, error) {
	return r.list(ctx, "notified_at", "starts_at")
}

func (r *pgGroupBuys) Ending(ctx context.Context) ([]GroupBuy, error) {
	return r.list(ctx, "end_notified_at", "ends_at")
}

func (r *pgGroupBuys) MarkWarned(ctx context.Context, id int64, at time.Time) (bool, error) {
	return markFlag(ctx, r.db, (*GroupBuy)(nil), "warned_at", id, at)
}

func (r *pgGroupBuys) MarkNotified(ctx context.Context, id int64, at time.Time) (bool, error) {
	return markFlag(ctx, r.db, (*GroupBuy)(nil), "notified_at", id, at)
}

func (r *pgGroupBuys) MarkEndWarned(ctx context.Context, id int64, at time.Time) (bool, error) {
	return markFlag(ctx, r.db, (*GroupBuy)(nil), "end_warned_at", id, at)
}

func (r *pgGroupBuys) MarkEndNotified(ctx context.Context, id int64, at time.Time) (bool, error) {
	return markFlag(ctx, r.db, (*GroupBuy)(nil), "end_notified_at", id, at)
}

func (r *pgGroupBuys) Create(ctx context.Context, g *GroupBuy) error {
	_, err := r.db.NewInsert().Model(g).Returning("*").Exec(ctx)
	return err
}

func (r *pgGroupBuys) Get(ctx context.Context, id int64) (*GroupBuy, error) {
	var g GroupBuy
	if err := r.db.NewSelect().Model(&g).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

type pgUsers struct{ db *bun.DB }

func (r *pgUsers) Find(ctx context.Context, identifier string) (*User, error) {
	var u User
	q := r.db.NewSelect().Model(&u)
	if id, ok := ParseMention(identifier); ok {
		q = q.Where("discord_id = ?", id)
	} else {
		q = q.Where("lower(display_name) = lower(?)", identifier)
	}
	if err := q.Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *pgUsers) FindByDiscord(ctx context.Context, discordID, wannabe string) (*User, error) {
	var u User
	err := r.db.NewSelect().Model(&u).Where("discord_id = ?", discordID).Limit(1).Scan(ctx)
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || wannabe == "" {
		return nil, notFound(err)
	}
	err = r.db.NewSelect().Model(&u).Where("discord_wannabe = ?", wannabe).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *pgUsers) FindOrCreate(ctx context.Context, displayName string) (*User, error) {
	u := User{DisplayName: displayName}
	if _, err := r.db.NewInsert().Model(&u).On("CONFLICT (lower(display_name)) DO NOTHING").Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return r.Find(ctx, displayName)
}

func (r *pgUsers) AddBonus(ctx context.Context, id int64, amount int) (int, error) {
	var balance int
	err := r.db.NewUpdate().Model((*User)(nil)).
		Set("clacks = clacks + ?", amount).
		Where("id = ?", id).
		Returning("clacks").
		Scan(ctx, &balance)
	if err != nil {
		return 0, notFound(err)
	}
	return balance, nil
}

func (r *pgUsers) Daily(ctx context.Context, id int64, now time.Time, cooldown time.Duration, reward DailyReward) error {
	res, err := r.db.NewUpdate().Model((*User)(nil)).
		Set("clacks = clacks + ?", reward.Total()).
		Set("last_daily_at = ?", now).
		Where("id = ?", id).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Where("last_daily_at IS NULL").WhereOr("last_daily_at <= ?", now.Add(-cooldown))
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("daily update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var u User
	if err := r.db.NewSelect().Model(&u).Where("id = ?", id).Scan(ctx); err != nil {
		return notFound(err)
	}
	return redeemedError(u.LastDailyAt, now, cooldown)
}

func (r *pgUsers) Create(ctx context.Context, u *User) error {
	_, err := r.db.NewInsert().Model(u).Returning("*").Exec(ctx)
	return err
}

type pgKV struct{ db *bun.DB }

func (r *pgKV) Set(ctx context.Context, key, value string) error {
	e := kvEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	_, err := r.db.NewInsert().Model(&e).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (r *pgKV) Get(ctx context.Context, key string) (string, error) {
	var e kvEntry
	err := r.db.NewSelect().Model(&e).Where("key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return e.Value, nil
}
