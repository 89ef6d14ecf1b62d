package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory keeps every record in process. One mutex guards all tables, which makes each
// repository call atomic in the same way a single-row update is in Postgres.
type Memory struct {
	mu      sync.Mutex
	policy  SessionPolicy
	nextID  int64
	session map[int64]*Session
	claims  map[[2]int64]time.Time
	raffles map[int64]*Raffle
	gbs     map[int64]*GroupBuy
	users   map[int64]*User
	kv      map[string]string
}

// NewMemory returns an empty in-memory backend.
func NewMemory(policy SessionPolicy) *Memory {
	return &Memory{
		policy:  policy,
		session: make(map[int64]*Session),
		claims:  make(map[[2]int64]time.Time),
		raffles: make(map[int64]*Raffle),
		gbs:     make(map[int64]*GroupBuy),
		users:   make(map[int64]*User),
		kv:      make(map[string]string),
	}
}

// Store exposes the backend through the repository interfaces.
func (m *Memory) Store() *Store {
	return &Store{
		Sessions:  memSessions{m},
		Raffles:   memRaffles{m},
		GroupBuys: memGroupBuys{m},
		Users:     memUsers{m},
		KV:        memKV{m},
		Ping:      func(context.Context) error { return nil },
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func timePtr(t time.Time) *time.Time { return &t }

// setOnce assigns at to *flag when it is nil.
func setOnce(flag **time.Time, at time.Time) bool {
	if *flag != nil {
		return false
	}
	*flag = timePtr(at)
	return true
}

func sortedSessions(src map[int64]*Session, keep func(Session) bool) []Session {
	var out []Session
	for _, s := range src {
		if keep(*s) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out
}

type memSessions struct{ m *Memory }

func (r memSessions) Pending(_ context.Context, now time.Time) ([]Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return sortedSessions(r.m.session, func(s Session) bool { return s.IsPending(now) }), nil
}

func (r memSessions) Current(_ context.Context, now time.Time) ([]Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return sortedSessions(r.m.session, func(s Session) bool { return s.ProcessedAt == nil && s.IsCurrent(now) }), nil
}

func (r memSessions) CreateIfNone(_ context.Context, now time.Time) (*Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var latestEnd time.Time
	for _, s := range r.m.session {
		if s.IsPending(now) {
			return nil, nil
		}
		if s.EndsAt.After(latestEnd) {
			latestEnd = s.EndsAt
		}
	}
	s := r.m.policy.Next(now, latestEnd)
	s.ID = r.m.id()
	s.CreatedAt = now
	r.m.session[s.ID] = &s
	out := s
	return &out, nil
}

func (r memSessions) MarkProcessed(_ context.Context, id int64, at time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.session[id]
	if !ok {
		return false, nil
	}
	return setOnce(&s.ProcessedAt, at), nil
}

func (r memSessions) Active(_ context.Context, now time.Time) (*Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	list := sortedSessions(r.m.session, func(s Session) bool { return s.ProcessedAt != nil && s.IsCurrent(now) })
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	s := list[len(list)-1]
	return &s, nil
}

func (r memSessions) Claim(_ context.Context, sessionID, userID int64, bonus int, at time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := [2]int64{sessionID, userID}
	if _, done := r.m.claims[key]; done {
		return false, nil
	}
	u, ok := r.m.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	r.m.claims[key] = at
	u.Clacks += bonus
	return true, nil
}

func (r memSessions) Create(_ context.Context, s *Session) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s.ID = r.m.id()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	r.m.session[s.ID] = &cp
	return nil
}

func (r memSessions) Get(_ context.Context, id int64) (*Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.session[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

type memRaffles struct{ m *Memory }

func (r memRaffles) Current(_ context.Context, now time.Time) (*Raffle, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var best *Raffle
	for _, raffle := range r.m.raffles {
		if raffle.EndsAt.Before(now) {
			continue
		}
		if best == nil || raffle.EndsAt.Before(best.EndsAt) || (raffle.EndsAt.Equal(best.EndsAt) && raffle.ID < best.ID) {
			best = raffle
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r memRaffles) MarkNotified(_ context.Context, id int64, at time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	raffle, ok := r.m.raffles[id]
	if !ok {
		return false, nil
	}
	return setOnce(&raffle.NotifiedAt, at), nil
}

func (r memRaffles) Create(_ context.Context, raffle *Raffle) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	raffle.ID = r.m.id()
	cp := *raffle
	r.m.raffles[raffle.ID] = &cp
	return nil
}

type memGroupBuys struct{ m *Memory }

func (r memGroupBuys) list(keep func(GroupBuy) bool, at func(GroupBuy) time.Time) []GroupBuy {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []GroupBuy
	for _, g := range r.m.gbs {
		if keep(*g) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return at(out[i]).Before(at(out[j])) })
	return out
}

func (r memGroupBuys) Pending(context.Context) ([]GroupBuy, error) {
	return r.list(
		func(g GroupBuy) bool { return g.NotifiedAt == nil },
		func(g GroupBuy) time.Time { return g.StartsAt },
	), nil
}

func (r memGroupBuys) Ending(context.Context) ([]GroupBuy, error) {
	return r.list(
		func(g GroupBuy) bool { return g.EndNotifiedAt == nil },
		func(g GroupBuy) time.Time { return g.EndsAt },
	), nil
}

func (r memGroupBuys) mark(id int64, at time.Time, flag func(*GroupBuy) **time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g, ok := r.m.gbs[id]
	if !ok {
		return false, nil
	}
	return setOnce(flag(g), at), nil
}

func (r memGroupBuys) MarkWarned(_ context.Context, id int64, at time.Time) (bool, error) {
	return r.mark(id, at, func(g *GroupBuy) **time.Time { return &g.WarnedAt })
}

func (r memGroupBuys) MarkNotified(_ context.Context, id int64, at time.Time) (bool, error) {
	return r.mark(id, at, func(g *GroupBuy) **time.Time { return &g.NotifiedAt })
}

func (r memGroupBuys) MarkEndWarned(_ context.Context, id int64, at time.Time) (bool, error) {
	return r.mark(id, at, func(g *GroupBuy) **time.Time { return &g.EndWarnedAt })
}

func (r memGroupBuys) MarkEndNotified(_ context.Context, id int64, at time.Time) (bool, error) {
	return r.mark(id, at, func(g *GroupBuy) **time.Time { return &g.EndNotifiedAt })
}

func (r memGroupBuys) Create(_ context.Context, g *GroupBuy) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g.ID = r.m.id()
	cp := *g
	r.m.gbs[g.ID] = &cp
	return nil
}

func (r memGroupBuys) Get(_ context.Context, id int64) (*GroupBuy, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g, ok := r.m.gbs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

type memUsers struct{ m *Memory }

func (r memUsers) findLocked(match func(*User) bool) (*User, error) {
	for _, u := range r.m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r memUsers) Find(_ context.Context, identifier string) (*User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if id, ok := ParseMention(identifier); ok {
		return r.findLocked(func(u *User) bool { return u.DiscordID != nil && *u.DiscordID == id })
	}
	return r.findLocked(func(u *User) bool { return strings.EqualFold(u.DisplayName, identifier) })
}

func (r memUsers) FindByDiscord(_ context.Context, discordID, wannabe string) (*User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, err := r.findLocked(func(u *User) bool { return u.DiscordID != nil && *u.DiscordID == discordID })
	if err == nil || wannabe == "" {
		return u, err
	}
	return r.findLocked(func(u *User) bool { return u.DiscordWannabe != nil && *u.DiscordWannabe == wannabe })
}

func (r memUsers) FindOrCreate(_ context.Context, displayName string) (*User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if u, err := r.findLocked(func(u *User) bool { return strings.EqualFold(u.DisplayName, displayName) }); err == nil {
		return u, nil
	}
	u := &User{ID: r.m.id(), DisplayName: displayName, CreatedAt: time.Now()}
	r.m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r memUsers) AddBonus(_ context.Context, id int64, amount int) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return 0, ErrNotFound
	}
	u.Clacks += amount
	return u.Clacks, nil
}

func (r memUsers) Daily(_ context.Context, id int64, now time.Time, cooldown time.Duration, reward DailyReward) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return ErrNotFound
	}
	if u.LastDailyAt != nil && now.Before(u.LastDailyAt.Add(cooldown)) {
		return redeemedError(u.LastDailyAt, now, cooldown)
	}
	u.Clacks += reward.Total()
	u.LastDailyAt = timePtr(now)
	return nil
}

func (r memUsers) Create(_ context.Context, u *User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u.ID = r.m.id()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	r.m.users[u.ID] = &cp
	return nil
}

type memKV struct{ m *Memory }

func (r memKV) Set(_ context.Context, key, value string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.kv[key] = value
	return nil
}

func (r memKV) Get(_ context.Context, key string) (string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.kv[key], nil
}
