package store

import (
	"math/rand/v2"
	"time"
)

// SessionPolicy draws the start offset, duration and bonus of new sessions.
// Each range is inclusive; a range with equal bounds always yields that bound.
type SessionPolicy struct {
	GapMin, GapMax           time.Duration
	DurationMin, DurationMax int // minutes
	BonusMin, BonusMax       int
}

// DefaultSessionPolicy mirrors the SESSION_* defaults.
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		GapMin: 10 * time.Minute, GapMax: 30 * time.Minute,
		DurationMin: 2, DurationMax: 5,
		BonusMin: 5, BonusMax: 20,
	}
}

// Next builds the session that follows latestEnd. A zero latestEnd means no session exists yet.
// Sessions never overlap: the start is at least max(now, latestEnd).
func (p SessionPolicy) Next(now, latestEnd time.Time) Session {
	base := now
	if latestEnd.After(base) {
		base = latestEnd
	}
	gap := p.GapMin
	if p.GapMax > p.GapMin {
		gap += time.Duration(rand.Int64N(int64(p.GapMax-p.GapMin) + 1)) //nolint:gosec // G404: scheduling jitter
	}
	duration := intBetween(p.DurationMin, p.DurationMax)
	if duration <= 0 {
		duration = 1
	}
	start := base.Add(gap)
	return Session{
		StartsAt: start,
		EndsAt:   start.Add(time.Duration(duration) * time.Minute),
		Duration: duration,
		Bonus:    intBetween(p.BonusMin, p.BonusMax),
	}
}

// RollDaily draws the daily reward: sols in [1,6] and bonus in [0,3].
func RollDaily() DailyReward {
	return DailyReward{Sols: intBetween(1, 6), Bonus: intBetween(0, 3)}
}

func intBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1) //nolint:gosec // G404: game rewards, not security
}
