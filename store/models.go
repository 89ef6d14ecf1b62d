package store

import (
	"regexp"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Session is a timed bonus-claim window. ProcessedAt is set once, when the window is announced.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID          int64      `bun:"id,pk,autoincrement"`
	StartsAt    time.Time  `bun:"starts_at,notnull"`
	EndsAt      time.Time  `bun:"ends_at,notnull"`
	Duration    int        `bun:"duration,notnull"`
	Bonus       int        `bun:"bonus,notnull"`
	ProcessedAt *time.Time `bun:"processed_at"`
	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// IsPending reports whether the session has not been announced and has not started yet.
func (s Session) IsPending(now time.Time) bool {
	return s.ProcessedAt == nil && !s.StartsAt.Before(now) && !s.EndsAt.Before(now)
}

// IsCurrent reports whether now falls inside [StartsAt, EndsAt].
func (s Session) IsCurrent(now time.Time) bool {
	return !s.StartsAt.After(now) && !s.EndsAt.Before(now)
}

// SessionClaim records a viewer taking the bonus of an activated session.
type SessionClaim struct {
	bun.BaseModel `bun:"table:session_claims,alias:sc"`

	SessionID int64     `bun:"session_id,pk"`
	UserID    int64     `bun:"user_id,pk"`
	ClaimedAt time.Time `bun:"claimed_at,notnull"`
}

type Raffle struct {
	bun.BaseModel `bun:"table:raffles,alias:r"`

	ID         int64      `bun:"id,pk,autoincrement"`
	Name       string     `bun:"name,notnull"`
	EndsAt     time.Time  `bun:"ends_at,notnull"`
	NotifiedAt *time.Time `bun:"notified_at"`
	CreatedAt  time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// GroupBuy is an externally created purchase pool. Each of the four flags moves from nil to
// set at most once.
type GroupBuy struct {
	bun.BaseModel `bun:"table:group_buys,alias:gb"`

	ID            int64      `bun:"id,pk,autoincrement"`
	Name          string     `bun:"name,notnull"`
	URL           string     `bun:"url,notnull"`
	StartsAt      time.Time  `bun:"starts_at,notnull"`
	EndsAt        time.Time  `bun:"ends_at,notnull"`
	WarnedAt      *time.Time `bun:"warned_at"`
	NotifiedAt    *time.Time `bun:"notified_at"`
	EndWarnedAt   *time.Time `bun:"end_warned_at"`
	EndNotifiedAt *time.Time `bun:"end_notified_at"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// HasStarted reports whether the group buy start instant has passed.
func (g GroupBuy) HasStarted(now time.Time) bool { return !g.StartsAt.After(now) }

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID             int64      `bun:"id,pk,autoincrement"`
	DisplayName    string     `bun:"display_name,notnull"`
	DiscordID      *string    `bun:"discord_id"`
	DiscordWannabe *string    `bun:"discord_wannabe"`
	Clacks         int        `bun:"clacks,notnull,default:0"`
	LastDailyAt    *time.Time `bun:"last_daily_at"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// DailyReward is the outcome of a daily claim; both parts are added to the balance.
type DailyReward struct {
	Sols  int
	Bonus int
}

func (d DailyReward) Total() int { return d.Sols + d.Bonus }

type kvEntry struct {
	bun.BaseModel `bun:"table:kv,alias:kv"`

	Key       string    `bun:"key,pk"`
	Value     string    `bun:"value"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

var mentionRe = regexp.MustCompile(`^<@!?(\d+)>$`)

// ParseMention extracts the user id of a Discord mention such as <@123> or <@!123>.
func ParseMention(s string) (string, bool) {
	m := mentionRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	return m[1], true
}
