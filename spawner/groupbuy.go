package spawner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/srteclados/clackbot/ptbr"
	"github.com/srteclados/clackbot/store"
	"github.com/srteclados/clackbot/telemetry"
)

type markFunc func(ctx context.Context, id int64, at time.Time) (bool, error)

// CheckDiscord announces group-buy starts and ends in the announce channel. It does nothing
// unless an alert role is configured.
func (s *Spawner) CheckDiscord(ctx context.Context, now time.Time) error {
	if s.cfg.AlertRole == "" || s.discord == nil {
		return nil
	}
	ch, err := s.discord.FindChannel(ctx, s.cfg.AnnounceChannel)
	if err != nil {
		return fmt.Errorf("announce channel: %w", err)
	}

	pending, err := s.store.GroupBuys.Pending(ctx)
	if err != nil {
		return fmt.Errorf("pending group buys: %w", err)
	}
	var errs []error
	for _, gb := range pending {
		errs = append(errs, s.checkStart(ctx, ch.ID, gb, now))
	}

	ending, err := s.store.GroupBuys.Ending(ctx)
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("ending group buys: %w", err))...)
	}
	for _, gb := range ending {
		errs = append(errs, s.checkEnd(ctx, ch.ID, gb, now))
	}
	return errors.Join(errs...)
}

func (s *Spawner) checkStart(ctx context.Context, channelID string, gb store.GroupBuy, now time.Time) error {
	role := s.cfg.AlertRole
	switch {
	case gb.HasStarted(now):
		return s.announce(ctx, channelID, "gb_start", gb, now, s.store.GroupBuys.MarkNotified,
			fmt.Sprintf("<@&%s> **%s** começou - %s", role, gb.Name, gb.URL))
	case gb.WarnedAt == nil && s.withinLead(now, gb.StartsAt):
		return s.announce(ctx, channelID, "gb_warn", gb, now, s.store.GroupBuys.MarkWarned,
			fmt.Sprintf("<@&%s> **%s** começa %s - %s", role, gb.Name, ptbr.FromNow(now, gb.StartsAt), gb.URL))
	}
	return nil
}

func (s *Spawner) checkEnd(ctx context.Context, channelID string, gb store.GroupBuy, now time.Time) error {
	role := s.cfg.AlertRole
	switch {
	case !gb.EndsAt.After(now):
		return s.announce(ctx, channelID, "gb_end", gb, now, s.store.GroupBuys.MarkEndNotified,
			fmt.Sprintf("<@&%s> **%s** terminou", role, gb.Name))
	case gb.HasStarted(now) && gb.EndWarnedAt == nil && s.withinLead(now, gb.EndsAt):
		return s.announce(ctx, channelID, "gb_end_warn", gb, now, s.store.GroupBuys.MarkEndWarned,
			fmt.Sprintf("<@&%s> **%s** termina %s - %s", role, gb.Name, ptbr.FromNow(now, gb.EndsAt), gb.URL))
	}
	return nil
}

// withinLead reports whether a countdown for t may go out at now. A zero lead warns on the
// first tick that sees the group buy.
func (s *Spawner) withinLead(now, t time.Time) bool {
	return s.cfg.WarnLead <= 0 || t.Sub(now) <= s.cfg.WarnLead
}

// announce sends text only when this call moved the flag; a lost compare-and-set means another
// tick already announced.
func (s *Spawner) announce(ctx context.Context, channelID, kind string, gb store.GroupBuy, now time.Time, mark markFunc, text string) error {
	won, err := mark(ctx, gb.ID, now)
	if err != nil {
		return fmt.Errorf("%s group buy %d: %w", kind, gb.ID, err)
	}
	if !won {
		return nil
	}
	if err := s.discord.Send(ctx, channelID, text); err != nil {
		return fmt.Errorf("%s group buy %d: send: %w", kind, gb.ID, err)
	}
	telemetry.IncAnnouncement(kind)
	telemetry.LoggerWithCorr(ctx).Info("group buy announced", slog.String("component", "spawner"), slog.String("kind", kind), slog.Int64("group_buy_id", gb.ID))
	return nil
}
