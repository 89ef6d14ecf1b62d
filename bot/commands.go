package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srteclados/clackbot/hangman"
	"github.com/srteclados/clackbot/ptbr"
	"github.com/srteclados/clackbot/store"
)

// Hangman rewards.
const (
	GuessBonus = 1
	WinBonus   = 5
)

func builtinCommands() []Command {
	return []Command{
		{Name: "pegar", Interfaces: []string{Twitch, Discord}, Handle: pegar},
		{Name: "clacks", Interfaces: []string{Twitch, Discord}, Handle: clacks},
		{Name: "daily", Interfaces: []string{Discord}, Handle: daily},
		{Name: "forca", Interfaces: []string{Discord}, Handle: forca},
	}
}

func pegar(ctx context.Context, b *Bot, call *Call) error {
	now := b.deps.Now()
	session, err := b.deps.Store.Sessions.Active(ctx, now)
	if errors.Is(err, store.ErrNotFound) {
		return call.Reply(ctx, "não tem nenhuma rodada de clacks ativa agora.")
	}
	if err != nil {
		return err
	}
	paid, err := b.deps.Store.Sessions.Claim(ctx, session.ID, call.User.ID, session.Bonus, now)
	if err != nil {
		return err
	}
	if !paid {
		return call.Reply(ctx, "você já pegou os clacks dessa rodada.")
	}
	return call.Reply(ctx, fmt.Sprintf("você pegou %d clack(s)!", session.Bonus))
}

func clacks(ctx context.Context, _ *Bot, call *Call) error {
	return call.Reply(ctx, fmt.Sprintf("você tem %d clack(s).", call.User.Clacks))
}

func daily(ctx context.Context, b *Bot, call *Call) error {
	now := b.deps.Now()
	reward := b.deps.RollDaily()
	err := b.deps.Store.Users.Daily(ctx, call.User.ID, now, b.deps.DailyCooldown, reward)
	var redeemed *store.AlreadyRedeemedError
	if errors.As(err, &redeemed) {
		return call.Reply(ctx, fmt.Sprintf("você já pegou seu daily hoje. Você pode pegar de novo %s.", ptbr.FromNow(now, redeemed.NextSlot)))
	}
	if err != nil {
		return err
	}
	return call.Reply(ctx, fmt.Sprintf("você recebeu :sun_with_face: **%d** + :coin: **%d** clacks!", reward.Sols, reward.Bonus))
}

func forca(ctx context.Context, b *Bot, call *Call) error {
	game := b.deps.Hangman
	if game.StartIfIdle() {
		return call.SendToChannel(ctx, "`"+game.Picture()+"`")
	}
	if len(call.Args) == 0 {
		return call.Reply(ctx, "faltou a letra... Use `!forca <letra>` para chutar uma letra.")
	}
	guess := call.Args[0]
	upper := strings.ToUpper(guess)

	hits, err := game.Guess(guess)
	var already *hangman.AlreadyGuessedError
	switch {
	case errors.As(err, &already):
		return call.Reply(ctx, fmt.Sprintf("a letra %s já foi usada, tente outra.", upper))
	case errors.Is(err, hangman.ErrInvalidLetter):
		return call.Reply(ctx, "faltou a letra... Use `!forca <letra>` para chutar uma letra.")
	case err != nil:
		return err
	}
	picture := game.Picture()

	switch {
	case game.IsFinished() && game.IsWin():
		game.Reset()
		if _, err := b.deps.Store.Users.AddBonus(ctx, call.User.ID, WinBonus); err != nil {
			return err
		}
		if err := call.Reply(ctx, fmt.Sprintf("você acertou a palavra e ganhou :coin: **%d**. :heart:", WinBonus)); err != nil {
			return err
		}
	case game.IsFinished():
		game.Reset()
		if err := call.Reply(ctx, fmt.Sprintf("você foi enforcado! A palavra era **%s**. :skull:", strings.ToUpper(game.Word()))); err != nil {
			return err
		}
	case hits > 0:
		bonus := GuessBonus * hits
		if _, err := b.deps.Store.Users.AddBonus(ctx, call.User.ID, bonus); err != nil {
			return err
		}
		text := fmt.Sprintf("%s %d %s %s na palavra, vc ganhou :coin: **%d**.",
			ptbr.Plural("existe", hits, "m"), hits, ptbr.Plural("letra", hits), upper, bonus)
		if err := call.Reply(ctx, text); err != nil {
			return err
		}
	default:
		if err := call.Reply(ctx, fmt.Sprintf("não existe nenhuma letra %s na palavra. :cry:", upper)); err != nil {
			return err
		}
	}
	return call.SendToChannel(ctx, "`"+picture+"`")
}
