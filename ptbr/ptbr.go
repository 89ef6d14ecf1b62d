// Package ptbr formats the Brazilian Portuguese bits of the bot replies: relative times such as
// "em 2 horas" and simple plurals.
package ptbr

import (
	"fmt"
	"math"
	"time"
)

// Relative describes d the way chat users read it ("uma hora", "3 dias"). Thresholds follow the
// usual rounding of relative dates: under 45s is "poucos segundos", under 90s "um minuto" and so on.
func Relative(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	secs := d.Seconds()
	mins := secs / 60
	hours := mins / 60
	days := hours / 24
	switch {
	case secs < 45:
		return "poucos segundos"
	case secs < 90:
		return "um minuto"
	case mins < 45:
		return fmt.Sprintf("%d minutos", round(mins))
	case mins < 90:
		return "uma hora"
	case hours < 22:
		return fmt.Sprintf("%d horas", round(hours))
	case hours < 36:
		return "um dia"
	case days < 26:
		return fmt.Sprintf("%d dias", round(days))
	case days < 45:
		return "um mês"
	case days < 320:
		return fmt.Sprintf("%d meses", round(days/30.4))
	case days < 548:
		return "um ano"
	}
	return fmt.Sprintf("%d anos", round(days/365))
}

// FromNow renders t relative to now: "em 2 horas" for the future, "há 2 horas" for the past.
func FromNow(now, t time.Time) string {
	if t.Before(now) {
		return "há " + Relative(now.Sub(t))
	}
	return "em " + Relative(t.Sub(now))
}

// Plural appends suffix (default "s") to word unless n is one.
func Plural(word string, n int, suffix ...string) string {
	if n == 1 {
		return word
	}
	if len(suffix) > 0 {
		return word + suffix[0]
	}
	return word + "s"
}

func round(f float64) int { return int(math.Round(f)) }
