package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// AlreadyRedeemedError is returned by a daily claim made before the cooldown elapsed.
type AlreadyRedeemedError struct {
	NextSlot time.Time
}

func (e *AlreadyRedeemedError) Error() string {
	return fmt.Sprintf("daily already redeemed, next slot at %s", e.NextSlot.Format(time.RFC3339))
}

func redeemedError(last *time.Time, now time.Time, cooldown time.Duration) error {
	next := now
	if last != nil {
		next = last.Add(cooldown)
	}
	return &AlreadyRedeemedError{NextSlot: next}
}
