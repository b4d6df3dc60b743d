package standup

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTimeFormat means the input is not HH:MM.
	ErrInvalidTimeFormat = errors.New("invalid time format")
	// ErrInvalidTimeRange means HH:MM parsed but hour or minute is out of bounds.
	ErrInvalidTimeRange = errors.New("time out of range")
	ErrInvalidWeekdays  = errors.New("invalid weekdays")
	ErrStopped          = errors.New("scheduler stopped")
)

// DispatchError reports a failed dispatch for one chat.
type DispatchError struct {
	ChatID int64
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to chat %d failed: %v", e.ChatID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
