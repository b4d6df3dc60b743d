package router

import (
	"context"
	"errors"

	"standupbot/internal/standup"
	"standupbot/pkg/tgui"
)

// UsageError carries a usage hint for a command called with bad arguments.
type UsageError struct{ Usage string }

func (e *UsageError) Error() string { return "usage: " + e.Usage }

// userMessage renders err as text for the chat. Details stay in the logs.
func userMessage(err error) string {
	var (
		ue *UsageError
		de *standup.DispatchError
	)
	switch {
	case errors.As(err, &ue):
		return "Usage: " + tgui.Code(ue.Usage).String()
	case errors.Is(err, standup.ErrInvalidTimeFormat):
		return "❌ Invalid time format. Use HH:MM, e.g. <code>/settime 17:30</code>"
	case errors.Is(err, standup.ErrInvalidTimeRange):
		return "❌ Time out of range. Hours go from 00 to 23 and minutes from 00 to 59."
	case errors.Is(err, standup.ErrInvalidWeekdays):
		return "❌ Invalid weekdays. Try <code>mon-fri</code>, <code>mon,wed,fri</code>, <code>daily</code> or <code>none</code>."
	case errors.As(err, &de):
		return "⚠️ Could not send the standup. Please try again later."
	case errors.Is(err, standup.ErrStopped):
		return "⚠️ The bot is shutting down."
	case errors.Is(err, context.DeadlineExceeded):
		return "⚠️ That took too long. Please try again."
	default:
		return "⚠️ Something went wrong."
	}
}
