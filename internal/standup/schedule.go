package standup

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

var reHHMM = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseTimeOfDay parses "HH:MM" in 24h form.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	m := reHHMM.FindStringSubmatch(s)
	if m == nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q (want HH:MM)", ErrInvalidTimeFormat, raw)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	t := TimeOfDay{Hour: h, Minute: mm}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("%w: %q (hour 00-23, minute 00-59)", ErrInvalidTimeRange, raw)
	}
	return t, nil
}

// Schedule is the single active recurrence of a chat.
type Schedule struct {
	ChatID   int64
	Time     TimeOfDay
	Weekdays Weekdays
	// Generation increases on every replacement; timers armed for an older
	// generation are discarded when they fire.
	Generation uint64
	UpdatedAt  time.Time
}

// Dormant reports whether the schedule can never fire.
func (s Schedule) Dormant() bool { return s.Weekdays.Empty() }

// Next returns the earliest instant >= from whose wall time in from's zone is
// s.Time on one of s.Weekdays. ok is false for a dormant schedule.
func (s Schedule) Next(from time.Time) (time.Time, bool) {
	if s.Dormant() || !s.Time.Valid() {
		return time.Time{}, false
	}
	loc := from.Location()
	for i := 0; i <= 7; i++ {
		day := from.AddDate(0, 0, i)
		cand := time.Date(day.Year(), day.Month(), day.Day(), s.Time.Hour, s.Time.Minute, 0, 0, loc)
		if cand.Before(from) || !s.Weekdays.Has(cand.Weekday()) {
			continue
		}
		return cand, true
	}
	return time.Time{}, false
}

// floorMinute drops seconds and below, keeping the zone.
func floorMinute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}
