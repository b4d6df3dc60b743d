package standup

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Weekdays is a set of days, bit i standing for time.Weekday(i).
type Weekdays uint8

const (
	NoDays      Weekdays = 0
	WorkingDays Weekdays = 1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday | 1<<time.Thursday | 1<<time.Friday
	Weekend     Weekdays = 1<<time.Saturday | 1<<time.Sunday
	EveryDay    Weekdays = WorkingDays | Weekend
)

func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << (d % 7)
	}
	return w
}

func (w Weekdays) Has(d time.Weekday) bool { return w&(1<<(d%7)) != 0 }

func (w Weekdays) Empty() bool { return w&EveryDay == 0 }

// String renders Monday-first runs, e.g. "Mon-Fri", "Mon,Wed,Fri", "Sat,Sun".
func (w Weekdays) String() string {
	switch w & EveryDay {
	case NoDays:
		return "none"
	case EveryDay:
		return "every day"
	}
	var parts []string
	runStart := -1
	for i := 1; i <= 8; i++ {
		in := i <= 7 && w.Has(time.Weekday(i%7))
		if in && runStart < 0 {
			runStart = i
		}
		if !in && runStart >= 0 {
			first, last := shortDay(runStart), shortDay(i-1)
			switch i - 1 - runStart {
			case 0:
				parts = append(parts, first)
			case 1:
				parts = append(parts, first, last)
			default:
				parts = append(parts, first+"-"+last)
			}
			runStart = -1
		}
	}
	return strings.Join(parts, ",")
}

func shortDay(i int) string { return time.Weekday(i % 7).String()[:3] }

var weekdayAliases = map[string]string{
	"weekdays": "mon-fri",
	"workdays": "mon-fri",
	"weekends": "sat,sun",
	"weekend":  "sat,sun",
	"daily":    "*",
	"everyday": "*",
	"all":      "*",
}

// dowParser only reads the day-of-week field; the other fields are fixed.
var dowParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseWeekdays parses a cron day-of-week expression ("mon-fri", "1-5",
// "mon,wed,fri", "*") or one of the aliases weekdays, weekends, daily, none.
func ParseWeekdays(raw string) (Weekdays, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return NoDays, fmt.Errorf("%w: empty", ErrInvalidWeekdays)
	}
	if s == "none" || s == "-" {
		return NoDays, nil
	}
	if alias, ok := weekdayAliases[s]; ok {
		s = alias
	}
	if strings.ContainsAny(s, " \t") {
		return NoDays, fmt.Errorf("%w: %q", ErrInvalidWeekdays, raw)
	}
	sched, err := dowParser.Parse("0 0 * * " + s)
	if err != nil {
		return NoDays, fmt.Errorf("%w: %q: %v", ErrInvalidWeekdays, raw, err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return NoDays, fmt.Errorf("%w: %q", ErrInvalidWeekdays, raw)
	}
	return Weekdays(spec.Dow) & EveryDay, nil
}
