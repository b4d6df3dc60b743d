package standup

import (
	"context"
	"strings"
	"sync"
	"time"

	"standupbot/internal/clock"
	logx "standupbot/pkg/logx"
)

// Defaults fill in what a /settime request leaves out.
type Defaults struct {
	Time     TimeOfDay
	Weekdays Weekdays
}

// Info is a schedule as shown to users.
type Info struct {
	Schedule
	Next time.Time // zero when dormant
	Zone string
}

// Service is the entry point for the command layer.
type Service struct {
	log    logx.Logger
	clock  clock.Clock
	engine *Engine

	mu       sync.RWMutex
	defaults Defaults
	seeded   map[int64]struct{} // chats Bootstrap has already handled
}

func NewService(engine *Engine, clk clock.Clock, defaults Defaults, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, clock: clk, engine: engine, defaults: defaults, seeded: map[int64]struct{}{}}
}

func (s *Service) Apply(d Defaults) {
	s.mu.Lock()
	s.defaults = d
	s.mu.Unlock()
}

func (s *Service) Defaults() Defaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// Zone names the time zone all schedules are interpreted in.
func (s *Service) Zone() string { return s.clock.Now().Location().String() }

// SetSchedule parses rawTime ("HH:MM", empty for the default) and rawWeekdays
// (empty for the default) and replaces the chat's schedule. Invalid input
// leaves the current schedule untouched.
func (s *Service) SetSchedule(chatID int64, rawTime, rawWeekdays string) (Info, error) {
	d := s.Defaults()
	tod := d.Time
	if strings.TrimSpace(rawTime) != "" {
		t, err := ParseTimeOfDay(rawTime)
		if err != nil {
			return Info{}, err
		}
		tod = t
	}
	days := d.Weekdays
	if strings.TrimSpace(rawWeekdays) != "" {
		w, err := ParseWeekdays(rawWeekdays)
		if err != nil {
			return Info{}, err
		}
		days = w
	}
	sched, err := s.engine.Set(chatID, tod, days)
	if err != nil {
		return Info{}, err
	}
	return s.info(sched), nil
}

// TriggerNow sends the standup to chatID immediately. Send failures come back
// as *DispatchError; ErrStopped once the engine is shutting down.
func (s *Service) TriggerNow(ctx context.Context, chatID int64) error {
	return s.engine.DispatchNow(ctx, chatID)
}

func (s *Service) Cancel(chatID int64) bool { return s.engine.Remove(chatID) }

func (s *Service) Get(chatID int64) (Info, bool) {
	sched, ok := s.engine.reg.Get(chatID)
	if !ok {
		return Info{}, false
	}
	return s.info(sched), true
}

func (s *Service) Snapshot() []Info {
	entries := s.engine.Snapshot()
	zone := s.Zone()
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, Info{Schedule: e.Schedule, Next: e.Next, Zone: zone})
	}
	return out
}

func (s *Service) Stats() Stats { return s.engine.Stats() }

// Bootstrap installs the default schedule for configured chats that have
// none. Each chat is seeded at most once per process: a chat whose schedule
// was cancelled stays cancelled across config reloads.
func (s *Service) Bootstrap(chatIDs []int64) {
	d := s.Defaults()
	for _, id := range chatIDs {
		if id == 0 {
			continue
		}
		s.mu.Lock()
		_, done := s.seeded[id]
		s.seeded[id] = struct{}{}
		s.mu.Unlock()
		if done {
			continue
		}
		if _, _, err := s.engine.SetIfAbsent(id, d.Time, d.Weekdays); err != nil {
			s.log.Warn("bootstrap schedule failed", logx.ChatID(id), logx.Err(err))
		}
	}
}

func (s *Service) info(sched Schedule) Info {
	inf := Info{Schedule: sched, Zone: s.Zone()}
	if next, ok := s.engine.Next(sched.ChatID); ok {
		inf.Next = next
	}
	return inf
}
