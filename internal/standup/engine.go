package standup

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"standupbot/internal/clock"
	logx "standupbot/pkg/logx"
)

const defaultDispatchTimeout = 30 * time.Second

// Engine turns registry schedules into timed dispatches. Each chat owns at
// most one armed timer, tagged with the generation it was armed for.
type Engine struct {
	log    logx.Logger
	clock  clock.Clock
	reg    *Registry
	action Action

	timeout atomic.Int64 // time.Duration

	mu      sync.Mutex // guards slots and stopped
	slots   map[int64]*slot
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fired     atomic.Uint64
	failed    atomic.Uint64
	discarded atomic.Uint64
}

// slot is the per-chat engine state. mu serializes Set, Remove and fire for
// the chat; lane serializes dispatch invocations.
type slot struct {
	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	due     time.Time
	lastDue time.Time
	lane    chan struct{}
}

type EngineConfig struct {
	DispatchTimeout time.Duration
}

// Entry is a point-in-time view of one chat.
type Entry struct {
	Schedule Schedule
	Next     time.Time // zero when dormant
}

type Stats struct {
	Chats     int
	Armed     int
	Fired     uint64
	Failed    uint64
	Discarded uint64
}

func NewEngine(reg *Registry, clk clock.Clock, action Action, log logx.Logger, cfg EngineConfig) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		log:    log,
		clock:  clk,
		reg:    reg,
		action: action,
		slots:  map[int64]*slot{},
		ctx:    ctx,
		cancel: cancel,
	}
	e.Apply(cfg)
	return e
}

func (e *Engine) Apply(cfg EngineConfig) {
	d := cfg.DispatchTimeout
	if d <= 0 {
		d = defaultDispatchTimeout
	}
	e.timeout.Store(int64(d))
}

// slotFor returns the chat's slot, creating it on first use. Slots outlive
// Remove so lastDue still blocks a second post in the same minute after a
// cancel and re-create.
func (e *Engine) slotFor(chatID int64) *slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	sl := e.slots[chatID]
	if sl == nil {
		sl = &slot{lane: make(chan struct{}, 1)}
		e.slots[chatID] = sl
	}
	return sl
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Set replaces the chat's schedule and re-arms its timer. The old timer is
// cancelled before the new one is armed, under the chat's lock.
func (e *Engine) Set(chatID int64, tod TimeOfDay, days Weekdays) (Schedule, error) {
	if !tod.Valid() {
		return Schedule{}, fmt.Errorf("%w: %s", ErrInvalidTimeRange, tod)
	}
	sl := e.slotFor(chatID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if e.isStopped() {
		return Schedule{}, ErrStopped
	}

	s, err := e.reg.Set(chatID, tod, days)
	if err != nil {
		return Schedule{}, err
	}
	e.disarmLocked(sl)
	e.armLocked(sl, s, e.armFrom(sl))
	e.log.Info("schedule installed",
		logx.ChatID(chatID),
		logx.String("time", s.Time.String()),
		logx.String("weekdays", s.Weekdays.String()),
		logx.Uint64("generation", s.Generation),
	)
	return s, nil
}

// SetIfAbsent installs a schedule only when the chat has none. The check and
// the install happen under the chat's lock, so a concurrent Set always wins.
func (e *Engine) SetIfAbsent(chatID int64, tod TimeOfDay, days Weekdays) (Schedule, bool, error) {
	if !tod.Valid() {
		return Schedule{}, false, fmt.Errorf("%w: %s", ErrInvalidTimeRange, tod)
	}
	sl := e.slotFor(chatID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if e.isStopped() {
		return Schedule{}, false, ErrStopped
	}
	if cur, ok := e.reg.Get(chatID); ok {
		return cur, false, nil
	}
	s, err := e.reg.Set(chatID, tod, days)
	if err != nil {
		return Schedule{}, false, err
	}
	e.armLocked(sl, s, e.armFrom(sl))
	e.log.Info("default schedule installed",
		logx.ChatID(chatID),
		logx.String("time", s.Time.String()),
		logx.String("weekdays", s.Weekdays.String()),
	)
	return s, true, nil
}

// Remove deletes the chat's schedule and cancels its timer.
func (e *Engine) Remove(chatID int64) bool {
	sl := e.slotFor(chatID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	removed := e.reg.Remove(chatID)
	e.disarmLocked(sl)
	if removed {
		e.log.Info("schedule removed", logx.ChatID(chatID))
	}
	return removed
}

// Rearm recomputes every chat's timer from the registry, e.g. after the
// clock's zone changed.
func (e *Engine) Rearm() {
	e.mu.Lock()
	ids := make([]int64, 0, len(e.slots))
	for id := range e.slots {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		sl := e.slotFor(id)
		sl.mu.Lock()
		if !e.isStopped() {
			e.disarmLocked(sl)
			if s, ok := e.reg.Get(id); ok {
				e.armLocked(sl, s, e.armFrom(sl))
			}
		}
		sl.mu.Unlock()
	}
	e.log.Info("schedules re-armed", logx.Int("chats", len(ids)))
}

// armFrom is where the due-instant search starts for a fresh arm: the current
// minute (so a time equal to now fires immediately), but never at or before an
// instant this chat already dispatched.
func (e *Engine) armFrom(sl *slot) time.Time {
	from := floorMinute(e.clock.Now())
	if !sl.lastDue.IsZero() {
		if after := sl.lastDue.Add(time.Minute); after.After(from) {
			from = after.In(from.Location())
		}
	}
	return from
}

func (e *Engine) armLocked(sl *slot, s Schedule, from time.Time) {
	due, ok := s.Next(from)
	if !ok {
		e.log.Debug("schedule dormant; nothing armed", logx.ChatID(s.ChatID), logx.Uint64("generation", s.Generation))
		return
	}
	delay := due.Sub(e.clock.Now())
	if delay < 0 {
		delay = 0
	}
	chatID, gen := s.ChatID, s.Generation
	sl.gen = gen
	sl.due = due
	sl.timer = e.clock.AfterFunc(delay, func() { e.fire(chatID, gen, due) })
	e.log.Debug("timer armed",
		logx.ChatID(chatID),
		logx.Uint64("generation", gen),
		logx.Time("due", due),
		logx.Duration("in", delay),
	)
}

func (e *Engine) disarmLocked(sl *slot) {
	if sl.timer != nil {
		sl.timer.Stop()
		sl.timer = nil
	}
	sl.gen = 0
	sl.due = time.Time{}
}

func (e *Engine) fire(chatID int64, gen uint64, due time.Time) {
	sl := e.slotFor(chatID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if e.isStopped() {
		return
	}
	cur, ok := e.reg.Get(chatID)
	if !ok || cur.Generation != gen || sl.gen != gen {
		// superseded between arming and firing
		e.discarded.Add(1)
		e.log.Debug("stale timer discarded", logx.ChatID(chatID), logx.Uint64("generation", gen))
		return
	}
	sl.timer = nil
	sl.lastDue = due

	e.launch(sl, chatID, due)

	from := due.Add(time.Minute)
	if now := floorMinute(e.clock.Now()); now.After(from) {
		from = now
	}
	e.armLocked(sl, cur, from)
}

// launch hands the dispatch to a goroutine and returns at once; the caller
// re-arms right after. The goroutine queues on the chat's lane, so a slow
// dispatch delays the next one for that chat but never the re-arm.
func (e *Engine) launch(sl *slot, chatID int64, due time.Time) {
	e.wg.Add(1)
	runID := uuid.NewString()
	go func() {
		defer e.wg.Done()
		select {
		case sl.lane <- struct{}{}:
		case <-e.ctx.Done():
			return
		}
		defer func() { <-sl.lane }()
		if err := e.invoke(e.ctx, chatID, runID); err != nil {
			return
		}
		e.log.Info("standup dispatched", logx.ChatID(chatID), logx.String("run_id", runID), logx.Time("due", due))
	}()
}

// DispatchNow runs the action for chatID synchronously, outside any schedule,
// queued behind an in-flight dispatch for the same chat.
func (e *Engine) DispatchNow(ctx context.Context, chatID int64) error {
	if e.isStopped() {
		return ErrStopped
	}
	sl := e.slotFor(chatID)
	select {
	case sl.lane <- struct{}{}:
	case <-ctx.Done():
		return &DispatchError{ChatID: chatID, Err: ctx.Err()}
	}
	defer func() { <-sl.lane }()
	return e.invoke(ctx, chatID, uuid.NewString())
}

func (e *Engine) invoke(ctx context.Context, chatID int64, runID string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.timeout.Load()))
	defer cancel()
	start := time.Now()
	log := e.log.With(logx.ChatID(chatID), logx.String("run_id", runID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = &DispatchError{ChatID: chatID, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			e.failed.Add(1)
		} else {
			e.fired.Add(1)
		}
	}()

	if derr := e.action.Dispatch(ctx, chatID); derr != nil {
		log.Error("dispatch failed", logx.Err(derr), logx.Duration("took", time.Since(start)))
		return &DispatchError{ChatID: chatID, Err: derr}
	}
	return nil
}

// Next reports the armed due instant for chatID.
func (e *Engine) Next(chatID int64) (time.Time, bool) {
	e.mu.Lock()
	sl := e.slots[chatID]
	e.mu.Unlock()
	if sl == nil {
		return time.Time{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.timer == nil {
		return time.Time{}, false
	}
	return sl.due, true
}

func (e *Engine) Snapshot() []Entry {
	list := e.reg.List()
	out := make([]Entry, 0, len(list))
	for _, s := range list {
		ent := Entry{Schedule: s}
		if next, ok := e.Next(s.ChatID); ok {
			ent.Next = next
		}
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Schedule.ChatID < out[j].Schedule.ChatID })
	return out
}

func (e *Engine) Stats() Stats {
	st := Stats{
		Chats:     e.reg.Len(),
		Fired:     e.fired.Load(),
		Failed:    e.failed.Load(),
		Discarded: e.discarded.Load(),
	}
	for _, ent := range e.Snapshot() {
		if !ent.Next.IsZero() {
			st.Armed++
		}
	}
	return st
}

// Wait blocks until every launched dispatch has returned.
func (e *Engine) Wait() { e.wg.Wait() }

// Stop cancels all timers and waits for in-flight dispatches until ctx ends,
// after which they are cancelled.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	slots := make([]*slot, 0, len(e.slots))
	for _, sl := range e.slots {
		slots = append(slots, sl)
	}
	e.mu.Unlock()

	for _, sl := range slots {
		sl.mu.Lock()
		e.disarmLocked(sl)
		sl.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	defer e.cancel()
	select {
	case <-done:
		e.log.Info("engine stopped", logx.Int("chats", len(slots)))
		return nil
	case <-ctx.Done():
		e.log.Warn("engine stop timed out; cancelling in-flight dispatches", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}
