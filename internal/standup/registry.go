package standup

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry holds at most one Schedule per chat. It is pure state: it never
// arms timers or dispatches. All methods are linearizable.
type Registry struct {
	mu    sync.RWMutex
	byID  map[int64]Schedule
	gens  map[int64]uint64 // survives Remove so a re-created schedule never reuses a generation
	nowFn func() time.Time
}

func NewRegistry(nowFn func() time.Time) *Registry {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Registry{
		byID:  map[int64]Schedule{},
		gens:  map[int64]uint64{},
		nowFn: nowFn,
	}
}

// Set validates tod and atomically replaces the chat's schedule.
// On error the previous schedule stays in force.
func (r *Registry) Set(chatID int64, tod TimeOfDay, days Weekdays) (Schedule, error) {
	if !tod.Valid() {
		return Schedule{}, fmt.Errorf("%w: %s", ErrInvalidTimeRange, tod)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	gen := r.gens[chatID] + 1
	r.gens[chatID] = gen
	s := Schedule{
		ChatID:     chatID,
		Time:       tod,
		Weekdays:   days & EveryDay,
		Generation: gen,
		UpdatedAt:  r.nowFn(),
	}
	r.byID[chatID] = s
	return s, nil
}

func (r *Registry) Get(chatID int64) (Schedule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[chatID]
	return s, ok
}

// Remove deletes the chat's schedule and reports whether one existed.
func (r *Registry) Remove(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[chatID]; !ok {
		return false
	}
	delete(r.byID, chatID)
	r.gens[chatID]++
	return true
}

// List returns all schedules ordered by chat id.
func (r *Registry) List() []Schedule {
	r.mu.RLock()
	out := make([]Schedule, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
