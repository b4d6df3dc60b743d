// Package clock resolves "now" in the configured time zone and arms timers
// against it. Real follows the wall clock; Fake is driven by tests.
package clock

import (
	"sync/atomic"
	"time"
)

type Clock interface {
	// Now returns the current instant in the clock's zone.
	Now() time.Time
	// AfterFunc runs f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer (false if it already fired or was stopped).
	Stop() bool
}

// Real is the wall clock pinned to a zone. The zone can be swapped at runtime.
type Real struct {
	loc atomic.Pointer[time.Location]
}

func NewReal(loc *time.Location) *Real {
	c := &Real{}
	c.SetLocation(loc)
	return c
}

func (c *Real) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	c.loc.Store(loc)
}

func (c *Real) Location() *time.Location { return c.loc.Load() }

func (c *Real) Now() time.Time { return time.Now().In(c.loc.Load()) }

func (c *Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// LoadLocation resolves an IANA zone name; empty means time.Local.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
