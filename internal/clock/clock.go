// Package clock is the time source for run timestamps, cache expiry and
// watch scheduling. Tests swap in a MockClock.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Until(t time.Time) time.Duration
}

type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (systemClock) Until(t time.Time) time.Duration { return time.Until(t) }

// System is the wall clock.
var System Clock = systemClock{}

// MockClock only moves when told to.
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewMockClock returns a MockClock stopped at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }
func (c *MockClock) Until(t time.Time) time.Duration { return t.Sub(c.Now()) }

// Set moves the clock to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

type holder struct{ Clock }

var active atomic.Pointer[holder]

func init() {
	active.Store(&holder{System})
}

// SetDefault replaces the package-level clock and returns a func that
// restores the previous one.
func SetDefault(c Clock) (restore func()) {
	prev := active.Swap(&holder{c})
	return func() { active.Store(prev) }
}

// Default returns the package-level clock.
func Default() Clock {
	return active.Load().Clock
}

// Now reads the package-level clock.
func Now() time.Time { return Default().Now() }

// Since is Now().Sub(t) on the package-level clock.
func Since(t time.Time) time.Duration { return Default().Since(t) }

// Until is t.Sub(Now()) on the package-level clock.
func Until(t time.Time) time.Duration { return Default().Until(t) }
