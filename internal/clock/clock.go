// Package clock abstracts wall time and one-shot timers so the trial engine
// can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// UnixMilli returns the clock's current time in Unix milliseconds.
func UnixMilli(c Clock) int64 {
	return c.Now().UnixMilli()
}

type systemClock struct{}

// System returns the process wall clock backed by time.AfterFunc.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type dispatchClock struct {
	base     Clock
	dispatch func(func())
}

// WithDispatch wraps base so timer callbacks are handed to dispatch instead
// of running on the timer goroutine. The hub uses it to serialize timer
// firings onto a participant's event loop.
func WithDispatch(base Clock, dispatch func(func())) Clock {
	if dispatch == nil {
		return base
	}
	return &dispatchClock{base: base, dispatch: dispatch}
}

func (c *dispatchClock) Now() time.Time {
	return c.base.Now()
}

func (c *dispatchClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.base.AfterFunc(d, func() {
		c.dispatch(f)
	})
}

// Manual is a clock that only moves when Advance is called. Timers fire
// synchronously from Advance in deadline order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	clock    *Manual
	deadline time.Time
	seq      uint64
	fn       func()
	done     bool
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	m.seq++
	timer := &manualTimer{clock: m, deadline: m.now.Add(d), seq: m.seq, fn: f}
	m.timers = append(m.timers, timer)
	return timer
}

// Advance moves the clock forward by d, firing every timer whose deadline is
// reached, including timers scheduled by callbacks during the advance.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		next := m.nextDueLocked(target)
		if next == nil {
			break
		}
		next.done = true
		if next.deadline.After(m.now) {
			m.now = next.deadline
		}
		fn := next.fn
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.now = target
	m.pruneLocked()
	m.mu.Unlock()
}

// Set jumps the clock to t, firing due timers along the way. Moving backwards
// is ignored.
func (m *Manual) Set(t time.Time) {
	now := m.Now()
	if !t.After(now) {
		return
	}
	m.Advance(t.Sub(now))
}

// Pending reports how many timers are still armed.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, timer := range m.timers {
		if !timer.done {
			count++
		}
	}
	return count
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	var due []*manualTimer
	for _, timer := range m.timers {
		if timer.done || timer.deadline.After(target) {
			continue
		}
		due = append(due, timer)
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}

func (m *Manual) pruneLocked() {
	kept := m.timers[:0]
	for _, timer := range m.timers {
		if !timer.done {
			kept = append(kept, timer)
		}
	}
	for i := len(kept); i < len(m.timers); i++ {
		m.timers[i] = nil
	}
	m.timers = kept
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
