// Package clock abstracts wall time and one-shot timers so debounce and
// effect lifetimes can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct {
	c clockwork.Clock
}

// Real returns a Clock backed by wall time.
func Real() Clock { return realClock{c: clockwork.NewRealClock()} }

func (r realClock) Now() time.Time { return r.c.Now() }

func (r realClock) AfterFunc(d time.Duration, f func()) Timer {
	return r.c.AfterFunc(d, f)
}

// Fake is a manually advanced Clock over a clockwork fake clock. Unlike
// clockwork's own AfterFunc, callbacks run synchronously inside Advance, in
// deadline order, with Now reporting each timer's deadline while it runs.
type Fake struct {
	mu     sync.Mutex
	fc     *clockwork.FakeClock
	seq    uint64
	timers []*fakeTimer
}

// NewFake creates a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{fc: clockwork.NewFakeClockAt(start)}
}

type fakeTimer struct {
	clock    *Fake
	t        clockwork.Timer
	deadline time.Time
	seq      uint64
	f        func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.t.Stop()
	return true
}

// Now returns the current fake time.
func (c *Fake) Now() time.Time { return c.fc.Now() }

// AfterFunc schedules f to run once the clock has been advanced by d.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{
		clock:    c,
		t:        c.fc.NewTimer(d),
		deadline: c.fc.Now().Add(d),
		seq:      c.seq,
		f:        f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and runs every timer that became due.
// Callbacks run without the clock lock held, so they may schedule or stop
// timers; new ones fire too if their deadline falls inside the window.
func (c *Fake) Advance(d time.Duration) {
	target := c.fc.Now().Add(d)
	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.mu.Unlock()
			break
		}
		next.fired = true
		c.mu.Unlock()

		if step := next.deadline.Sub(c.fc.Now()); step > 0 {
			c.fc.Advance(step)
		}
		select {
		case <-next.t.Chan():
		default:
		}
		next.f()
	}
	if rest := target.Sub(c.fc.Now()); rest > 0 {
		c.fc.Advance(rest)
	}
}

// nextDueLocked drops finished timers and returns the earliest live one due
// by target. Equal deadlines fire in scheduling order.
func (c *Fake) nextDueLocked(target time.Time) *fakeTimer {
	live := c.timers[:0]
	var next *fakeTimer
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		live = append(live, t)
		if t.deadline.After(target) {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) ||
			(t.deadline.Equal(next.deadline) && t.seq < next.seq) {
			next = t
		}
	}
	clear(c.timers[len(live):])
	c.timers = live
	return next
}
