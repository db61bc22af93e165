// Package timeutil provides a testable abstraction over the one real clock
// that drives all periodic cadences.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of time operations the counting engine and its
// collaborators schedule against. Production code uses RealClock; tests use
// a ManualClock advanced by hand so epoch boundaries are deterministic.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration elapsed since t.
	Since(t time.Time) time.Duration

	// NewTicker returns a Ticker that delivers ticks with period d.
	NewTicker(d time.Duration) Ticker

	// NewTimer returns a Timer that fires once after at least d.
	NewTimer(d time.Duration) Timer
}

// Ticker delivers periodic ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// Timer delivers a single tick.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// RealClock implements Clock with the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTicker struct{ t *time.Ticker }

func (rt *realTicker) C() <-chan time.Time    { return rt.t.C }
func (rt *realTicker) Stop()                  { rt.t.Stop() }
func (rt *realTicker) Reset(d time.Duration)  { rt.t.Reset(d) }

type realTimer struct{ t *time.Timer }

func (rt *realTimer) C() <-chan time.Time { return rt.t.C }
func (rt *realTimer) Stop() bool          { return rt.t.Stop() }

// ManualClock is a hand-driven clock for tests. Advance moves time forward
// and fires any ticker or timer whose deadline has passed. Each Advance call
// fires a due ticker at most once, so tests step the clock one period at a
// time when they need one tick per boundary.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
	timers  []*manualTimer
}

// NewManualClock returns a ManualClock set to start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward by d and fires due tickers and timers.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*manualTicker(nil), c.tickers...)
	timers := append([]*manualTimer(nil), c.timers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.fireIfDue(now)
	}
	for _, t := range timers {
		t.fireIfDue(now)
	}
}

func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{
		clock:  c,
		ch:     make(chan time.Time, 1),
		period: d,
		next:   c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *ManualClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{
		ch:       make(chan time.Time, 1),
		deadline: c.now.Add(d),
	}
	c.timers = append(c.timers, t)
	return t
}

type manualTicker struct {
	clock   *ManualClock
	mu      sync.Mutex
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Reset restarts the ticker with period d measured from the clock's
// current time.
func (t *manualTicker) Reset(d time.Duration) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.period = d
	t.next = now.Add(d)
	t.stopped = false
}

func (t *manualTicker) fireIfDue(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	t.next = now.Add(t.period)
}

type manualTimer struct {
	mu       sync.Mutex
	ch       chan time.Time
	deadline time.Time
	fired    bool
	stopped  bool
}

func (t *manualTimer) C() <-chan time.Time { return t.ch }

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.fired && !t.stopped
	t.stopped = true
	return active
}

func (t *manualTimer) fireIfDue(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped || now.Before(t.deadline) {
		return
	}
	t.fired = true
	select {
	case t.ch <- now:
	default:
	}
}
