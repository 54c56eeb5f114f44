// Package clock abstracts time so timers can be driven by tests.
package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// Timer is a cancellable pending callback
type Timer interface {
	// Stop prevents further firings. It reports whether the timer was still active.
	Stop() bool
}

// Clock provides the current time and schedules callbacks
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	// Every calls fn each d until the returned timer is stopped
	Every(d time.Duration, fn func()) Timer
}

// New returns a Clock backed by clockwork's real clock
func New() Clock {
	return FromClockwork(clockwork.NewRealClock())
}

// FromClockwork adapts any clockwork clock, including clockwork.NewFakeClock()
func FromClockwork(c clockwork.Clock) Clock {
	return &clockworkClock{clock: c}
}

type clockworkClock struct {
	clock clockwork.Clock
}

func (c *clockworkClock) Now() time.Time {
	return c.clock.Now()
}

func (c *clockworkClock) AfterFunc(d time.Duration, fn func()) Timer {
	return c.clock.AfterFunc(d, fn)
}

func (c *clockworkClock) Every(d time.Duration, fn func()) Timer {
	r := &recurring{clock: c.clock, interval: d, fn: fn}
	r.mu.Lock()
	r.arm()
	r.mu.Unlock()
	return r
}

// recurring re-arms a one-shot timer before each call so slow callbacks do
// not shift the schedule.
type recurring struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration
	fn       func()
	timer    clockwork.Timer
	stopped  bool
}

func (r *recurring) arm() {
	r.timer = r.clock.AfterFunc(r.interval, r.fire)
}

func (r *recurring) fire() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.arm()
	r.mu.Unlock()

	r.fn()
}

func (r *recurring) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return false
	}
	r.stopped = true
	r.timer.Stop()
	return true
}

// NewCron returns a Clock whose recurring callbacks run on c's scheduler.
// One-shot callbacks use the real clock. c must be started by the caller.
func NewCron(c *cron.Cron) Clock {
	return &cronClock{Clock: New(), cron: c}
}

type cronClock struct {
	Clock
	cron *cron.Cron
}

func (c *cronClock) Every(d time.Duration, fn func()) Timer {
	id := c.cron.Schedule(cron.Every(d), cron.FuncJob(fn))
	return &cronEntry{cron: c.cron, id: id}
}

type cronEntry struct {
	once sync.Once
	cron *cron.Cron
	id   cron.EntryID
}

func (e *cronEntry) Stop() bool {
	stopped := false
	e.once.Do(func() {
		e.cron.Remove(e.id)
		stopped = true
	})
	return stopped
}
