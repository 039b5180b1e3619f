// Package limiter paces a self-driven loop to a target call frequency.
package limiter

import (
	"sync"
	"time"
)

// Limiter bounds how often Wait returns. Elapsed time is measured against an
// anchor taken on first use, so per-call jitter never accumulates into drift.
type Limiter struct {
	mu     sync.Mutex
	period time.Duration
	start  time.Time
	calls  int64

	now   func() time.Time
	sleep func(time.Duration)
}

// Option customizes a Limiter
type Option func(*Limiter)

// WithClock replaces the time source and sleep function. Used by tests.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

// New creates a limiter allowing frequency calls per second. A frequency of
// zero or less disables pacing.
func New(frequency int, opts ...Option) *Limiter {
	l := &Limiter{
		now:   time.Now,
		sleep: time.Sleep,
	}
	if frequency > 0 {
		l.period = time.Second / time.Duration(frequency)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Period returns the target interval between calls
func (l *Limiter) Period() time.Duration {
	return l.period
}

// Wait blocks until the next scheduled call time, then counts the call
func (l *Limiter) Wait() {
	l.mu.Lock()
	d := l.deadline()
	l.calls++
	sleep := l.sleep
	l.mu.Unlock()

	if d > 0 {
		sleep(d)
	}
}

// Deadline returns how long until the next scheduled call without counting
// it. Never negative.
func (l *Limiter) Deadline() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deadline()
}

func (l *Limiter) deadline() time.Duration {
	now := l.now()
	if l.start.IsZero() {
		l.start = now
	}
	next := l.start.Add(time.Duration(l.calls) * l.period)
	if d := next.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Reset rebases the schedule to now so time spent outside the loop is not
// made up with a burst of calls.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = 0
	l.start = l.now()
}
