// Package limiter throttles recurring work such as snapshot saves.
package limiter

import (
	"sync"
	"time"
)

// Limiter decides whether an action may run at now.
type Limiter interface {
	// Allow reports whether the action may run and, if so, records it.
	Allow(now time.Time) bool
	// RetryAfter returns how long until the next action is allowed.
	RetryAfter(now time.Time) time.Duration
	// Reset forgets the last action, so the next one is allowed at once.
	Reset()
}

// Interval allows at most one action per interval. The first call is always
// allowed. Safe for concurrent use.
type Interval struct {
	every time.Duration

	mu   sync.Mutex
	last time.Time
}

var _ Limiter = (*Interval)(nil)

// NewInterval returns a limiter allowing one action per every.
func NewInterval(every time.Duration) *Interval {
	return &Interval{every: every}
}

// Allow implements Limiter.
func (l *Interval) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.last.IsZero() && now.Sub(l.last) < l.every {
		return false
	}
	l.last = now
	return true
}

// RetryAfter implements Limiter.
func (l *Interval) RetryAfter(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last.IsZero() {
		return 0
	}
	if d := l.every - now.Sub(l.last); d > 0 {
		return d
	}
	return 0
}

// Reset implements Limiter.
func (l *Interval) Reset() {
	l.mu.Lock()
	l.last = time.Time{}
	l.mu.Unlock()
}
