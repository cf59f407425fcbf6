// Package resource bounds what concurrent segment builds may take: a shared
// memory budget for buffered index data, build slots, and write IO rate.
package resource

import "sync/atomic"

// Limiter tracks the bytes buffered across every in-flight segment build
// against one shared budget. It is an explicit handle created at startup and
// passed to each builder, never ambient state. All methods are safe on a nil
// receiver, which behaves as an unlimited budget.
type Limiter struct {
	budget int64
	used   atomic.Int64
	active atomic.Int64
}

// NewLimiter creates a limiter over the given budget in bytes. A budget of
// zero or less never requests a flush.
func NewLimiter(budget int64) *Limiter {
	return &Limiter{budget: budget}
}

// Budget returns the configured budget in bytes.
func (l *Limiter) Budget() int64 {
	if l == nil {
		return 0
	}
	return l.budget
}

// Used returns the bytes currently accounted across all builders.
func (l *Limiter) Used() int64 {
	if l == nil {
		return 0
	}
	return l.used.Load()
}

// Active returns the number of registered builders.
func (l *Limiter) Active() int64 {
	if l == nil {
		return 0
	}
	return l.active.Load()
}

// Register announces a builder. Every Register needs exactly one Unregister,
// on success, error and abort alike.
func (l *Limiter) Register() {
	if l != nil {
		l.active.Add(1)
	}
}

// Unregister retires a builder.
func (l *Limiter) Unregister() {
	if l != nil {
		l.active.Add(-1)
	}
}

// Acquire accounts n more buffered bytes.
func (l *Limiter) Acquire(n int64) {
	if l != nil && n > 0 {
		l.used.Add(n)
	}
}

// Release returns n buffered bytes to the budget.
func (l *Limiter) Release(n int64) {
	if l != nil && n > 0 {
		l.used.Add(-n)
	}
}

// ShouldFlush reports whether a builder holding own buffered bytes must cut
// a segment now. Both conditions have to hold: the shared usage exceeds the
// budget, and the builder holds at least its fair share of it. One large
// build under pressure flushes; many small builds are never starved into
// tiny segments.
func (l *Limiter) ShouldFlush(own int64) bool {
	if l == nil || l.budget <= 0 {
		return false
	}
	if l.used.Load() <= l.budget {
		return false
	}
	active := l.active.Load()
	if active < 1 {
		active = 1
	}
	return own >= l.budget/active
}
