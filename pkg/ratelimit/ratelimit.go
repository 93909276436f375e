// Package ratelimit admits requests per client identity using fixed windows.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	windowStart time.Time
	count       int
}

// Decision is the outcome of Admit. RetryAfter is set only when denied.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter keeps one bucket per identity. Buckets whose window has elapsed are
// reset on the next call for that identity rather than swept.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

// New admits at most limit requests per identity in every window.
func New(limit int, window time.Duration) *Limiter {
	return NewWithClock(limit, window, time.Now)
}

func NewWithClock(limit int, window time.Duration, now func() time.Time) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     now,
	}
}

func (l *Limiter) Admit(identity string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[identity]
	if !ok || !now.Before(b.windowStart.Add(l.window)) {
		l.buckets[identity] = &bucket{windowStart: now, count: 1}
		return Decision{Allowed: true}
	}

	// Denied requests are not counted, so count stays at the ceiling.
	if b.count >= l.limit {
		return Decision{RetryAfter: b.windowStart.Add(l.window).Sub(now)}
	}
	b.count++
	return Decision{Allowed: true}
}

func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) Window() time.Duration {
	return l.window
}
