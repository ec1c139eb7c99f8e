// Package ratelimit implements token-bucket admission control for
// outbound messages.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket with continuous refill and a capped burst
// allowance. The bucket starts with burst tokens, refills at
// messages/window, and holds at most messages+burst tokens.
//
// TryAcquire never blocks; callers must requeue on denial.
type Limiter struct {
	mu          sync.Mutex
	tokens      float64
	capacity    float64
	refillPerMs float64
	last        time.Time
	now         func() time.Time
}

// New creates a limiter allowing messages per window with the given
// burst allowance.
func New(messages int, window time.Duration, burst int) *Limiter {
	l := &Limiter{
		tokens:      float64(burst),
		capacity:    float64(messages + burst),
		refillPerMs: float64(messages) / float64(window.Milliseconds()),
		now:         time.Now,
	}
	l.last = l.now()
	return l
}

// NewWithClock creates a limiter using the supplied clock.
func NewWithClock(messages int, window time.Duration, burst int, now func() time.Time) *Limiter {
	l := New(messages, window, burst)
	l.now = now
	l.last = now()
	return l
}

// TryAcquire refills the bucket based on elapsed time, then consumes one
// token if at least one is available.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// Tokens reports the current token count after refill.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return l.tokens
}

func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.last)
	l.last = now
	if elapsed <= 0 {
		return
	}

	l.tokens += float64(elapsed.Nanoseconds()) / 1e6 * l.refillPerMs
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
}
