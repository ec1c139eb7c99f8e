package connection

import (
	"log/slog"
	"sync"

	"github.com/dliang/chatlink/internal/scheduler"
)

// Breaker is a three-state circuit breaker guarding connection attempts.
// Transitions: closed→open on reaching the failure threshold, open→half-open
// after the reset timeout, half-open→closed on success, half-open→open on
// failure. While open, Allow returns false.
type Breaker struct {
	mu       sync.Mutex
	state    BreakerState
	failures int

	cfg    BreakerConfig
	sched  scheduler.Scheduler
	logger *slog.Logger

	resetHandle scheduler.Handle
	resetArmed  bool

	// onHalfOpen fires when the reset timeout elapses, so the owner can
	// probe with exactly one reconnection attempt.
	onHalfOpen func()
}

// NewBreaker creates a closed Breaker.
func NewBreaker(cfg BreakerConfig, sched scheduler.Scheduler, onHalfOpen func(), logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		state:      BreakerClosed,
		cfg:        cfg,
		sched:      sched,
		logger:     logger,
		onHalfOpen: onHalfOpen,
	}
}

// Allow reports whether a connection attempt may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != BreakerOpen
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// RecordFailure counts a connection failure. A failure in half-open
// re-opens the breaker; reaching the threshold while closed opens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	switch b.state {
	case BreakerHalfOpen:
		b.openLocked()
	case BreakerClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	}
}

// RecordSuccess resets the failure counter and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != BreakerClosed {
		b.logger.Info("circuit breaker closed")
	}
	b.state = BreakerClosed
	b.disarmLocked()
}

// Stop cancels the pending reset timer.
func (b *Breaker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disarmLocked()
}

func (b *Breaker) openLocked() {
	b.state = BreakerOpen
	b.logger.Warn("circuit breaker open",
		"failures", b.failures,
		"reset_timeout", b.cfg.ResetTimeout,
	)

	b.disarmLocked()
	b.resetArmed = true
	b.resetHandle = b.sched.After(b.cfg.ResetTimeout, b.reset)
}

func (b *Breaker) reset() {
	b.mu.Lock()
	if b.state != BreakerOpen {
		b.mu.Unlock()
		return
	}
	b.state = BreakerHalfOpen
	b.resetArmed = false
	b.mu.Unlock()

	b.logger.Info("circuit breaker half-open, probing")
	if b.onHalfOpen != nil {
		b.onHalfOpen()
	}
}

func (b *Breaker) disarmLocked() {
	if b.resetArmed {
		b.sched.Cancel(b.resetHandle)
		b.resetArmed = false
	}
}
