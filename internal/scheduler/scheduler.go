// Package scheduler abstracts timer-driven scheduling behind a small
// interface so backoff, heartbeat, and cleanup intervals can be tested
// against a virtual clock.
package scheduler

import (
	"sync"
	"time"
)

// Handle identifies a scheduled callback.
type Handle uint64

// Scheduler schedules one-shot and repeating callbacks.
type Scheduler interface {
	// After runs fn once after d elapses.
	After(d time.Duration, fn func()) Handle

	// Every runs fn repeatedly with period d until cancelled.
	Every(d time.Duration, fn func()) Handle

	// Cancel stops a scheduled callback. Cancelling an unknown or
	// already-fired handle is a no-op.
	Cancel(h Handle)

	// CancelAll stops every outstanding callback.
	CancelAll()

	// Now returns the scheduler's view of the current time.
	Now() time.Time
}

// realScheduler implements Scheduler on top of time.AfterFunc and time.Ticker.
type realScheduler struct {
	mu      sync.Mutex
	nextID  Handle
	timers  map[Handle]*time.Timer
	tickers map[Handle]*tickerEntry
}

type tickerEntry struct {
	ticker *time.Ticker
	stop   chan struct{}
}

// New creates a wall-clock scheduler.
func New() Scheduler {
	return &realScheduler{
		timers:  make(map[Handle]*time.Timer),
		tickers: make(map[Handle]*tickerEntry),
	}
}

func (s *realScheduler) After(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	s.nextID++
	h := s.nextID
	s.timers[h] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, h)
		s.mu.Unlock()
		fn()
	})
	s.mu.Unlock()
	return h
}

func (s *realScheduler) Every(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	s.nextID++
	h := s.nextID
	entry := &tickerEntry{
		ticker: time.NewTicker(d),
		stop:   make(chan struct{}),
	}
	s.tickers[h] = entry
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-entry.stop:
				return
			case <-entry.ticker.C:
				fn()
			}
		}
	}()
	return h
}

func (s *realScheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(h)
}

func (s *realScheduler) cancelLocked(h Handle) {
	if t, ok := s.timers[h]; ok {
		t.Stop()
		delete(s.timers, h)
		return
	}
	if e, ok := s.tickers[h]; ok {
		e.ticker.Stop()
		close(e.stop)
		delete(s.tickers, h)
	}
}

func (s *realScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h := range s.timers {
		s.cancelLocked(h)
	}
	for h := range s.tickers {
		s.cancelLocked(h)
	}
}

func (s *realScheduler) Now() time.Time {
	return time.Now()
}
