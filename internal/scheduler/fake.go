package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Fake is a virtual-time Scheduler for tests. Callbacks only fire when
// Advance moves the clock past their due time; they run synchronously on
// the goroutine calling Advance, in due-time order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID Handle
	events []*fakeEvent
}

type fakeEvent struct {
	handle Handle
	due    time.Time
	period time.Duration // 0 for one-shot
	fn     func()
}

// NewFake creates a virtual-time scheduler starting at an arbitrary fixed epoch.
func NewFake() *Fake {
	return &Fake{now: time.Unix(1_700_000_000, 0)}
}

func (f *Fake) After(d time.Duration, fn func()) Handle {
	return f.schedule(d, 0, fn)
}

func (f *Fake) Every(d time.Duration, fn func()) Handle {
	return f.schedule(d, d, fn)
}

func (f *Fake) schedule(d, period time.Duration, fn func()) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.events = append(f.events, &fakeEvent{
		handle: f.nextID,
		due:    f.now.Add(d),
		period: period,
		fn:     fn,
	})
	return f.nextID
}

func (f *Fake) Cancel(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.events {
		if e.handle == h {
			f.events = append(f.events[:i], f.events[i+1:]...)
			return
		}
	}
}

func (f *Fake) CancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Pending returns the number of outstanding scheduled callbacks.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// Advance moves the clock forward by d, firing due callbacks in order.
// Callbacks scheduled while advancing fire too if they fall within d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for {
		e := f.nextDueLocked(target)
		if e == nil {
			break
		}
		f.now = e.due
		if e.period > 0 {
			e.due = e.due.Add(e.period)
		} else {
			f.removeLocked(e.handle)
		}
		f.mu.Unlock()
		e.fn()
		f.mu.Lock()
	}

	f.now = target
	f.mu.Unlock()
}

func (f *Fake) nextDueLocked(target time.Time) *fakeEvent {
	sort.SliceStable(f.events, func(i, j int) bool {
		return f.events[i].due.Before(f.events[j].due)
	})
	if len(f.events) == 0 || f.events[0].due.After(target) {
		return nil
	}
	return f.events[0]
}

func (f *Fake) removeLocked(h Handle) {
	for i, e := range f.events {
		if e.handle == h {
			f.events = append(f.events[:i], f.events[i+1:]...)
			return
		}
	}
}
