package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time { return c.t }

func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(maxSize int, ttl time.Duration) (*Queue, *fixedClock) {
	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	q := New(maxSize, ttl, nil)
	q.now = clock.now
	return q, clock
}

func admitAll() bool { return true }

func TestQueue_EnqueueAndSize(t *testing.T) {
	q, _ := newTestQueue(10, time.Minute)

	if !q.Enqueue([]byte("a"), 1) {
		t.Fatal("enqueue under capacity failed")
	}
	if q.Size() != 1 {
		t.Errorf("Size = %d", q.Size())
	}
}

func TestQueue_NeverExceedsMaxSize(t *testing.T) {
	q, clock := newTestQueue(10, time.Minute)

	for i := 0; i < 50; i++ {
		clock.advance(time.Millisecond)
		q.Enqueue([]byte(fmt.Sprintf("m%d", i)), i%3)
		if q.Size() > 10 {
			t.Fatalf("queue grew to %d after %d enqueues", q.Size(), i+1)
		}
	}
}

func TestQueue_ZeroMaxSizeDropsWithoutPanic(t *testing.T) {
	q := New(0, 0, nil)

	if q.Enqueue([]byte("x"), 1) {
		t.Error("zero-capacity queue must refuse admission")
	}
	if q.Size() != 0 {
		t.Errorf("Size = %d, want 0", q.Size())
	}
}

func TestQueue_TTLPrunedUnderPressure(t *testing.T) {
	q, clock := newTestQueue(3, time.Minute)

	q.Enqueue([]byte("old1"), 5)
	q.Enqueue([]byte("old2"), 5)
	q.Enqueue([]byte("old3"), 5)

	// All three expire; the next enqueue prunes instead of evicting.
	clock.advance(2 * time.Minute)
	if !q.Enqueue([]byte("fresh"), 1) {
		t.Fatal("enqueue after TTL prune failed")
	}
	if q.Size() != 1 {
		t.Errorf("expected only the fresh item, Size = %d", q.Size())
	}
}

func TestQueue_EvictsLowestPriorityOldest(t *testing.T) {
	q, clock := newTestQueue(10, time.Hour)

	// Fill with one low-priority item first, then high-priority ones.
	q.Enqueue([]byte("low"), 0)
	for i := 0; i < 9; i++ {
		clock.advance(time.Millisecond)
		q.Enqueue([]byte(fmt.Sprintf("high%d", i)), 9)
	}

	// At capacity and nothing expired: the low item is in the bottom 10%.
	clock.advance(time.Millisecond)
	if !q.Enqueue([]byte("newcomer"), 5) {
		t.Fatal("enqueue with eviction failed")
	}

	var drained []string
	q.Drain(admitAll, func(it *Item) error {
		drained = append(drained, string(it.Payload))
		return nil
	})
	for _, p := range drained {
		if p == "low" {
			t.Error("lowest-priority item survived eviction")
		}
	}
}

func TestQueue_DrainPriorityThenFIFO(t *testing.T) {
	q, clock := newTestQueue(10, time.Hour)

	q.Enqueue([]byte("p1-first"), 1)
	clock.advance(time.Millisecond)
	q.Enqueue([]byte("p5-first"), 5)
	clock.advance(time.Millisecond)
	q.Enqueue([]byte("p1-second"), 1)
	clock.advance(time.Millisecond)
	q.Enqueue([]byte("p5-second"), 5)

	var got []string
	q.Drain(admitAll, func(it *Item) error {
		got = append(got, string(it.Payload))
		return nil
	})

	want := []string{"p5-first", "p5-second", "p1-first", "p1-second"}
	if len(got) != len(want) {
		t.Fatalf("drained %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("drain order[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if q.Size() != 0 {
		t.Errorf("Size after full drain = %d", q.Size())
	}
}

func TestQueue_DrainRespectsAdmission(t *testing.T) {
	q, clock := newTestQueue(10, time.Hour)

	for i := 0; i < 5; i++ {
		clock.advance(time.Millisecond)
		q.Enqueue([]byte(fmt.Sprintf("m%d", i)), 1)
	}

	// Rate limiter grants only two sends this cycle.
	grants := 2
	sent := q.Drain(func() bool {
		if grants == 0 {
			return false
		}
		grants--
		return true
	}, func(it *Item) error { return nil })

	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	if q.Size() != 3 {
		t.Errorf("non-admitted items must stay queued, Size = %d", q.Size())
	}
}

func TestQueue_DrainSendFailureKeepsItem(t *testing.T) {
	q, _ := newTestQueue(10, time.Hour)
	q.Enqueue([]byte("m"), 1)

	sent := q.Drain(admitAll, func(it *Item) error {
		return errors.New("socket closed")
	})

	if sent != 0 {
		t.Errorf("sent = %d on failure", sent)
	}
	if q.Size() != 1 {
		t.Errorf("failed item must stay queued, Size = %d", q.Size())
	}

	// The retained item carries the bumped retry count.
	q.Drain(admitAll, func(it *Item) error {
		if it.Retries != 1 {
			t.Errorf("Retries = %d, want 1", it.Retries)
		}
		return nil
	})
}

func TestQueue_OfflineRoundTrip(t *testing.T) {
	q, clock := newTestQueue(10, time.Hour)

	q.Enqueue([]byte("a"), 3)
	clock.advance(time.Millisecond)
	q.Enqueue([]byte("b"), 7)

	q.MoveToOffline()
	if q.Size() != 0 || q.OfflineSize() != 2 {
		t.Fatalf("after move: pending=%d offline=%d", q.Size(), q.OfflineSize())
	}

	q.RestoreFromOffline()
	if q.Size() != 2 || q.OfflineSize() != 0 {
		t.Fatalf("after restore: pending=%d offline=%d", q.Size(), q.OfflineSize())
	}

	// Metadata survives the round trip: priority order is intact.
	var got []string
	q.Drain(admitAll, func(it *Item) error {
		got = append(got, string(it.Payload))
		return nil
	})
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("drain after restore = %v", got)
	}
}

func TestQueue_Clear(t *testing.T) {
	q, _ := newTestQueue(10, time.Hour)
	q.Enqueue([]byte("a"), 1)
	q.Enqueue([]byte("b"), 1)
	q.MoveToOffline()
	q.Enqueue([]byte("c"), 1)

	q.Clear()
	if q.Size() != 0 || q.OfflineSize() != 0 {
		t.Errorf("Clear left pending=%d offline=%d", q.Size(), q.OfflineSize())
	}
}

func TestQueue_ExpiredItemsSkippedOnDrain(t *testing.T) {
	q, clock := newTestQueue(10, time.Minute)

	q.Enqueue([]byte("stale"), 1)
	clock.advance(2 * time.Minute)
	q.Enqueue([]byte("fresh"), 1)

	var got []string
	q.Drain(admitAll, func(it *Item) error {
		got = append(got, string(it.Payload))
		return nil
	})
	if len(got) != 1 || got[0] != "fresh" {
		t.Errorf("drain = %v, want only fresh", got)
	}
	if q.Size() != 0 {
		t.Errorf("stale item not removed, Size = %d", q.Size())
	}
}
