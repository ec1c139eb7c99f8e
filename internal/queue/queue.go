// Package queue buffers outbound messages that cannot be sent
// immediately, with bounded size, TTL, and priority ordering. A separate
// offline queue holds items while network connectivity is absent.
package queue

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dliang/chatlink/internal/model"
)

// Item is a queued outbound message.
type Item struct {
	ID        string
	Payload   []byte
	Timestamp time.Time
	Priority  int
	Retries   int
}

// Queue is a bounded priority queue with lazy TTL pruning. An item lives
// in exactly one of the pending or offline sets at any time.
type Queue struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	pending map[string]*Item
	offline map[string]*Item

	logger *slog.Logger
	now    func() time.Time
}

// New creates a queue holding at most maxSize items, each valid for ttl.
func New(maxSize int, ttl time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		maxSize: maxSize,
		ttl:     ttl,
		pending: make(map[string]*Item),
		offline: make(map[string]*Item),
		logger:  logger,
		now:     time.Now,
	}
}

// Enqueue admits a message. Under capacity pressure it first prunes
// TTL-expired entries, then evicts the lowest-priority oldest tenth.
// Returns false when admission still fails and the message is dropped.
func (q *Queue) Enqueue(payload []byte, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= q.maxSize {
		q.pruneExpiredLocked()
	}
	if len(q.pending) >= q.maxSize {
		q.evictLowestLocked()
	}
	if len(q.pending) >= q.maxSize {
		q.logger.Warn("queue overflow, dropping message", "priority", priority)
		return false
	}

	item := &Item{
		ID:        model.NewQueueID(),
		Payload:   payload,
		Timestamp: q.now(),
		Priority:  priority,
	}
	q.pending[item.ID] = item
	return true
}

// Drain sends pending items in priority-then-FIFO order. Items the
// admit function denies stay queued for the next drain cycle; a send
// failure keeps the item queued with its retry count bumped and stops
// the cycle. Returns the number of items sent.
func (q *Queue) Drain(admit func() bool, send func(*Item) error) int {
	q.mu.Lock()
	items := q.sortedPendingLocked()
	q.mu.Unlock()

	sent := 0
	for _, item := range items {
		if q.expired(item) {
			q.remove(item.ID)
			continue
		}
		if admit != nil && !admit() {
			break
		}
		if err := send(item); err != nil {
			q.mu.Lock()
			if cur, ok := q.pending[item.ID]; ok {
				cur.Retries++
			}
			q.mu.Unlock()
			q.logger.Warn("drain send failed", "error", err, "retries", item.Retries+1)
			break
		}
		q.remove(item.ID)
		sent++
	}
	return sent
}

// MoveToOffline transfers all pending items to the offline queue,
// preserving priority, timestamp, and retry metadata.
func (q *Queue) MoveToOffline() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, item := range q.pending {
		q.offline[id] = item
		delete(q.pending, id)
	}
}

// RestoreFromOffline transfers all offline items back to the pending queue.
func (q *Queue) RestoreFromOffline() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, item := range q.offline {
		q.pending[id] = item
		delete(q.offline, id)
	}
}

// Size returns the number of pending items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// OfflineSize returns the number of items parked offline.
func (q *Queue) OfflineSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.offline)
}

// Clear drops everything from both queues.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = make(map[string]*Item)
	q.offline = make(map[string]*Item)
}

func (q *Queue) expired(item *Item) bool {
	return q.ttl > 0 && q.now().Sub(item.Timestamp) > q.ttl
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, id)
}

func (q *Queue) pruneExpiredLocked() {
	if q.ttl <= 0 {
		return
	}
	cutoff := q.now().Add(-q.ttl)
	for id, item := range q.pending {
		if item.Timestamp.Before(cutoff) {
			delete(q.pending, id)
		}
	}
}

// evictLowestLocked drops the bottom tenth by priority (oldest first
// within a tier) to make room for new work.
func (q *Queue) evictLowestLocked() {
	if len(q.pending) == 0 {
		return
	}

	items := make([]*Item, 0, len(q.pending))
	for _, item := range q.pending {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].Timestamp.Before(items[j].Timestamp)
	})

	n := len(items) / 10
	if n < 1 {
		n = 1
	}
	for _, item := range items[:n] {
		delete(q.pending, item.ID)
	}
	q.logger.Debug("evicted low-priority items", "count", n)
}

// sortedPendingLocked snapshots pending items in priority-descending,
// then timestamp-ascending order.
func (q *Queue) sortedPendingLocked() []*Item {
	items := make([]*Item, 0, len(q.pending))
	for _, item := range q.pending {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	return items
}
