package reconcile

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

const durationWindow = 100

// Stats is a point-in-time snapshot of reconciliation activity.
type Stats struct {
	TotalOptimistic  int64
	TotalConfirmed   int64
	TotalFailed      int64
	TotalTimeout     int64
	TotalSynthesized int64
	Pending          int
	SuccessRate      float64
	FailureRate      float64
	AverageDuration  time.Duration
}

// statistics tracks counters and a rolling window of reconciliation
// durations.
type statistics struct {
	mu sync.Mutex

	optimistic  int64
	confirmed   int64
	failed      int64
	timeout     int64
	synthesized int64
	durations   *queue.Queue
}

func newStatistics() *statistics {
	return &statistics{durations: queue.New()}
}

func (s *statistics) recordOptimistic() {
	s.mu.Lock()
	s.optimistic++
	s.mu.Unlock()
}

func (s *statistics) recordConfirmed(d time.Duration) {
	s.mu.Lock()
	s.confirmed++
	s.durations.Add(d)
	for s.durations.Length() > durationWindow {
		s.durations.Remove()
	}
	s.mu.Unlock()
}

func (s *statistics) recordFailed() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *statistics) recordTimeout() {
	s.mu.Lock()
	s.timeout++
	s.mu.Unlock()
}

func (s *statistics) recordSynthesized() {
	s.mu.Lock()
	s.synthesized++
	s.mu.Unlock()
}

func (s *statistics) snapshot(pending int) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		TotalOptimistic:  s.optimistic,
		TotalConfirmed:   s.confirmed,
		TotalFailed:      s.failed,
		TotalTimeout:     s.timeout,
		TotalSynthesized: s.synthesized,
		Pending:          pending,
	}
	if resolved := s.confirmed + s.failed + s.timeout; resolved > 0 {
		st.SuccessRate = float64(s.confirmed) / float64(resolved)
		st.FailureRate = float64(s.failed+s.timeout) / float64(resolved)
	}
	if n := s.durations.Length(); n > 0 {
		var total time.Duration
		for i := 0; i < n; i++ {
			total += s.durations.Get(i).(time.Duration)
		}
		st.AverageDuration = total / time.Duration(n)
	}
	return st
}
