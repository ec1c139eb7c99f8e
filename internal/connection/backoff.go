package connection

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes jittered exponential reconnect delays. A fixed seed
// makes the jitter sequence reproducible.
type Backoff struct {
	policy RetryPolicy

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff creates a Backoff. A zero seed draws one from the clock.
func NewBackoff(policy RetryPolicy, seed int64) *Backoff {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Backoff{
		policy: policy,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Delay returns the wait before reconnect attempt k (zero-based):
// min(base * multiplier^k, max), perturbed by ±jitterRange/2 of itself
// and clamped to be non-negative.
func (b *Backoff) Delay(attempt int) time.Duration {
	base := float64(b.policy.BaseDelay)
	delay := base * math.Pow(b.policy.Multiplier, float64(attempt))
	if max := float64(b.policy.MaxDelay); delay > max {
		delay = max
	}

	b.mu.Lock()
	u := b.rng.Float64()
	b.mu.Unlock()

	delay += delay * b.policy.JitterRange * (u - 0.5)
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
