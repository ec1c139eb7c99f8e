package connection

import (
	"testing"
	"time"

	"github.com/dliang/chatlink/internal/scheduler"
)

func testBreaker(probe func()) (*Breaker, *scheduler.Fake) {
	fake := scheduler.NewFake()
	cfg := BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
	return NewBreaker(cfg, fake, probe, nil), fake
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := testBreaker(nil)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker opened after %d failures, threshold is 5", i+1)
		}
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state after threshold = %q", b.State())
	}
	if b.Allow() {
		t.Error("open breaker must deny connections")
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	probed := 0
	b, fake := testBreaker(func() { probed++ })

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	fake.Advance(29 * time.Second)
	if b.State() != BreakerOpen {
		t.Fatal("breaker reset before timeout")
	}

	fake.Advance(2 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state after reset timeout = %q", b.State())
	}
	if probed != 1 {
		t.Errorf("expected exactly one probe, got %d", probed)
	}
	if !b.Allow() {
		t.Error("half-open breaker must allow the probe attempt")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, fake := testBreaker(nil)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	fake.Advance(31 * time.Second)

	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("state after half-open success = %q", b.State())
	}
	if b.Failures() != 0 {
		t.Errorf("failure counter not reset: %d", b.Failures())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, fake := testBreaker(nil)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	fake.Advance(31 * time.Second)

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state after half-open failure = %q", b.State())
	}

	// The reset timer restarts; a second cooldown half-opens again.
	fake.Advance(31 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Errorf("state after second cooldown = %q", b.State())
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b, _ := testBreaker(nil)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()

	// Fresh budget: four more failures still below threshold.
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %q, counter should have reset", b.State())
	}
}

func TestBreaker_StopCancelsResetTimer(t *testing.T) {
	b, fake := testBreaker(func() { t.Error("probe fired after Stop") })

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	b.Stop()
	fake.Advance(time.Minute)

	if b.State() != BreakerOpen {
		t.Errorf("state = %q, Stop should freeze the breaker", b.State())
	}
}
