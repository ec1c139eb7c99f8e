package health

import (
	"testing"
	"time"
)

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time { return c.t }

func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMonitor() (*Monitor, *fixedClock) {
	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	return NewMonitor(clock.now), clock
}

func TestMonitor_HealthyByDefault(t *testing.T) {
	m, _ := newTestMonitor()
	if !m.Healthy() {
		t.Error("fresh monitor should be healthy")
	}
}

func TestMonitor_UnhealthyOnSilence(t *testing.T) {
	m, clock := newTestMonitor()
	m.MarkConnected()

	clock.advance(29 * time.Second)
	if !m.Healthy() {
		t.Error("within silence limit, should be healthy")
	}

	clock.advance(2 * time.Second)
	if m.Healthy() {
		t.Error("31s of silence should be unhealthy")
	}

	m.RecordReceived()
	if !m.Healthy() {
		t.Error("inbound message should reset the silence deadline")
	}
}

func TestMonitor_UnhealthyOnHighLatency(t *testing.T) {
	m, _ := newTestMonitor()

	m.RecordLatency(6 * time.Second)
	if m.Healthy() {
		t.Error("6s average latency should be unhealthy")
	}

	// Drown the slow sample in fast ones; average recovers.
	for i := 0; i < 99; i++ {
		m.RecordLatency(10 * time.Millisecond)
	}
	if !m.Healthy() {
		t.Errorf("average %v should be healthy", m.Snapshot().AverageLatency)
	}
}

func TestMonitor_LatencyWindowBounded(t *testing.T) {
	m, _ := newTestMonitor()

	m.RecordLatency(time.Hour)
	for i := 0; i < 100; i++ {
		m.RecordLatency(20 * time.Millisecond)
	}

	// The hour-long outlier fell out of the 100-sample window.
	if got := m.Snapshot().AverageLatency; got != 20*time.Millisecond {
		t.Errorf("expected 20ms rolling average, got %v", got)
	}
}

func TestMonitor_UnhealthyOnFailureRatio(t *testing.T) {
	m, _ := newTestMonitor()

	for i := 0; i < 7; i++ {
		m.RecordConnectSuccess()
	}
	for i := 0; i < 3; i++ {
		m.RecordConnectFailure()
	}
	if !m.Healthy() {
		t.Error("failure ratio 0.3 is at the limit, not over it")
	}

	m.RecordConnectFailure()
	if m.Healthy() {
		t.Error("failure ratio 0.4 should be unhealthy")
	}
}

func TestMonitor_SnapshotCounters(t *testing.T) {
	m, clock := newTestMonitor()

	m.MarkConnected()
	m.RecordConnectSuccess()
	m.RecordSent()
	m.RecordSent()
	m.RecordReceived()
	clock.advance(5 * time.Second)

	got := m.Snapshot()
	if got.SuccessfulConnections != 1 {
		t.Errorf("SuccessfulConnections = %d", got.SuccessfulConnections)
	}
	if got.MessagesSent != 2 {
		t.Errorf("MessagesSent = %d", got.MessagesSent)
	}
	if got.MessagesReceived != 1 {
		t.Errorf("MessagesReceived = %d", got.MessagesReceived)
	}
	if got.ConnectionUptime != 5*time.Second {
		t.Errorf("ConnectionUptime = %v", got.ConnectionUptime)
	}

	m.MarkDisconnected()
	if up := m.Snapshot().ConnectionUptime; up != 0 {
		t.Errorf("uptime after disconnect = %v", up)
	}
}
