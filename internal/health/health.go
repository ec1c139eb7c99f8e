// Package health tracks connection quality and computes a boolean
// health verdict used to preempt half-dead connections.
package health

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

const (
	// latencyWindow bounds the rolling average to the most recent samples.
	latencyWindow = 100

	// outcomeWindow bounds the recent failure-ratio calculation.
	outcomeWindow = 10

	silenceLimit      = 30 * time.Second
	latencyLimit      = 5 * time.Second
	failureRatioLimit = 0.3
)

// Metrics is a snapshot of accumulated connection health counters.
type Metrics struct {
	SuccessfulConnections int64
	FailedConnections     int64
	MessagesSent          int64
	MessagesReceived      int64
	LastSuccessTime       time.Time
	LastFailureTime       time.Time
	AverageLatency        time.Duration
	ConnectionUptime      time.Duration
}

// Monitor accumulates counters and latency samples for a single logical
// connection. All methods are safe for concurrent use.
type Monitor struct {
	mu sync.Mutex

	successfulConns int64
	failedConns     int64
	messagesSent    int64
	messagesRecv    int64
	lastSuccess     time.Time
	lastFailure     time.Time
	lastReceived    time.Time

	latencies  *queue.Queue // time.Duration ring, capped at latencyWindow
	latencySum time.Duration

	outcomes     *queue.Queue // bool ring, capped at outcomeWindow
	recentFailed int

	connectedAt time.Time
	connected   bool

	now func() time.Time
}

// NewMonitor creates a Monitor. now may be nil to use the wall clock.
func NewMonitor(now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		latencies: queue.New(),
		outcomes:  queue.New(),
		now:       now,
	}
}

// RecordConnectSuccess notes a successful connection establishment.
func (m *Monitor) RecordConnectSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successfulConns++
	m.lastSuccess = m.now()
	m.pushOutcomeLocked(true)
}

// RecordConnectFailure notes a failed connection attempt or socket error.
func (m *Monitor) RecordConnectFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedConns++
	m.lastFailure = m.now()
	m.pushOutcomeLocked(false)
}

// RecordSent increments the outbound message counter.
func (m *Monitor) RecordSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesSent++
}

// RecordReceived increments the inbound message counter and refreshes
// the silence deadline.
func (m *Monitor) RecordReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesRecv++
	m.lastReceived = m.now()
}

// RecordLatency adds a heartbeat round-trip sample to the rolling window.
func (m *Monitor) RecordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies.Add(d)
	m.latencySum += d
	for m.latencies.Length() > latencyWindow {
		old := m.latencies.Remove().(time.Duration)
		m.latencySum -= old
	}
}

// MarkConnected starts the uptime clock.
func (m *Monitor) MarkConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.connectedAt = m.now()
	m.lastReceived = m.now()
}

// MarkDisconnected stops the uptime clock.
func (m *Monitor) MarkDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// Snapshot returns the current metrics.
func (m *Monitor) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var uptime time.Duration
	if m.connected {
		uptime = m.now().Sub(m.connectedAt)
	}

	return Metrics{
		SuccessfulConnections: m.successfulConns,
		FailedConnections:     m.failedConns,
		MessagesSent:          m.messagesSent,
		MessagesReceived:      m.messagesRecv,
		LastSuccessTime:       m.lastSuccess,
		LastFailureTime:       m.lastFailure,
		AverageLatency:        m.averageLatencyLocked(),
		ConnectionUptime:      uptime,
	}
}

// Healthy evaluates the current verdict. Unhealthy when the connection
// has been silent too long, latency is excessive, or recent connection
// attempts are mostly failing.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected && m.now().Sub(m.lastReceived) > silenceLimit {
		return false
	}
	if m.averageLatencyLocked() > latencyLimit {
		return false
	}
	if m.failureRatioLocked() > failureRatioLimit {
		return false
	}
	return true
}

func (m *Monitor) averageLatencyLocked() time.Duration {
	n := m.latencies.Length()
	if n == 0 {
		return 0
	}
	return m.latencySum / time.Duration(n)
}

func (m *Monitor) failureRatioLocked() float64 {
	n := m.outcomes.Length()
	if n == 0 {
		return 0
	}
	return float64(m.recentFailed) / float64(n)
}

func (m *Monitor) pushOutcomeLocked(success bool) {
	m.outcomes.Add(success)
	if !success {
		m.recentFailed++
	}
	for m.outcomes.Length() > outcomeWindow {
		old := m.outcomes.Remove().(bool)
		if !old {
			m.recentFailed--
		}
	}
}
