package connection

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dliang/chatlink/internal/health"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrCircuitOpen   = errors.New("circuit breaker open")
	ErrQueueOverflow = errors.New("outbound queue overflow, message dropped")
)

// State is the connection lifecycle state, owned by the Manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Envelope is the JSON wire message exchanged over the socket.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // ms since epoch
}

// Reserved envelope types consumed internally. Everything else is
// forwarded to the host application's OnMessage callback.
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeHeartbeat    = "heartbeat"
	TypeHeartbeatAck = "heartbeat_ack"
)

// Callbacks is the event surface exposed to the host application. Any
// field may be nil.
type Callbacks struct {
	OnOpen         func()
	OnMessage      func(Envelope)
	OnError        func(error)
	OnClose        func(code int, reason string)
	OnReconnect    func(attempt int)
	OnRateLimit    func()
	OnHealthChange func(healthy bool, metrics health.Metrics)
}

// RetryPolicy controls reconnection backoff.
type RetryPolicy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	JitterRange float64 // fraction of the computed delay, e.g. 0.2
}

// BreakerConfig controls the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// RateLimitConfig controls the outbound token bucket.
type RateLimitConfig struct {
	Messages int
	Window   time.Duration
	Burst    int
}

// QueueConfig controls the outbound message queue.
type QueueConfig struct {
	MaxSize int
	TTL     time.Duration
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	HeartbeatInterval   time.Duration
	HealthCheckInterval time.Duration
	HandshakeTimeout    time.Duration
	WriteTimeout        time.Duration
	BufferSize          int // client inbound channel buffer

	Retry     RetryPolicy
	Breaker   BreakerConfig
	RateLimit RateLimitConfig
	Queue     QueueConfig

	// BackoffSeed makes reconnect jitter reproducible when non-zero.
	BackoffSeed int64

	Callbacks Callbacks
}

// applyConfigDefaults fills zero-valued fields that would otherwise
// break the queue or the rate limiter.
func applyConfigDefaults(cfg *ManagerConfig) {
	def := DefaultManagerConfig()
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = def.Retry.MaxDelay
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = def.Retry.Multiplier
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = def.Breaker.FailureThreshold
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = def.Breaker.ResetTimeout
	}
	if cfg.RateLimit.Messages == 0 {
		cfg.RateLimit.Messages = def.RateLimit.Messages
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = def.RateLimit.Window
	}
	if cfg.Queue.MaxSize == 0 {
		cfg.Queue.MaxSize = def.Queue.MaxSize
	}
	if cfg.Queue.TTL == 0 {
		cfg.Queue.TTL = def.Queue.TTL
	}
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HeartbeatInterval:   30 * time.Second,
		HealthCheckInterval: 10 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		WriteTimeout:        5 * time.Second,
		BufferSize:          1000,
		Retry: RetryPolicy{
			MaxRetries:  10,
			BaseDelay:   time.Second,
			MaxDelay:    60 * time.Second,
			Multiplier:  2,
			JitterRange: 0.2,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Messages: 60,
			Window:   time.Minute,
			Burst:    10,
		},
		Queue: QueueConfig{
			MaxSize: 1000,
			TTL:     5 * time.Minute,
		},
	}
}

// Status is a point-in-time snapshot of the Manager.
type Status struct {
	State             State
	Breaker           BreakerState
	ReconnectAttempts int
	QueueSize         int
	OfflineQueueSize  int
	Online            bool
	Health            health.Metrics
}
