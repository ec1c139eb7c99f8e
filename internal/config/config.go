package config

import "time"

// ClientConfig is the root configuration for a chat transport instance.
type ClientConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Connection ConnectionConfig `yaml:"connection"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Queue      QueueConfig      `yaml:"queue"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Database   DatabaseConfig   `yaml:"database"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID     string `yaml:"id"`
	Sender string `yaml:"sender"`
}

// ServerConfig holds the chat backend endpoints.
type ServerConfig struct {
	WSURL            string        `yaml:"ws_url"`
	TicketURL        string        `yaml:"ticket_url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// AuthConfig holds credential negotiation settings.
type AuthConfig struct {
	TicketEnabled bool   `yaml:"ticket_enabled"`
	BearerToken   string `yaml:"bearer_token"`
}

// ConnectionConfig holds reconnect, breaker, and heartbeat settings.
type ConnectionConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	JitterRange       float64       `yaml:"jitter_range"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	ResetTimeout      time.Duration `yaml:"reset_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HealthInterval    time.Duration `yaml:"health_interval"`
}

// RateLimitConfig holds token bucket settings for outbound sends.
type RateLimitConfig struct {
	Messages int           `yaml:"messages"`
	Window   time.Duration `yaml:"window"`
	Burst    int           `yaml:"burst"`
}

// QueueConfig holds outbound queue settings.
type QueueConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// ReconcileConfig holds optimistic message reconciliation settings.
type ReconcileConfig struct {
	Strategy            string        `yaml:"strategy"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxRetries          int           `yaml:"max_retries"`
	TimestampWindow     time.Duration `yaml:"timestamp_window"`
	PreserveOrder       *bool         `yaml:"preserve_order"`
	SynthesizeUnmatched *bool         `yaml:"synthesize_unmatched"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval"`
}

// DatabaseConfig holds the optional archive database connection.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ArchiveConfig holds batch archive writer settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}
