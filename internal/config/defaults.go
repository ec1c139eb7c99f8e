package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultMaxRetries        = 5
	DefaultBaseDelay         = 1 * time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultJitterRange       = 0.1
	DefaultFailureThreshold  = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHealthInterval    = 10 * time.Second
	DefaultRateMessages      = 60
	DefaultRateWindow        = 1 * time.Minute
	DefaultRateBurst         = 10
	DefaultQueueMaxSize      = 1000
	DefaultQueueTTL          = 5 * time.Minute
	DefaultStrategy          = "hybrid"
	DefaultReconcileTimeout  = 10 * time.Second
	DefaultReconcileRetries  = 3
	DefaultTimestampWindow   = 2 * time.Second
	DefaultCleanupInterval   = 30 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 100
	DefaultFlushInterval     = 1 * time.Second
	DefaultBufferSize        = 1000
)

func (c *ClientConfig) applyDefaults() {
	// Server defaults
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}

	// Connection defaults
	if c.Connection.MaxRetries == 0 {
		c.Connection.MaxRetries = DefaultMaxRetries
	}
	if c.Connection.BaseDelay == 0 {
		c.Connection.BaseDelay = DefaultBaseDelay
	}
	if c.Connection.MaxDelay == 0 {
		c.Connection.MaxDelay = DefaultMaxDelay
	}
	if c.Connection.BackoffMultiplier == 0 {
		c.Connection.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.Connection.JitterRange == 0 {
		c.Connection.JitterRange = DefaultJitterRange
	}
	if c.Connection.FailureThreshold == 0 {
		c.Connection.FailureThreshold = DefaultFailureThreshold
	}
	if c.Connection.ResetTimeout == 0 {
		c.Connection.ResetTimeout = DefaultResetTimeout
	}
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Connection.HealthInterval == 0 {
		c.Connection.HealthInterval = DefaultHealthInterval
	}

	// Rate limit defaults
	if c.RateLimit.Messages == 0 {
		c.RateLimit.Messages = DefaultRateMessages
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = DefaultRateWindow
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultRateBurst
	}

	// Queue defaults
	if c.Queue.MaxSize == 0 {
		c.Queue.MaxSize = DefaultQueueMaxSize
	}
	if c.Queue.TTL == 0 {
		c.Queue.TTL = DefaultQueueTTL
	}

	// Reconcile defaults
	if c.Reconcile.Strategy == "" {
		c.Reconcile.Strategy = DefaultStrategy
	}
	if c.Reconcile.Timeout == 0 {
		c.Reconcile.Timeout = DefaultReconcileTimeout
	}
	if c.Reconcile.MaxRetries == 0 {
		c.Reconcile.MaxRetries = DefaultReconcileRetries
	}
	if c.Reconcile.TimestampWindow == 0 {
		c.Reconcile.TimestampWindow = DefaultTimestampWindow
	}
	if c.Reconcile.PreserveOrder == nil {
		c.Reconcile.PreserveOrder = boolPtr(true)
	}
	if c.Reconcile.SynthesizeUnmatched == nil {
		c.Reconcile.SynthesizeUnmatched = boolPtr(true)
	}
	if c.Reconcile.CleanupInterval == 0 {
		c.Reconcile.CleanupInterval = DefaultCleanupInterval
	}

	// Database defaults apply only when archiving is enabled
	if c.Archive.Enabled {
		applyDBDefaults(&c.Database.Postgres)
	}

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

func boolPtr(b bool) *bool { return &b }
