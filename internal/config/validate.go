package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.Server.WSURL == "" {
		return errors.New("server.ws_url is required")
	}
	if c.Auth.TicketEnabled && c.Server.TicketURL == "" {
		return errors.New("server.ticket_url is required when auth.ticket_enabled is true")
	}

	if c.Connection.MaxRetries < 0 {
		return errors.New("connection.max_retries must be >= 0")
	}
	if c.Connection.BackoffMultiplier < 1 {
		return errors.New("connection.backoff_multiplier must be >= 1")
	}
	if c.Connection.JitterRange < 0 || c.Connection.JitterRange > 1 {
		return fmt.Errorf("connection.jitter_range must be between 0 and 1, got %v", c.Connection.JitterRange)
	}
	if c.Connection.BaseDelay > c.Connection.MaxDelay {
		return fmt.Errorf("connection.base_delay (%v) cannot exceed max_delay (%v)", c.Connection.BaseDelay, c.Connection.MaxDelay)
	}
	if c.Connection.FailureThreshold < 1 {
		return errors.New("connection.failure_threshold must be >= 1")
	}

	if c.RateLimit.Messages < 1 {
		return errors.New("rate_limit.messages must be >= 1")
	}
	if c.RateLimit.Burst < 0 {
		return errors.New("rate_limit.burst must be >= 0")
	}

	if c.Queue.MaxSize < 1 {
		return errors.New("queue.max_size must be >= 1")
	}

	switch c.Reconcile.Strategy {
	case "content", "timestamp", "hybrid":
	default:
		return fmt.Errorf("reconcile.strategy must be content, timestamp, or hybrid, got %q", c.Reconcile.Strategy)
	}

	if c.Archive.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
