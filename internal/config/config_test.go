package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-client
  sender: alice
server:
  ws_url: wss://chat.example.com/ws
  ticket_url: https://chat.example.com/api/ticket
auth:
  ticket_enabled: true
connection:
  max_retries: 7
  base_delay: 2s
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-client" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-client")
	}
	if cfg.Server.WSURL != "wss://chat.example.com/ws" {
		t.Errorf("Server.WSURL = %q, want %q", cfg.Server.WSURL, "wss://chat.example.com/ws")
	}
	if cfg.Connection.MaxRetries != 7 {
		t.Errorf("Connection.MaxRetries = %d, want 7", cfg.Connection.MaxRetries)
	}
	if cfg.Connection.BaseDelay != 2*time.Second {
		t.Errorf("Connection.BaseDelay = %v, want 2s", cfg.Connection.BaseDelay)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BEARER_TOKEN", "tok-secret")

	yaml := `
instance:
  id: test-client
server:
  ws_url: wss://chat.example.com/ws
auth:
  bearer_token: ${TEST_BEARER_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.BearerToken != "tok-secret" {
		t.Errorf("Auth.BearerToken = %q, want %q", cfg.Auth.BearerToken, "tok-secret")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-client
server:
  ws_url: wss://chat.example.com/ws
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Connection.MaxRetries != DefaultMaxRetries {
		t.Errorf("Connection.MaxRetries = %d, want default %d", cfg.Connection.MaxRetries, DefaultMaxRetries)
	}
	if cfg.Connection.BaseDelay != DefaultBaseDelay {
		t.Errorf("Connection.BaseDelay = %v, want default %v", cfg.Connection.BaseDelay, DefaultBaseDelay)
	}
	if cfg.RateLimit.Messages != DefaultRateMessages {
		t.Errorf("RateLimit.Messages = %d, want default %d", cfg.RateLimit.Messages, DefaultRateMessages)
	}
	if cfg.RateLimit.Burst != DefaultRateBurst {
		t.Errorf("RateLimit.Burst = %d, want default %d", cfg.RateLimit.Burst, DefaultRateBurst)
	}
	if cfg.Queue.MaxSize != DefaultQueueMaxSize {
		t.Errorf("Queue.MaxSize = %d, want default %d", cfg.Queue.MaxSize, DefaultQueueMaxSize)
	}
	if cfg.Reconcile.Strategy != DefaultStrategy {
		t.Errorf("Reconcile.Strategy = %q, want default %q", cfg.Reconcile.Strategy, DefaultStrategy)
	}
	if cfg.Reconcile.PreserveOrder == nil || !*cfg.Reconcile.PreserveOrder {
		t.Error("Reconcile.PreserveOrder should default to true")
	}
	if cfg.Reconcile.SynthesizeUnmatched == nil || !*cfg.Reconcile.SynthesizeUnmatched {
		t.Error("Reconcile.SynthesizeUnmatched should default to true")
	}
}

func TestDefaultsKeepExplicitFalse(t *testing.T) {
	yaml := `
instance:
  id: test-client
server:
  ws_url: wss://chat.example.com/ws
reconcile:
  synthesize_unmatched: false
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Reconcile.SynthesizeUnmatched == nil || *cfg.Reconcile.SynthesizeUnmatched {
		t.Error("explicit synthesize_unmatched: false must survive defaulting")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ClientConfig)
		wantErr bool
	}{
		{"valid", func(c *ClientConfig) {}, false},
		{"missing instance id", func(c *ClientConfig) { c.Instance.ID = "" }, true},
		{"missing ws url", func(c *ClientConfig) { c.Server.WSURL = "" }, true},
		{"ticket enabled without url", func(c *ClientConfig) {
			c.Auth.TicketEnabled = true
			c.Server.TicketURL = ""
		}, true},
		{"multiplier below one", func(c *ClientConfig) { c.Connection.BackoffMultiplier = 0.5 }, true},
		{"jitter out of range", func(c *ClientConfig) { c.Connection.JitterRange = 1.5 }, true},
		{"base delay above max", func(c *ClientConfig) {
			c.Connection.BaseDelay = time.Minute
			c.Connection.MaxDelay = time.Second
		}, true},
		{"bad strategy", func(c *ClientConfig) { c.Reconcile.Strategy = "fuzzy" }, true},
		{"zero rate messages", func(c *ClientConfig) { c.RateLimit.Messages = 0 }, true},
		{"archive without db host", func(c *ClientConfig) {
			c.Archive.Enabled = true
			c.Database.Postgres = DBConfig{Port: 5432, Name: "chat", User: "u", Password: "p", MaxConns: 4}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	yaml := `
instance:
  id: test-client
server:
  ws_url: wss://chat.example.com/ws
`
	path := writeTempFile(t, yaml)

	if _, err := LoadAndValidate(path); err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func validConfig() *ClientConfig {
	cfg := &ClientConfig{
		Instance: InstanceConfig{ID: "test-client"},
		Server:   ServerConfig{WSURL: "wss://chat.example.com/ws"},
	}
	cfg.applyDefaults()
	return cfg
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
