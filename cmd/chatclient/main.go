// chatclient connects to a chat backend over WebSocket, sends stdin
// lines as optimistic messages, and reconciles backend confirmations.
// Usage: go run ./cmd/chatclient --config configs/client.example.yaml
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dliang/chatlink/internal/archive"
	"github.com/dliang/chatlink/internal/auth"
	"github.com/dliang/chatlink/internal/config"
	"github.com/dliang/chatlink/internal/connection"
	"github.com/dliang/chatlink/internal/database"
	"github.com/dliang/chatlink/internal/health"
	"github.com/dliang/chatlink/internal/model"
	"github.com/dliang/chatlink/internal/reconcile"
	"github.com/dliang/chatlink/internal/scheduler"
	"github.com/dliang/chatlink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/client.example.yaml", "path to config file")
	thread := flag.String("thread", "general", "thread to send messages to")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting chatclient",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.Server.WSURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Optional confirmed-message archive
	var archiver *archive.Writer
	if cfg.Archive.Enabled {
		logger.Info("connecting to archive database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		archiver = archive.NewWriter(archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, logger)
		if err := archiver.Start(ctx); err != nil {
			logger.Error("failed to start archive writer", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			archiver.Stop(stopCtx)
		}()
	}

	// Credential negotiation: ticket endpoint first, bearer fallback
	var fetch auth.FetchTicketFunc
	if cfg.Auth.TicketEnabled {
		fetch = httpTicketFetcher(cfg.Server.TicketURL, cfg.Auth.BearerToken)
	}
	negotiator := auth.NewNegotiator(fetch, cfg.Auth.BearerToken, cfg.Auth.TicketEnabled, logger)

	// Reconciliation engine
	sched := scheduler.New()
	engine := reconcile.NewEngine(reconcile.Config{
		Strategy:            reconcile.Strategy(cfg.Reconcile.Strategy),
		Timeout:             cfg.Reconcile.Timeout,
		MaxRetries:          cfg.Reconcile.MaxRetries,
		TimestampWindow:     cfg.Reconcile.TimestampWindow,
		PreserveOrder:       *cfg.Reconcile.PreserveOrder,
		SynthesizeUnmatched: *cfg.Reconcile.SynthesizeUnmatched,
		CleanupInterval:     cfg.Reconcile.CleanupInterval,
	}, sched, logger)
	defer engine.Shutdown()

	if archiver != nil {
		engine.SetConfirmedHandler(archiver.Add)
	}

	// Connection manager
	mcfg := connection.DefaultManagerConfig()
	mcfg.HandshakeTimeout = cfg.Server.HandshakeTimeout
	mcfg.WriteTimeout = cfg.Server.WriteTimeout
	mcfg.HeartbeatInterval = cfg.Connection.HeartbeatInterval
	mcfg.HealthCheckInterval = cfg.Connection.HealthInterval
	mcfg.Retry = connection.RetryPolicy{
		MaxRetries:  cfg.Connection.MaxRetries,
		BaseDelay:   cfg.Connection.BaseDelay,
		MaxDelay:    cfg.Connection.MaxDelay,
		Multiplier:  cfg.Connection.BackoffMultiplier,
		JitterRange: cfg.Connection.JitterRange,
	}
	mcfg.Breaker = connection.BreakerConfig{
		FailureThreshold: cfg.Connection.FailureThreshold,
		ResetTimeout:     cfg.Connection.ResetTimeout,
	}
	mcfg.RateLimit = connection.RateLimitConfig{
		Messages: cfg.RateLimit.Messages,
		Window:   cfg.RateLimit.Window,
		Burst:    cfg.RateLimit.Burst,
	}
	mcfg.Queue = connection.QueueConfig{
		MaxSize: cfg.Queue.MaxSize,
		TTL:     cfg.Queue.TTL,
	}
	mcfg.Callbacks = connection.Callbacks{
		OnOpen: func() {
			logger.Info("connected", "url", cfg.Server.WSURL)
		},
		OnMessage: func(env connection.Envelope) {
			handleEnvelope(logger, engine, env)
		},
		OnError: func(err error) {
			logger.Warn("transport error", "error", err)
		},
		OnClose: func(code int, reason string) {
			logger.Info("connection closed", "code", code, "reason", reason)
		},
		OnReconnect: func(attempt int) {
			if attempt > 0 {
				logger.Info("reconnected", "attempt", attempt)
			}
		},
		OnRateLimit: func() {
			logger.Warn("send rate limited, message queued")
		},
		OnHealthChange: func(healthy bool, metrics health.Metrics) {
			if healthy {
				logger.Info("connection healthy again")
			} else {
				logger.Warn("connection unhealthy",
					"avg_latency", metrics.AverageLatency,
					"failed_connections", metrics.FailedConnections,
				)
			}
		},
	}

	manager := connection.NewManager(mcfg, negotiator, sched, logger)
	defer manager.Disconnect()

	if err := manager.Connect(ctx, cfg.Server.WSURL); err != nil {
		logger.Warn("initial connect failed, retrying in background", "error", err)
	}

	// Read stdin lines and send them as optimistic chat messages
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel() // stdin EOF ends the session
		return sendLoop(gctx, logger, manager, engine, cfg.Instance.Sender, *thread)
	})
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("client exited", "error", err)
		os.Exit(1)
	}

	stats := engine.Stats()
	logger.Info("session summary",
		"sent", stats.TotalOptimistic,
		"confirmed", stats.TotalConfirmed,
		"timed_out", stats.TotalTimeout,
		"synthesized", stats.TotalSynthesized,
	)
}

// sendLoop turns stdin lines into optimistic chat messages. Reading
// happens on a separate goroutine so shutdown does not wait for EOF.
func sendLoop(ctx context.Context, logger *slog.Logger, manager *connection.Manager, engine *reconcile.Engine, sender, thread string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}
		if line == "" {
			continue
		}

		opt := engine.AddOptimistic(model.Message{
			ThreadID:  thread,
			Sender:    sender,
			Content:   line,
			Kind:      "chat",
			Timestamp: model.NowMillis(),
		})
		if opt == nil {
			return nil
		}

		payload, err := json.Marshal(map[string]any{
			"temp_id":   opt.TempID,
			"thread_id": thread,
			"sender":    sender,
			"content":   line,
		})
		if err != nil {
			return fmt.Errorf("marshal chat payload: %w", err)
		}

		env := connection.Envelope{
			Type:      "chat",
			Payload:   payload,
			Timestamp: opt.OptimisticTimestamp,
		}
		if err := manager.Send(env, 1); err != nil {
			logger.Warn("send failed", "error", err, "temp_id", opt.TempID)
			engine.MarkFailed(opt.TempID)
		}
	}
}

// handleEnvelope routes inbound application frames.
func handleEnvelope(logger *slog.Logger, engine *reconcile.Engine, env connection.Envelope) {
	switch env.Type {
	case "confirmation", "message":
		conf, err := reconcile.ParseConfirmation(env.Payload, env.Timestamp)
		if err != nil {
			logger.Warn("malformed confirmation payload", "error", err)
			return
		}
		cm, matched := engine.ProcessConfirmation(conf)
		if matched {
			fmt.Printf("[confirmed] %s: %s\n", cm.Sender, cm.Content)
		} else if cm.ID != "" {
			fmt.Printf("[received]  %s: %s\n", cm.Sender, cm.Content)
		}
	default:
		logger.Debug("unhandled frame", "type", env.Type)
	}
}

// httpTicketFetcher builds the ticket-fetch function against the
// backend's ticket endpoint.
func httpTicketFetcher(ticketURL, bearer string) auth.FetchTicketFunc {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context) (auth.TicketResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ticketURL, nil)
		if err != nil {
			return auth.TicketResponse{}, fmt.Errorf("build ticket request: %w", err)
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := client.Do(req)
		if err != nil {
			return auth.TicketResponse{}, fmt.Errorf("fetch ticket: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return auth.TicketResponse{}, fmt.Errorf("ticket endpoint returned %d", resp.StatusCode)
		}

		var tr auth.TicketResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return auth.TicketResponse{}, fmt.Errorf("decode ticket response: %w", err)
		}
		return tr, nil
	}
}
