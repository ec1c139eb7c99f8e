package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dliang/chatlink/internal/auth"
	"github.com/dliang/chatlink/internal/health"
	"github.com/dliang/chatlink/internal/model"
	"github.com/dliang/chatlink/internal/queue"
	"github.com/dliang/chatlink/internal/ratelimit"
	"github.com/dliang/chatlink/internal/scheduler"
)

// Manager owns exactly one logical WebSocket connection: it gates
// attempts through a circuit breaker, drives reconnection with adaptive
// backoff, heartbeats the peer, and buffers outbound messages through a
// priority queue and token bucket.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger
	sched  scheduler.Scheduler

	limiter    *ratelimit.Limiter
	monitor    *health.Monitor
	negotiator *auth.Negotiator
	outbound   *queue.Queue
	breaker    *Breaker
	backoff    *Backoff

	// newClient builds a Client per attempt; replaceable in tests.
	newClient func(cfg ClientConfig) Client

	mu        sync.Mutex
	state     State
	client    Client
	clientGen int
	baseURL   string
	attempts  int
	online    bool
	gaveUp    bool
	closed    bool
	healthy   bool

	heartbeatArmed  bool
	heartbeatHandle scheduler.Handle
	healthArmed     bool
	healthHandle    scheduler.Handle
	reconnectArmed  bool
	reconnectHandle scheduler.Handle

	isReconnecting atomic.Bool

	frames       *frameBuffer
	dispatchOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a Manager. sched may be nil to use the wall clock;
// negotiator may be nil to always connect unauthenticated.
func NewManager(cfg ManagerConfig, negotiator *auth.Negotiator, sched scheduler.Scheduler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if sched == nil {
		sched = scheduler.New()
	}
	if negotiator == nil {
		negotiator = auth.NewNegotiator(nil, "", false, logger)
	}
	applyConfigDefaults(&cfg)

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		sched:      sched,
		limiter:    ratelimit.New(cfg.RateLimit.Messages, cfg.RateLimit.Window, cfg.RateLimit.Burst),
		monitor:    health.NewMonitor(nil),
		negotiator: negotiator,
		outbound:   queue.New(cfg.Queue.MaxSize, cfg.Queue.TTL, logger),
		backoff:    NewBackoff(cfg.Retry, cfg.BackoffSeed),
		state:      StateDisconnected,
		online:     true,
		healthy:    true,
		frames:     newFrameBuffer(64),
	}
	m.breaker = NewBreaker(cfg.Breaker, sched, m.probe, logger)
	m.newClient = func(c ClientConfig) Client {
		return NewClient(c, logger)
	}
	return m
}

// Connect establishes the connection to url. Idempotent while already
// connecting or connected. The first attempt's error is returned;
// recovery continues in the background regardless.
func (m *Manager) Connect(ctx context.Context, url string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	if url != "" {
		m.baseURL = url
	}
	m.state = StateConnecting
	m.attempts = 0
	m.gaveUp = false
	m.cancelReconnectLocked()
	if m.ctx == nil {
		m.ctx, m.cancel = context.WithCancel(ctx)
	}
	m.mu.Unlock()

	m.dispatchOnce.Do(func() { go m.dispatchLoop() })

	return m.establish()
}

// Disconnect cancels all timers, closes the socket with a normal-closure
// code, and marks the Manager disconnected. This is the only externally
// triggered terminal transition; it is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.state = StateDisconnected
	m.clientGen++
	cl := m.client
	m.client = nil
	m.stopTimersLocked()
	m.cancelReconnectLocked()
	m.mu.Unlock()

	m.breaker.Stop()
	if m.cancel != nil {
		m.cancel()
	}
	if cl != nil {
		cl.Close()
	}
	m.monitor.MarkDisconnected()
	m.frames.close()

	m.logger.Info("disconnected")
}

// Send transmits an envelope, or queues it when the socket is down or
// the rate limiter denies the send. Returns ErrQueueOverflow when the
// message could not even be queued.
func (m *Manager) Send(env Envelope, priority int) error {
	if env.Timestamp == 0 {
		env.Timestamp = model.NowMillis()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	m.mu.Lock()
	cl := m.client
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || cl == nil || !cl.IsConnected() {
		return m.enqueue(data, priority)
	}

	if !m.limiter.TryAcquire() {
		if cb := m.cfg.Callbacks.OnRateLimit; cb != nil {
			cb()
		}
		m.logger.Debug("rate limit exceeded, queueing message")
		return m.enqueue(data, priority)
	}

	if err := cl.Send(data); err != nil {
		m.logger.Warn("send failed, queueing message", "error", err)
		return m.enqueue(data, priority)
	}
	m.monitor.RecordSent()
	return nil
}

// SetOnline informs the Manager of network availability. Going offline
// parks the outbound queue; coming back online restores it and re-arms
// reconnection even after the retry budget was exhausted.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	if m.closed || m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	if !online {
		m.logger.Info("network offline, parking outbound queue")
		m.outbound.MoveToOffline()
		return
	}

	m.logger.Info("network online, restoring outbound queue")
	m.outbound.RestoreFromOffline()

	m.mu.Lock()
	reconnect := m.state != StateConnected
	if reconnect {
		m.attempts = 0
		m.gaveUp = false
		m.state = StateConnecting
	}
	m.mu.Unlock()

	if reconnect {
		m.establish()
	}
}

// State returns the connection lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the socket is currently open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Status returns a point-in-time snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	state := m.state
	attempts := m.attempts
	online := m.online
	m.mu.Unlock()

	return Status{
		State:             state,
		Breaker:           m.breaker.State(),
		ReconnectAttempts: attempts,
		QueueSize:         m.outbound.Size(),
		OfflineQueueSize:  m.outbound.OfflineSize(),
		Online:            online,
		Health:            m.monitor.Snapshot(),
	}
}

// HealthMetrics returns the accumulated health counters.
func (m *Manager) HealthMetrics() health.Metrics {
	return m.monitor.Snapshot()
}

// QueueSize returns the number of pending outbound messages.
func (m *Manager) QueueSize() int {
	return m.outbound.Size()
}

// ClearQueues drops all queued outbound messages.
func (m *Manager) ClearQueues() {
	m.outbound.Clear()
}

// UpdateToken replaces the bearer token used for future connections.
func (m *Manager) UpdateToken(token string) {
	m.negotiator.UpdateBearer(token)
}

// RefreshTicketIfNeeded proactively refreshes the connection ticket.
func (m *Manager) RefreshTicketIfNeeded(ctx context.Context, threshold time.Duration) bool {
	return m.negotiator.RefreshIfNeeded(ctx, threshold)
}

// SecureURL resolves a credential and attaches it to baseURL.
func (m *Manager) SecureURL(ctx context.Context, baseURL string) (string, error) {
	return m.negotiator.SecureURL(ctx, baseURL)
}

// SecureURLCached attaches already-held credentials without fetching.
func (m *Manager) SecureURLCached(baseURL string) (string, error) {
	return m.negotiator.SecureURLCached(baseURL)
}

// establish performs one connection attempt. It fails fast when the
// circuit breaker denies the attempt.
func (m *Manager) establish() error {
	m.mu.Lock()
	if m.closed || !m.online {
		m.mu.Unlock()
		return ErrNotConnected
	}
	baseURL := m.baseURL
	ctx := m.ctx
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	if !m.breaker.Allow() {
		m.logger.Warn("connection attempt rejected, circuit open")
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return ErrCircuitOpen
	}

	url, err := m.negotiator.SecureURL(ctx, baseURL)
	if err != nil {
		m.handleConnectFailure(err)
		return err
	}

	cl := m.newClient(ClientConfig{
		URL:              url,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
	})

	if err := cl.Connect(ctx); err != nil {
		m.handleConnectFailure(err)
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cl.Close()
		return ErrAlreadyClosed
	}
	m.client = cl
	m.clientGen++
	gen := m.clientGen
	m.state = StateConnected
	wasReconnect := m.attempts > 0
	attempt := m.attempts
	m.attempts = 0
	m.startTimersLocked()
	m.mu.Unlock()

	m.breaker.RecordSuccess()
	m.monitor.RecordConnectSuccess()
	m.monitor.MarkConnected()

	go m.pump(ctx, cl, gen)

	m.logger.Info("connected", "reconnect", wasReconnect)

	if cb := m.cfg.Callbacks.OnOpen; cb != nil {
		cb()
	}
	if wasReconnect {
		if cb := m.cfg.Callbacks.OnReconnect; cb != nil {
			cb(attempt)
		}
	}

	m.drainQueue()
	return nil
}

// probe runs the single half-open reconnection attempt.
func (m *Manager) probe() {
	m.mu.Lock()
	skip := m.closed || m.state == StateConnected || m.gaveUp
	m.mu.Unlock()
	if skip {
		return
	}
	m.establish()
}

func (m *Manager) handleConnectFailure(err error) {
	m.logger.Warn("connection failed", "error", err)

	m.monitor.RecordConnectFailure()
	m.breaker.RecordFailure()

	if cb := m.cfg.Callbacks.OnError; cb != nil {
		cb(err)
	}

	m.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer for the next attempt. Guarded
// against concurrent execution via an in-flight flag. Exceeding the retry
// budget gives up until an explicit Connect or a network-online event.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || !m.online {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if !m.isReconnecting.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	m.attempts++
	attempt := m.attempts

	if attempt > m.cfg.Retry.MaxRetries {
		m.gaveUp = true
		m.state = StateDisconnected
		m.mu.Unlock()
		m.isReconnecting.Store(false)
		m.logger.Error("retry budget exhausted, giving up",
			"attempts", attempt-1,
		)
		return
	}

	m.state = StateReconnecting
	delay := m.backoff.Delay(attempt - 1)
	m.reconnectArmed = true
	m.reconnectHandle = m.sched.After(delay, func() {
		m.mu.Lock()
		m.reconnectArmed = false
		m.mu.Unlock()
		m.isReconnecting.Store(false)
		m.establish()
	})
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// pump forwards inbound frames and errors from one client instance.
// A stale generation means the Manager already moved on.
func (m *Manager) pump(ctx context.Context, cl Client, gen int) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-cl.Messages():
			if !ok {
				return
			}
			m.handleFrame(data, gen)
		case err := <-cl.Errors():
			m.handleSocketError(err, gen)
			return
		}
	}
}

func (m *Manager) handleFrame(data []byte, gen int) {
	m.mu.Lock()
	stale := gen != m.clientGen
	cl := m.client
	m.mu.Unlock()
	if stale {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Warn("unparseable frame", "error", err)
		return
	}

	switch env.Type {
	case TypePing:
		m.sendControl(cl, Envelope{Type: TypePong, Timestamp: env.Timestamp})
	case TypePong:
		if env.Timestamp > 0 {
			latency := time.Duration(model.NowMillis()-env.Timestamp) * time.Millisecond
			if latency >= 0 {
				m.monitor.RecordLatency(latency)
			}
		}
	case TypeHeartbeat:
		m.sendControl(cl, Envelope{Type: TypeHeartbeatAck, Timestamp: env.Timestamp})
	case TypeHeartbeatAck:
		// latency is tracked via ping/pong
	default:
		m.monitor.RecordReceived()
		m.frames.push(env)
	}
}

func (m *Manager) handleSocketError(err error, gen int) {
	m.mu.Lock()
	if m.closed || gen != m.clientGen {
		m.mu.Unlock()
		return
	}
	m.clientGen++
	m.client = nil
	m.stopTimersLocked()
	m.mu.Unlock()

	m.monitor.MarkDisconnected()

	if closeErr, ok := err.(*websocket.CloseError); ok {
		if cb := m.cfg.Callbacks.OnClose; cb != nil {
			cb(closeErr.Code, closeErr.Text)
		}
		// A normal closure from the peer is not a failure.
		if closeErr.Code == websocket.CloseNormalClosure {
			m.mu.Lock()
			m.state = StateDisconnected
			m.mu.Unlock()
			m.logger.Info("peer closed connection")
			return
		}
	}

	m.handleConnectFailure(err)
}

// dispatchLoop delivers buffered frames to the OnMessage callback.
func (m *Manager) dispatchLoop() {
	for {
		env, ok := m.frames.pop()
		if !ok {
			return
		}
		if cb := m.cfg.Callbacks.OnMessage; cb != nil {
			cb(env)
		}
	}
}

// heartbeatTick sends an application-level ping and retries queued sends.
func (m *Manager) heartbeatTick() {
	m.mu.Lock()
	cl := m.client
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || cl == nil {
		return
	}

	m.sendControl(cl, Envelope{Type: TypePing, Timestamp: model.NowMillis()})
	m.drainQueue()
}

// healthTick re-evaluates the health verdict and force-reconnects a
// half-dead connection even when the socket still appears open.
func (m *Manager) healthTick() {
	healthy := m.monitor.Healthy()

	m.mu.Lock()
	changed := healthy != m.healthy
	m.healthy = healthy
	connected := m.state == StateConnected
	m.mu.Unlock()

	if changed {
		if cb := m.cfg.Callbacks.OnHealthChange; cb != nil {
			cb(healthy, m.monitor.Snapshot())
		}
	}

	if healthy || !connected {
		return
	}

	m.logger.Warn("connection unhealthy, forcing reconnect")

	m.mu.Lock()
	m.clientGen++
	cl := m.client
	m.client = nil
	m.state = StateReconnecting
	m.stopTimersLocked()
	m.mu.Unlock()

	if cl != nil {
		cl.Close()
	}
	m.monitor.MarkDisconnected()
	m.scheduleReconnect()
}

// sendControl writes a reserved-type envelope directly, bypassing the
// queue and rate limiter.
func (m *Manager) sendControl(cl Client, env Envelope) {
	if cl == nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := cl.Send(data); err != nil {
		m.logger.Debug("control send failed", "type", env.Type, "error", err)
	}
}

// drainQueue flushes pending messages through the rate limiter.
func (m *Manager) drainQueue() {
	m.mu.Lock()
	cl := m.client
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || cl == nil {
		return
	}

	sent := m.outbound.Drain(m.limiter.TryAcquire, func(item *queue.Item) error {
		if err := cl.Send(item.Payload); err != nil {
			return err
		}
		m.monitor.RecordSent()
		return nil
	})
	if sent > 0 {
		m.logger.Debug("drained outbound queue", "sent", sent)
	}
}

func (m *Manager) enqueue(data []byte, priority int) error {
	if !m.outbound.Enqueue(data, priority) {
		return ErrQueueOverflow
	}
	return nil
}

func (m *Manager) startTimersLocked() {
	m.stopTimersLocked()
	if m.cfg.HeartbeatInterval > 0 {
		m.heartbeatArmed = true
		m.heartbeatHandle = m.sched.Every(m.cfg.HeartbeatInterval, m.heartbeatTick)
	}
	if m.cfg.HealthCheckInterval > 0 {
		m.healthArmed = true
		m.healthHandle = m.sched.Every(m.cfg.HealthCheckInterval, m.healthTick)
	}
}

func (m *Manager) stopTimersLocked() {
	if m.heartbeatArmed {
		m.sched.Cancel(m.heartbeatHandle)
		m.heartbeatArmed = false
	}
	if m.healthArmed {
		m.sched.Cancel(m.healthHandle)
		m.healthArmed = false
	}
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectArmed {
		m.sched.Cancel(m.reconnectHandle)
		m.reconnectArmed = false
	}
	m.isReconnecting.Store(false)
}
