package reconcile

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dliang/chatlink/internal/model"
	"github.com/dliang/chatlink/internal/scheduler"
)

// Engine reconciles optimistic messages against backend confirmation
// frames. Optimistic entries are tracked until they are confirmed, fail,
// or exhaust their timeout retries.
type Engine struct {
	cfg   Config
	sched scheduler.Scheduler
	log   *slog.Logger

	match *matcher
	stats *statistics

	mu        sync.Mutex
	pending   map[string]*OptimisticMessage // keyed by TempID
	order     []*OptimisticMessage          // pending in Seq order
	confirmed []model.ConfirmedMessage
	timers    map[string]scheduler.Handle
	seq       int64
	cleaner   *cleaner
	onConfirm func(model.ConfirmedMessage)
	closed    bool
}

// NewEngine builds a reconciliation engine. A nil logger falls back to
// slog.Default. The cleanup loop starts immediately when
// CleanupInterval is positive.
func NewEngine(cfg Config, sched scheduler.Scheduler, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TimestampWindow <= 0 {
		cfg.TimestampWindow = 2 * time.Second
	}
	e := &Engine{
		cfg:     cfg,
		sched:   sched,
		log:     log,
		match:   newMatcher(cfg.Strategy, cfg.TimestampWindow.Milliseconds()),
		stats:   newStatistics(),
		pending: make(map[string]*OptimisticMessage),
		timers:  make(map[string]scheduler.Handle),
	}
	if cfg.CleanupInterval > 0 {
		e.cleaner = newCleaner(e, cfg.CleanupInterval)
	}
	return e
}

// SetConfirmedHandler registers a callback invoked for every confirmed
// or synthesized message, after it has been recorded.
func (e *Engine) SetConfirmedHandler(fn func(model.ConfirmedMessage)) {
	e.mu.Lock()
	e.onConfirm = fn
	e.mu.Unlock()
}

// AddOptimistic registers a locally predicted message and arms its
// confirmation timeout. The returned entry carries the generated TempID.
func (e *Engine) AddOptimistic(msg model.Message) *OptimisticMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}

	ts := msg.Timestamp
	if ts == 0 {
		ts = e.sched.Now().UnixMilli()
	}
	e.seq++
	opt := &OptimisticMessage{
		Message:             msg,
		TempID:              model.NewTempID(),
		OptimisticTimestamp: ts,
		ContentHash:         HashContent(msg.Content),
		Status:              StatusPending,
		Seq:                 e.seq,
	}
	opt.sentAt = e.sched.Now()

	e.pending[opt.TempID] = opt
	e.order = append(e.order, opt)
	e.stats.recordOptimistic()
	e.armTimeoutLocked(opt.TempID)
	return opt
}

// ProcessConfirmation matches a confirmation frame against the pending
// set. On a match the optimistic entry is resolved and the confirmed
// message returned with matched=true. An unmatched frame is synthesized
// into a standalone confirmed message when the engine is configured to
// do so; either way matched is false and the pending set is untouched.
func (e *Engine) ProcessConfirmation(conf Confirmation) (model.ConfirmedMessage, bool) {
	e.mu.Lock()
	res := e.match.Match(conf, e.order)
	if !res.Found {
		if !e.cfg.SynthesizeUnmatched {
			e.mu.Unlock()
			e.log.Warn("dropping unmatched confirmation", "message_id", conf.MessageID)
			return model.ConfirmedMessage{}, false
		}
		cm := e.synthesizeLocked(conf)
		fn := e.onConfirm
		e.mu.Unlock()
		e.log.Warn("synthesized message for unmatched confirmation",
			"message_id", cm.ID, "thread_id", cm.ThreadID)
		if fn != nil {
			fn(cm)
		}
		return cm, false
	}

	opt := res.Message
	e.cancelTimeoutLocked(opt.TempID)
	e.removePendingLocked(opt.TempID)
	opt.Status = StatusConfirmed

	cm := model.ConfirmedMessage{
		ID:          conf.MessageID,
		TempID:      opt.TempID,
		ThreadID:    opt.ThreadID,
		Sender:      opt.Sender,
		Content:     conf.Content,
		Kind:        opt.Kind,
		Timestamp:   confirmedTimestamp(conf, opt),
		ConfirmedAt: e.sched.Now().UnixMilli(),
	}
	e.confirmed = append(e.confirmed, cm)
	e.stats.recordConfirmed(e.sched.Now().Sub(opt.sentAt))
	fn := e.onConfirm
	e.mu.Unlock()

	e.log.Debug("confirmed optimistic message",
		"temp_id", opt.TempID, "message_id", cm.ID,
		"strategy", string(res.Strategy), "confidence", res.Confidence)
	if fn != nil {
		fn(cm)
	}
	return cm, true
}

// MarkFailed resolves a pending entry as failed, for example after the
// transport reports a terminal send error. It reports whether the entry
// was still pending.
func (e *Engine) MarkFailed(tempID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	opt, ok := e.pending[tempID]
	if !ok {
		return false
	}
	e.cancelTimeoutLocked(tempID)
	e.removePendingLocked(tempID)
	opt.Status = StatusFailed
	e.stats.recordFailed()
	return true
}

// OrderedMessages returns the confirmed messages, sorted by timestamp
// when order preservation is enabled.
func (e *Engine) OrderedMessages() []model.ConfirmedMessage {
	e.mu.Lock()
	out := make([]model.ConfirmedMessage, len(e.confirmed))
	copy(out, e.confirmed)
	e.mu.Unlock()

	if e.cfg.PreserveOrder {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	}
	return out
}

// Pending returns copies of the entries still awaiting confirmation, in
// arrival order.
func (e *Engine) Pending() []OptimisticMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]OptimisticMessage, 0, len(e.order))
	for _, opt := range e.order {
		out = append(out, *opt)
	}
	return out
}

// Stats returns a snapshot of reconciliation counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	n := len(e.pending)
	e.mu.Unlock()
	return e.stats.snapshot(n)
}

// Shutdown cancels all pending timeout timers and the cleanup loop.
// The engine accepts no new optimistic messages afterwards.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, h := range e.timers {
		e.sched.Cancel(h)
		delete(e.timers, id)
	}
	if e.cleaner != nil {
		e.cleaner.stop()
	}
}

func (e *Engine) armTimeoutLocked(tempID string) {
	if e.cfg.Timeout <= 0 {
		return
	}
	e.timers[tempID] = e.sched.After(e.cfg.Timeout, func() { e.handleTimeout(tempID) })
}

func (e *Engine) cancelTimeoutLocked(tempID string) {
	if h, ok := e.timers[tempID]; ok {
		e.sched.Cancel(h)
		delete(e.timers, tempID)
	}
}

func (e *Engine) removePendingLocked(tempID string) {
	delete(e.pending, tempID)
	for i, opt := range e.order {
		if opt.TempID == tempID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *Engine) handleTimeout(tempID string) {
	e.mu.Lock()
	opt, ok := e.pending[tempID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.timers, tempID)

	if opt.RetryCount < e.cfg.MaxRetries {
		opt.RetryCount++
		e.armTimeoutLocked(tempID)
		e.mu.Unlock()
		e.log.Debug("confirmation overdue, extending wait",
			"temp_id", tempID, "retry", opt.RetryCount)
		return
	}

	e.removePendingLocked(tempID)
	opt.Status = StatusTimeout
	e.stats.recordTimeout()
	e.mu.Unlock()
	e.log.Warn("optimistic message timed out", "temp_id", tempID, "thread_id", opt.ThreadID)
}

func (e *Engine) synthesizeLocked(conf Confirmation) model.ConfirmedMessage {
	id := conf.MessageID
	if id == "" {
		id = model.NewQueueID()
	}
	cm := model.ConfirmedMessage{
		ID:          id,
		ThreadID:    conf.ThreadID,
		Sender:      conf.Sender,
		Content:     conf.Content,
		Kind:        conf.Kind,
		Timestamp:   conf.Timestamp,
		ConfirmedAt: e.sched.Now().UnixMilli(),
		Synthesized: true,
	}
	if cm.Timestamp == 0 {
		cm.Timestamp = cm.ConfirmedAt
	}
	e.confirmed = append(e.confirmed, cm)
	e.stats.recordSynthesized()
	return cm
}

func confirmedTimestamp(conf Confirmation, opt *OptimisticMessage) int64 {
	if conf.Timestamp != 0 {
		return conf.Timestamp
	}
	return opt.OptimisticTimestamp
}
