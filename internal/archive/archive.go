package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dliang/chatlink/internal/model"
)

// Config holds batch archive writer settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns writer settings suitable for a single client.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 1 * time.Second,
		BufferSize:    1000,
	}
}

// Metrics tracks writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64
}

// Writer batches confirmed messages into the messages table. Writes are
// append-only; replayed confirmations hit ON CONFLICT DO NOTHING.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	input chan model.ConfirmedMessage
	db    *pgxpool.Pool

	batch       []messageRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

type messageRow struct {
	MessageID   string
	TempID      string
	ThreadID    string
	Sender      string
	Content     string
	Kind        string
	MessageTs   int64
	ConfirmedAt int64
	Synthesized bool
}

// NewWriter creates an archive writer backed by the given pool.
func NewWriter(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan model.ConfirmedMessage, cfg.BufferSize),
		batch:  make([]messageRow, 0, cfg.BatchSize),
	}
}

// Add enqueues a confirmed message for archiving. It never blocks the
// caller; when the buffer is full the message is dropped and counted.
func (w *Writer) Add(msg model.ConfirmedMessage) {
	select {
	case w.input <- msg:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("archive buffer full, dropping message", "message_id", msg.ID)
	}
}

// Start begins consuming messages and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer. Buffered and batched messages
// are flushed on ctx, not the writer's own (already canceled) context,
// so the closing write still lands.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("archive writer stopped")
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
	}

	// Drain whatever the consumer left in the buffer, then flush.
	w.drainInput()
	w.flushCtx(ctx)

	return nil
}

// drainInput moves any messages still buffered in the input channel
// into the batch.
func (w *Writer) drainInput() {
	for {
		select {
		case msg := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, transform(msg))
			w.batchMu.Unlock()
		default:
			return
		}
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.input:
			w.handleMessage(msg)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

func (w *Writer) handleMessage(msg model.ConfirmedMessage) {
	row := transform(msg)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

func transform(msg model.ConfirmedMessage) messageRow {
	return messageRow{
		MessageID:   msg.ID,
		TempID:      msg.TempID,
		ThreadID:    msg.ThreadID,
		Sender:      msg.Sender,
		Content:     msg.Content,
		Kind:        msg.Kind,
		MessageTs:   msg.Timestamp,
		ConfirmedAt: msg.ConfirmedAt,
		Synthesized: msg.Synthesized,
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush() {
	w.flushCtx(w.ctx)
}

func (w *Writer) flushCtx(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]messageRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []messageRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO messages (message_id, temp_id, thread_id, sender, content, kind, message_ts, confirmed_at, synthesized)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (message_id) DO NOTHING
		`, r.MessageID, r.TempID, r.ThreadID, r.Sender, r.Content, r.Kind, r.MessageTs, r.ConfirmedAt, r.Synthesized)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
