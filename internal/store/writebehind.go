package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"scenario-trader/internal/errors"
	"scenario-trader/internal/logging"
	"scenario-trader/internal/models"
	"scenario-trader/pkg/utils"
)

// WriteBehind wraps a Store so the engine's writes never wait on I/O.
// SavePosition, Append and SetPlanStatus are queued and applied in order by a
// single goroutine. Reads flush the queue first, so they observe every write
// queued before them.
type WriteBehind struct {
	Store

	queue  chan writeOp
	logger zerolog.Logger
	retry  utils.RetryConfig
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	applied atomic.Uint64
	failed  atomic.Uint64
}

type writeOp struct {
	name  string
	apply func(ctx context.Context) error
	done  chan struct{} // barrier, apply is nil
}

// WriteBehindStats reports persistence counters.
type WriteBehindStats struct {
	Applied uint64
	Failed  uint64
	Pending int
}

// NewWriteBehind starts the writer goroutine. bufferSize bounds the queue;
// when it is full writers wait for space.
func NewWriteBehind(s Store, bufferSize int, logger zerolog.Logger) *WriteBehind {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	w := &WriteBehind{
		Store:  s,
		queue:  make(chan writeOp, bufferSize),
		logger: logging.WithOperation(logger, "write_behind"),
		retry:  utils.DefaultRetryConfig(),
	}
	// Only transient database failures are worth another attempt.
	w.retry.Retryable = func(err error) bool { return errors.Is(err, errors.ErrDatabaseError) }
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *WriteBehind) loop() {
	defer w.wg.Done()
	for op := range w.queue {
		if op.done != nil {
			close(op.done)
			continue
		}
		err := utils.Retry(context.Background(), w.retry, func() error {
			start := time.Now()
			err := op.apply(context.Background())
			logging.LogStoreCall(w.logger, op.name, time.Since(start), err)
			return err
		})
		if err != nil {
			w.failed.Add(1)
			w.logger.Error().Err(err).Str("op", op.name).Msg("Deferred write failed")
			continue
		}
		w.applied.Add(1)
	}
}

func (w *WriteBehind) enqueue(ctx context.Context, op writeOp) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return fmt.Errorf("write-behind store closed: %s", op.name)
	}
	select {
	case w.queue <- op:
		return nil
	default:
	}
	select {
	case w.queue <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SavePosition queues a position write.
func (w *WriteBehind) SavePosition(ctx context.Context, pos *models.Position) error {
	p := pos.Clone()
	return w.enqueue(ctx, writeOp{
		name:  "save_position",
		apply: func(ctx context.Context) error { return w.Store.SavePosition(ctx, p) },
	})
}

// Append queues a ledger append.
func (w *WriteBehind) Append(ctx context.Context, entry *models.LedgerEntry) error {
	e := entry.Clone()
	return w.enqueue(ctx, writeOp{
		name:  "append_ledger",
		apply: func(ctx context.Context) error { return w.Store.Append(ctx, e) },
	})
}

// SetPlanStatus queues a status change.
func (w *WriteBehind) SetPlanStatus(ctx context.Context, id string, status models.PlanStatus) error {
	return w.enqueue(ctx, writeOp{
		name:  "set_plan_status",
		apply: func(ctx context.Context) error { return w.Store.SetPlanStatus(ctx, id, status) },
	})
}

// Flush waits until every write queued before the call has been applied.
func (w *WriteBehind) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := w.enqueue(ctx, writeOp{name: "flush", done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetPlan flushes pending writes and reads through.
func (w *WriteBehind) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	return w.Store.GetPlan(ctx, id)
}

// ListPlans flushes pending writes and reads through.
func (w *WriteBehind) ListPlans(ctx context.Context, filter PlanFilter) ([]*models.Plan, error) {
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	return w.Store.ListPlans(ctx, filter)
}

// ListActivePlans flushes pending writes and reads through.
func (w *WriteBehind) ListActivePlans(ctx context.Context) ([]*models.Plan, error) {
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	return w.Store.ListActivePlans(ctx)
}

// GetPosition flushes pending writes and reads through.
func (w *WriteBehind) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	return w.Store.GetPosition(ctx, id)
}

// ListPositions flushes pending writes and reads through.
func (w *WriteBehind) ListPositions(ctx context.Context, filter PositionFilter) ([]*models.Position, error) {
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	return w.Store.ListPositions(ctx, filter)
}

// OpenPositions flushes pending writes and reads through.
func (w *WriteBehind) OpenPositions(ctx context.Context) ([]*models.Position, error) {
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	return w.Store.OpenPositions(ctx)
}

// GetEntry flushes pending writes and reads through.
func (w *WriteBehind) GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	return w.Store.GetEntry(ctx, id)
}

// ListEntries flushes pending writes and reads through.
func (w *WriteBehind) ListEntries(ctx context.Context, filter LedgerFilter) ([]*models.LedgerEntry, error) {
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	return w.Store.ListEntries(ctx, filter)
}

// Stats returns persistence counters.
func (w *WriteBehind) Stats() WriteBehindStats {
	return WriteBehindStats{
		Applied: w.applied.Load(),
		Failed:  w.failed.Load(),
		Pending: len(w.queue),
	}
}

// Close drains the queue and closes the underlying store.
func (w *WriteBehind) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
	return w.Store.Close()
}
