package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// AsyncNotifier delivers notifications from a single background worker.
// Send never blocks: when the queue is full the notification is dropped.
// Failures are logged and never retried.
type AsyncNotifier struct {
	next    Notifier
	queue   chan asyncItem
	logger  zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

type asyncItem struct {
	n    Notification
	done chan struct{}
}

// AsyncStats reports delivery counters.
type AsyncStats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// NewAsyncNotifier starts the delivery worker.
func NewAsyncNotifier(next Notifier, queueSize int, logger zerolog.Logger) *AsyncNotifier {
	if queueSize <= 0 {
		queueSize = 128
	}
	a := &AsyncNotifier{
		next:    next,
		queue:   make(chan asyncItem, queueSize),
		logger:  logger.With().Str("component", "notify").Logger(),
		timeout: 15 * time.Second,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncNotifier) loop() {
	defer a.wg.Done()
	for item := range a.queue {
		if item.done != nil {
			close(item.done)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.Send(ctx, item.n)
		cancel()
		if err != nil {
			a.failed.Add(1)
			a.logger.Warn().Err(err).
				Str("plan_id", item.n.PlanID).
				Str("kind", string(item.n.Kind)).
				Msg("Notification failed")
			continue
		}
		a.delivered.Add(1)
	}
}

// Send queues n for delivery.
func (a *AsyncNotifier) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.queue <- asyncItem{n: n}:
	default:
		a.dropped.Add(1)
		a.logger.Debug().Str("plan_id", n.PlanID).Str("kind", string(n.Kind)).Msg("Notification queue full, dropped")
	}
	return nil
}

// Flush waits until everything queued before the call was handled.
func (a *AsyncNotifier) Flush(ctx context.Context) error {
	done := make(chan struct{})

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil
	}
	select {
	case a.queue <- asyncItem{done: done}:
	case <-ctx.Done():
		a.mu.RUnlock()
		return ctx.Err()
	}
	a.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns delivery counters.
func (a *AsyncNotifier) Stats() AsyncStats {
	return AsyncStats{
		Delivered: a.delivered.Load(),
		Dropped:   a.dropped.Load(),
		Failed:    a.failed.Load(),
	}
}

// Close drains the queue and stops the worker.
func (a *AsyncNotifier) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}
