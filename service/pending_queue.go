package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/frak-labs/framesession/core"
)

// QueueState is the observable state of the pending interaction queue
type QueueState string

const (
	QueueEmpty     QueueState = "empty"
	QueueBuffering QueueState = "buffering"
	QueueDraining  QueueState = "draining"
)

// DefaultPendingQueueCap bounds a queue built with a zero capacity
const DefaultPendingQueueCap = 50

// PendingQueue buffers interactions requested before a scoped token exists.
// It is the only writer of the pending-interactions record.
type PendingQueue struct {
	store    *WalletStore
	capacity int
	logger   *slog.Logger
	metrics  *metrics

	mu       sync.Mutex
	inflight int
}

// NewPendingQueue creates a queue holding at most capacity interactions.
// A zero capacity uses DefaultPendingQueueCap.
func NewPendingQueue(store *WalletStore, capacity int, logger *slog.Logger) *PendingQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = DefaultPendingQueueCap
	}
	return &PendingQueue{
		store:    store,
		capacity: capacity,
		logger:   logger.With("component", "pending_queue"),
		metrics:  newMetrics(),
	}
}

// Enqueue appends an interaction. No dedup is performed. The oldest entries
// are evicted once the queue exceeds its capacity.
func (q *PendingQueue) Enqueue(ctx context.Context, interaction core.PendingInteraction) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.store.PendingInteractions(ctx)
	if err != nil {
		return err
	}
	list = q.trim(append(list, interaction))

	if err := q.store.SetPendingInteractions(ctx, list); err != nil {
		return err
	}
	record(q.metrics.interactions, "enqueued", 1)
	return nil
}

// Drain returns every queued interaction in FIFO order and empties the queue.
// The queue reports QueueDraining until Settle is called.
func (q *PendingQueue) Drain(ctx context.Context) ([]core.PendingInteraction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.store.PendingInteractions(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []core.PendingInteraction{}, nil
	}
	if err := q.store.SetPendingInteractions(ctx, nil); err != nil {
		return nil, err
	}

	q.inflight = len(list)
	record(q.metrics.interactions, "drained", len(list))
	return list, nil
}

// Settle ends a drain. Interactions that could not be submitted go back to
// the head of the queue ahead of anything enqueued meanwhile.
func (q *PendingQueue) Settle(ctx context.Context, failed []core.PendingInteraction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight = 0

	if len(failed) == 0 {
		return nil
	}

	list, err := q.store.PendingInteractions(ctx)
	if err != nil {
		return err
	}
	requeued := make([]core.PendingInteraction, 0, len(failed)+len(list))
	requeued = append(requeued, failed...)
	requeued = append(requeued, list...)

	q.logger.Warn("requeued interactions after failed drain", "count", len(failed))
	record(q.metrics.interactions, "requeued", len(failed))
	return q.store.SetPendingInteractions(ctx, q.trim(requeued))
}

// Merge appends the interactions not already queued, compared by content.
// Applying the same list twice leaves the queue unchanged.
func (q *PendingQueue) Merge(ctx context.Context, interactions []core.PendingInteraction) error {
	if len(interactions) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.store.PendingInteractions(ctx)
	if err != nil {
		return err
	}

	added := 0
	for _, candidate := range interactions {
		if containsInteraction(list, candidate) {
			continue
		}
		list = append(list, candidate)
		added++
	}
	if added == 0 {
		return nil
	}

	record(q.metrics.interactions, "restored", added)
	return q.store.SetPendingInteractions(ctx, q.trim(list))
}

// replace overwrites the queue, used to undo a partial restore
func (q *PendingQueue) replace(ctx context.Context, list []core.PendingInteraction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.SetPendingInteractions(ctx, list)
}

// Items returns the queued interactions without consuming them.
func (q *PendingQueue) Items(ctx context.Context) ([]core.PendingInteraction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.PendingInteractions(ctx)
}

// State reports whether the queue is empty, buffering or being drained.
func (q *PendingQueue) State(ctx context.Context) (QueueState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inflight > 0 {
		return QueueDraining, nil
	}
	list, err := q.store.PendingInteractions(ctx)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return QueueEmpty, nil
	}
	return QueueBuffering, nil
}

func (q *PendingQueue) trim(list []core.PendingInteraction) []core.PendingInteraction {
	if len(list) <= q.capacity {
		return list
	}
	evicted := len(list) - q.capacity
	q.logger.Warn("pending queue full, evicting oldest", "evicted", evicted, "capacity", q.capacity)
	record(q.metrics.interactions, "evicted", evicted)
	return list[evicted:]
}

func containsInteraction(list []core.PendingInteraction, candidate core.PendingInteraction) bool {
	for _, item := range list {
		if item.SameAs(candidate) {
			return true
		}
	}
	return false
}
