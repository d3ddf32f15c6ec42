package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/connectivity"
	"github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/metrics"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/retry"
	"github.com/pestroute/layoutsync/internal/store"
)

// QueueConfig tunes the offline queue
type QueueConfig struct {
	// MaxRetries is the number of failed sync passes after which an
	// operation is left failed
	MaxRetries int
	// PollInterval is the sync interval while online
	PollInterval time.Duration
	// CompletedRetention is how long completed operations stay visible
	CompletedRetention time.Duration
}

// DefaultQueueConfig returns 3 retries, a 5s poll and 10s retention
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxRetries:         3,
		PollInterval:       5 * time.Second,
		CompletedRetention: 10 * time.Second,
	}
}

// ConflictOpener starts a negotiation for a conflict found during replay
type ConflictOpener interface {
	Open(c *model.Conflict) (*Negotiation, error)
}

type statusListener struct {
	id int
	fn func(model.QueueStatus)
}

// OfflineQueue is the durable ordered log of pending mutations. It owns
// every QueuedOperation: callers only see clones. All state changes are
// serialized by mu and persisted before the lock is released; delivery
// runs outside the lock.
//
// Each sync pass makes one delivery attempt per pending operation in
// enqueue order. The poll interval provides the delay between attempts.
type OfflineQueue struct {
	mu      sync.Mutex
	ops     []*model.QueuedOperation
	syncing bool
	loaded  bool

	listeners    []statusListener
	nextListener int
	kick         chan struct{}

	store      store.QueueStore
	dispatcher Dispatcher
	monitor    connectivity.Monitor
	opener     ConflictOpener
	cfg        QueueConfig
	clock      clockwork.Clock
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewOfflineQueue creates a new offline queue. monitor may be nil, in
// which case the queue always considers itself online. Without an opener,
// replayed region updates that conflict are left failed.
func NewOfflineQueue(
	queueStore store.QueueStore,
	dispatcher Dispatcher,
	monitor connectivity.Monitor,
	opener ConflictOpener,
	cfg QueueConfig,
	clock clockwork.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *OfflineQueue {
	return &OfflineQueue{
		kick:       make(chan struct{}, 1),
		store:      queueStore,
		dispatcher: dispatcher,
		monitor:    monitor,
		opener:     opener,
		cfg:        cfg,
		clock:      clock,
		metrics:    m,
		logger:     logger,
	}
}

// Load restores the persisted queue. Operations that were mid-delivery
// when the process stopped go back to pending.
func (q *OfflineQueue) Load(ctx context.Context) error {
	ops, err := q.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}

	q.mu.Lock()
	restored := 0
	for _, op := range ops {
		if op.Status == model.StatusSyncing {
			op.Status = model.StatusPending
			restored++
		}
	}
	// anything enqueued before Load stays behind the persisted operations
	q.ops = append(ops, q.ops...)
	q.loaded = true
	status := q.statusLocked()
	q.mu.Unlock()

	q.logger.Info("Offline queue loaded",
		zap.Int("operations", len(ops)),
		zap.Int("restored_from_syncing", restored))
	q.notify(status)
	return nil
}

// Enqueue appends op and persists the queue. The returned id is assigned
// here when op.ID is empty.
func (q *OfflineQueue) Enqueue(ctx context.Context, op *model.QueuedOperation) (string, error) {
	op = op.Clone()
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	op.EnqueuedAt = q.clock.Now()
	op.Status = model.StatusPending
	op.Retries = 0
	op.LastError = ""
	op.CompletedAt = nil

	q.mu.Lock()
	q.ops = append(q.ops, op)
	if err := q.persistLocked(ctx); err != nil {
		q.ops = q.ops[:len(q.ops)-1]
		q.mu.Unlock()
		return "", err
	}
	status := q.statusLocked()
	q.mu.Unlock()

	q.logger.Info("Operation enqueued",
		zap.String("operation_id", op.ID),
		zap.String("resource", string(op.Resource)),
		zap.String("type", string(op.Type)))
	q.notify(status)
	return op.ID, nil
}

// Sync makes one delivery attempt for every pending operation, in enqueue
// order. Concurrent calls while a pass is running return immediately, as
// do calls while offline. Only context cancellation is returned as an
// error; delivery failures are recorded on the operations.
func (q *OfflineQueue) Sync(ctx context.Context) error {
	if !q.online() {
		q.logger.Debug("Skipping sync while offline")
		return nil
	}

	q.mu.Lock()
	if q.syncing {
		q.mu.Unlock()
		return nil
	}
	q.syncing = true
	q.purgeExpiredLocked(ctx)
	var ids []string
	for _, op := range q.ops {
		if op.Status == model.StatusPending {
			ids = append(ids, op.ID)
		}
	}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.syncing = false
		q.mu.Unlock()
	}()

	q.metrics.RecordSyncPass()
	if len(ids) > 0 {
		q.logger.Debug("Starting sync pass", zap.Int("operations", len(ids)))
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := q.deliver(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// deliver attempts one operation. It returns an error only when ctx was
// cancelled during the attempt, in which case the operation goes back to
// pending without spending a retry.
func (q *OfflineQueue) deliver(ctx context.Context, id string) error {
	q.mu.Lock()
	op := q.findLocked(id)
	if op == nil || op.Status != model.StatusPending {
		// removed or reset while the pass was running
		q.mu.Unlock()
		return nil
	}
	op.Status = model.StatusSyncing
	q.persistOrLogLocked(ctx)
	attempt := op.Clone()
	status := q.statusLocked()
	q.mu.Unlock()
	q.notify(status)

	err := q.dispatcher.Dispatch(ctx, attempt)
	cancelled := err != nil && ctx.Err() != nil
	var negotiationID string
	if err != nil && !cancelled {
		negotiationID = q.negotiate(attempt, err)
	}

	q.mu.Lock()
	op = q.findLocked(id)
	if op == nil {
		q.mu.Unlock()
		return nil
	}

	switch {
	case err == nil:
		now := q.clock.Now()
		op.Status = model.StatusCompleted
		op.CompletedAt = &now
		op.LastError = ""
		q.metrics.RecordQueueDispatch(string(op.Resource), "completed")
		q.logger.Info("Queued operation delivered",
			zap.String("operation_id", op.ID),
			zap.Int("retries", op.Retries))
	case cancelled:
		op.Status = model.StatusPending
	case negotiationID != "":
		op.Status = model.StatusConflicted
		op.NegotiationID = negotiationID
		op.LastError = err.Error()
		q.metrics.RecordQueueDispatch(string(op.Resource), "conflict")
		q.logger.Info("Queued operation conflicted",
			zap.String("operation_id", op.ID),
			zap.String("negotiation_id", negotiationID))
	default:
		op.Retries++
		op.LastError = err.Error()
		if !retry.IsRecoverable(err) || op.Retries >= q.cfg.MaxRetries {
			op.Status = model.StatusFailed
			q.metrics.RecordQueueDispatch(string(op.Resource), "failed")
			failure := &errors.QueueOperationFailedError{OperationID: op.ID, Retries: op.Retries, LastError: op.LastError}
			q.logger.Warn("Queued operation failed",
				zap.Bool("recoverable", retry.IsRecoverable(err)),
				zap.Error(failure))
		} else {
			op.Status = model.StatusPending
			q.metrics.RecordQueueDispatch(string(op.Resource), "retry")
			q.logger.Debug("Queued operation will be retried",
				zap.String("operation_id", op.ID),
				zap.Int("retries", op.Retries),
				zap.Error(err))
		}
	}
	q.persistOrLogLocked(context.WithoutCancel(ctx))
	status = q.statusLocked()
	q.mu.Unlock()
	q.notify(status)

	if cancelled {
		return ctx.Err()
	}
	return nil
}

// negotiate opens a negotiation when a replayed region update lost a
// version race. It returns the negotiation id, or "" when err is anything
// else or no negotiation could be opened.
func (q *OfflineQueue) negotiate(op *model.QueuedOperation, err error) string {
	if q.opener == nil || op.Resource != model.ResourceRegion || op.Type != model.OpUpdate {
		return ""
	}
	vc, ok := errors.AsVersionConflict(err)
	if !ok {
		return ""
	}
	server, ok := vc.Current.(*model.Region)
	if !ok || server == nil {
		return ""
	}
	payload, ok := op.Payload.(*model.RegionUpdatePayload)
	if !ok {
		return ""
	}

	n, openErr := q.opener.Open(&model.Conflict{
		TenantID:      payload.TenantID,
		LayoutID:      payload.LayoutID,
		ResourceID:    op.ResourceID,
		LocalChanges:  payload.Patch.Clone(),
		ServerVersion: server,
		DetectedAt:    q.clock.Now(),
	})
	if openErr != nil {
		q.logger.Warn("Failed to open negotiation for queued operation",
			zap.String("operation_id", op.ID),
			zap.Error(openErr))
		return ""
	}
	return n.ID()
}

// Status returns operation counts by status
func (q *OfflineQueue) Status() model.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

// List returns copies of the queued operations in enqueue order
func (q *OfflineQueue) List() []*model.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*model.QueuedOperation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, op.Clone())
	}
	return out
}

// Get returns a copy of one operation
func (q *OfflineQueue) Get(id string) (*model.QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(id)
	if op == nil {
		return nil, fmt.Errorf("queued operation %s: %w", id, errors.ErrNotFound)
	}
	return op.Clone(), nil
}

// RetryFailed gives every failed operation a fresh retry budget and runs a
// sync pass immediately. It returns the number of operations reset.
func (q *OfflineQueue) RetryFailed(ctx context.Context) (int, error) {
	q.mu.Lock()
	reset := 0
	for _, op := range q.ops {
		if op.Status == model.StatusFailed {
			op.Status = model.StatusPending
			op.Retries = 0
			reset++
		}
	}
	if reset == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	if err := q.persistLocked(ctx); err != nil {
		q.mu.Unlock()
		return 0, err
	}
	status := q.statusLocked()
	q.mu.Unlock()

	q.logger.Info("Retrying failed operations", zap.Int("operations", reset))
	q.notify(status)
	return reset, q.Sync(ctx)
}

// RemoveOperation drops an operation regardless of its status
func (q *OfflineQueue) RemoveOperation(ctx context.Context, id string) error {
	q.mu.Lock()
	idx := -1
	for i, op := range q.ops {
		if op.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return fmt.Errorf("queued operation %s: %w", id, errors.ErrNotFound)
	}
	removed := q.ops[idx]
	q.ops = append(q.ops[:idx:idx], q.ops[idx+1:]...)
	if err := q.persistLocked(ctx); err != nil {
		q.ops = append(q.ops[:idx:idx], append([]*model.QueuedOperation{removed}, q.ops[idx:]...)...)
		q.mu.Unlock()
		return err
	}
	status := q.statusLocked()
	q.mu.Unlock()

	q.logger.Info("Operation removed", zap.String("operation_id", id))
	q.notify(status)
	return nil
}

// ClearCompleted purges completed operations before their retention ends
func (q *OfflineQueue) ClearCompleted(ctx context.Context) (int, error) {
	q.mu.Lock()
	kept := q.ops[:0:0]
	for _, op := range q.ops {
		if op.Status != model.StatusCompleted {
			kept = append(kept, op)
		}
	}
	cleared := len(q.ops) - len(kept)
	if cleared == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	previous := q.ops
	q.ops = kept
	if err := q.persistLocked(ctx); err != nil {
		q.ops = previous
		q.mu.Unlock()
		return 0, err
	}
	status := q.statusLocked()
	q.mu.Unlock()

	q.notify(status)
	return cleared, nil
}

// PurgeExpired drops completed operations whose retention has elapsed
func (q *OfflineQueue) PurgeExpired(ctx context.Context) {
	q.mu.Lock()
	purged := q.purgeExpiredLocked(ctx)
	status := q.statusLocked()
	q.mu.Unlock()

	if purged > 0 {
		q.notify(status)
	}
}

// Subscribe registers a listener called with the queue status after every
// change. The returned function removes it.
func (q *OfflineQueue) Subscribe(fn func(model.QueueStatus)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextListener
	q.nextListener++
	q.listeners = append(q.listeners, statusListener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			for i, l := range q.listeners {
				if l.id == id {
					q.listeners = append(q.listeners[:i], q.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Run loads the persisted queue if needed and then syncs at startup, on
// every transition to online and on every poll tick while online. It
// returns when ctx is done.
func (q *OfflineQueue) Run(ctx context.Context) error {
	q.mu.Lock()
	loaded := q.loaded
	q.mu.Unlock()
	if !loaded {
		if err := q.Load(ctx); err != nil {
			return err
		}
	}

	if q.monitor != nil {
		unsubscribe := q.monitor.Subscribe(func(online bool) {
			if online {
				q.trigger()
			}
		})
		defer unsubscribe()
	}

	ticker := q.clock.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	q.logger.Info("Offline queue started",
		zap.Duration("poll_interval", q.cfg.PollInterval),
		zap.Int("max_retries", q.cfg.MaxRetries))

	q.trigger()
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Offline queue stopped")
			return nil
		case <-ticker.Chan():
			q.PurgeExpired(ctx)
		case <-q.kick:
		}
		if err := q.Sync(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
			q.logger.Error("Sync pass failed", zap.Error(err))
		}
	}
}

func (q *OfflineQueue) trigger() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *OfflineQueue) online() bool {
	return q.monitor == nil || q.monitor.Online()
}

func (q *OfflineQueue) findLocked(id string) *model.QueuedOperation {
	for _, op := range q.ops {
		if op.ID == id {
			return op
		}
	}
	return nil
}

func (q *OfflineQueue) purgeExpiredLocked(ctx context.Context) int {
	now := q.clock.Now()
	kept := q.ops[:0:0]
	for _, op := range q.ops {
		if op.Status == model.StatusCompleted && op.CompletedAt != nil &&
			now.Sub(*op.CompletedAt) >= q.cfg.CompletedRetention {
			continue
		}
		kept = append(kept, op)
	}
	purged := len(q.ops) - len(kept)
	if purged > 0 {
		q.ops = kept
		q.persistOrLogLocked(ctx)
		q.logger.Debug("Purged completed operations", zap.Int("operations", purged))
	}
	return purged
}

func (q *OfflineQueue) persistLocked(ctx context.Context) error {
	if err := q.store.Save(ctx, q.ops); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}

func (q *OfflineQueue) persistOrLogLocked(ctx context.Context) {
	if err := q.persistLocked(ctx); err != nil {
		q.logger.Error("Failed to persist queue", zap.Error(err))
	}
}

func (q *OfflineQueue) statusLocked() model.QueueStatus {
	s := model.QueueStatus{Total: len(q.ops)}
	for _, op := range q.ops {
		switch op.Status {
		case model.StatusPending:
			s.Pending++
		case model.StatusSyncing:
			s.Syncing++
		case model.StatusFailed:
			s.Failed++
		case model.StatusCompleted:
			s.Completed++
		case model.StatusConflicted:
			s.Conflicted++
		}
	}
	return s
}

func (q *OfflineQueue) notify(status model.QueueStatus) {
	q.mu.Lock()
	fns := make([]func(model.QueueStatus), 0, len(q.listeners))
	for _, l := range q.listeners {
		fns = append(fns, l.fn)
	}
	q.mu.Unlock()

	q.metrics.SetQueueDepth(status.Pending, status.Syncing, status.Failed, status.Completed, status.Conflicted)
	for _, fn := range fns {
		fn(status)
	}
}
