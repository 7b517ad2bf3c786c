package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
	"github.com/ayonpaul8906/swapsmith-orders/internal/notifications"
)

type Limiter interface {
	BatchCheck(legs int) error
}

type Notifier interface {
	Send(ctx context.Context, msg string)
}

type RunInput struct {
	OwnerID   string           `json:"-"`
	Amount    decimal.Decimal  `json:"amount"`
	FromAsset string           `json:"fromAsset"`
	FromChain string           `json:"fromChain"`
	Legs      []models.LegSpec `json:"legs"`
}

// Orchestrator keeps batches in memory for the retention period so that a
// later retry can address legs by id. Only one run or retry touches a batch at a time.
type Orchestrator struct {
	exec      *Executor
	limiter   Limiter
	notifier  Notifier
	logger    *zap.Logger
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	batches map[string]*entry
}

type entry struct {
	busy  atomic.Bool
	mu    sync.Mutex
	batch *models.Batch
}

func NewOrchestrator(exec *Executor, limiter Limiter, notifier Notifier, retention time.Duration, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		exec:      exec,
		limiter:   limiter,
		notifier:  notifier,
		logger:    logger.Named("batch"),
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
		batches:   make(map[string]*entry),
	}
}

// Run splits in, registers the batch and executes every leg. Leg failures are
// reported on the legs, not as an error.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (*models.Batch, error) {
	if in.OwnerID == "" {
		return nil, apperr.Validation(apperr.Field("ownerId", "is required"))
	}
	if o.limiter != nil {
		if err := o.limiter.BatchCheck(len(in.Legs)); err != nil {
			return nil, err
		}
	}
	legs, err := SplitIntent(in.Amount, in.FromAsset, in.FromChain, in.Legs)
	if err != nil {
		return nil, err
	}

	now := o.now()
	b := &models.Batch{
		ID:           uuid.NewString(),
		OwnerID:      in.OwnerID,
		ParentAmount: in.Amount,
		FromAsset:    legs[0].FromAsset,
		FromChain:    legs[0].FromChain,
		Legs:         legs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	e := &entry{batch: b}
	e.busy.Store(true)
	o.mu.Lock()
	o.evictLocked(now)
	o.batches[b.ID] = e
	o.mu.Unlock()

	o.logger.Info("batch started",
		zap.String("batch_id", b.ID), zap.String("owner_id", b.OwnerID), zap.Int("legs", len(legs)))
	return o.execute(ctx, e, func(legs []*models.PortfolioLeg) ([]*models.PortfolioLeg, error) {
		return o.exec.ExecuteBatch(ctx, legs)
	})
}

// Retry reruns the named failed legs of an owner's batch.
func (o *Orchestrator) Retry(ctx context.Context, batchID, ownerID string, legIDs []string) (*models.Batch, error) {
	e, err := o.lookup(batchID, ownerID)
	if err != nil {
		return nil, err
	}
	if !e.busy.CompareAndSwap(false, true) {
		return nil, apperr.Conflict("batch %s is already running", batchID)
	}

	o.logger.Info("batch retry",
		zap.String("batch_id", batchID), zap.String("owner_id", ownerID), zap.Strings("leg_ids", legIDs))
	return o.execute(ctx, e, func(legs []*models.PortfolioLeg) ([]*models.PortfolioLeg, error) {
		return o.exec.RetryFailed(ctx, legs, legIDs)
	})
}

// Get returns a snapshot of an owner's batch.
func (o *Orchestrator) Get(_ context.Context, batchID, ownerID string) (*models.Batch, error) {
	e, err := o.lookup(batchID, ownerID)
	if err != nil {
		return nil, err
	}
	return e.snapshot(), nil
}

// execute runs fn over a private copy of the legs and publishes the result.
// The caller must have set e.busy.
func (o *Orchestrator) execute(ctx context.Context, e *entry, fn func([]*models.PortfolioLeg) ([]*models.PortfolioLeg, error)) (*models.Batch, error) {
	defer e.busy.Store(false)

	e.mu.Lock()
	work := models.CloneLegs(e.batch.Legs)
	e.mu.Unlock()

	legs, err := fn(work)
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		return nil, err
	}

	e.mu.Lock()
	e.batch.Legs = legs
	e.batch.UpdatedAt = o.now()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	s := snap.Summary()
	o.logger.Info("batch finished",
		zap.String("batch_id", snap.ID),
		zap.Int("succeeded", s.Succeeded), zap.Int("failed", s.Failed), zap.Int("pending", s.Pending),
		zap.Error(err))
	if o.notifier != nil {
		o.notifier.Send(ctx, notifications.BatchMessage(snap))
	}
	return snap, err
}

func (o *Orchestrator) lookup(batchID, ownerID string) (*entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evictLocked(o.now())
	e, ok := o.batches[batchID]
	if !ok || ownerID == "" || e.batch.OwnerID != ownerID {
		return nil, apperr.NotFound("batch", batchID)
	}
	return e, nil
}

// evictLocked drops idle batches older than the retention. Zero retention keeps everything.
func (o *Orchestrator) evictLocked(now time.Time) {
	if o.retention <= 0 {
		return
	}
	for id, e := range o.batches {
		if e.busy.Load() {
			continue
		}
		e.mu.Lock()
		stale := now.Sub(e.batch.UpdatedAt) > o.retention
		e.mu.Unlock()
		if stale {
			delete(o.batches, id)
		}
	}
}

func (o *Orchestrator) size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.batches)
}

func (e *entry) snapshot() *models.Batch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *entry) snapshotLocked() *models.Batch {
	b := *e.batch
	b.Legs = models.CloneLegs(e.batch.Legs)
	return &b
}
