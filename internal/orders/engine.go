// Package orders runs the trailing-stop order lifecycle: creation, per-tick
// evaluation against the price source, trigger and swap placement, cancel and expiry.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayonpaul8906/swapsmith-orders/internal/address"
	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
	"github.com/ayonpaul8906/swapsmith-orders/internal/notifications"
	"github.com/ayonpaul8906/swapsmith-orders/internal/strategy"
)

// Store is the durable order store. Transition and UpdateTracking are
// compare-and-set: they fail with apperr.ErrConflict when the stored status no
// longer matches and apperr.ErrNotFound when the id (or id+owner) is unknown.
// An empty ownerID on Get means any owner.
type Store interface {
	Create(ctx context.Context, o *models.TrailingStopOrder) error
	Get(ctx context.Context, id, ownerID string) (*models.TrailingStopOrder, error)
	ListByOwner(ctx context.Context, ownerID string, f models.OrderFilter) ([]*models.TrailingStopOrder, error)
	ListActive(ctx context.Context, limit int) ([]*models.TrailingStopOrder, error)
	CountActiveByOwner(ctx context.Context, ownerID string) (int, error)
	UpdateTracking(ctx context.Context, u models.TrackingUpdate) error
	Transition(ctx context.Context, t models.Transition) (*models.TrailingStopOrder, error)
}

type PriceSource interface {
	GetCurrentPrice(ctx context.Context, asset, network string) (decimal.Decimal, error)
}

type SwapProvider interface {
	QuoteAndExecute(ctx context.Context, req models.SwapRequest) (*models.SwapResult, error)
}

type Notifier interface {
	Send(ctx context.Context, msg string)
}

// Limiter is consulted before an order is created.
type Limiter interface {
	PreCreateCheck(ctx context.Context, ownerID string) error
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type Engine struct {
	store     Store
	prices    PriceSource
	swaps     SwapProvider
	validator address.Validator
	limiter   Limiter
	notifier  Notifier
	locks     *keyedLocker
	logger    *zap.Logger
	now       func() time.Time
}

func NewEngine(store Store, prices PriceSource, swaps SwapProvider, limiter Limiter, notifier Notifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		prices:    prices,
		swaps:     swaps,
		validator: address.Grammar{},
		limiter:   limiter,
		notifier:  notifier,
		locks:     newKeyedLocker(),
		logger:    logger.Named("orders"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder validates in, checks owner limits and persists a pending order.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.TrailingStopOrder, error) {
	in = in.normalized()
	if err := in.validate(e.validator); err != nil {
		return nil, err
	}
	if e.limiter != nil {
		if err := e.limiter.PreCreateCheck(ctx, in.OwnerID); err != nil {
			return nil, err
		}
	}

	now := e.now()
	o := in.order(now)
	if err := e.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	e.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("owner_id", o.OwnerID),
		zap.String("asset", o.FromAsset),
		zap.String("network", o.FromNetwork),
		zap.Stringer("trailing_pct", o.TrailingPercentage))
	return o, nil
}

// Evaluate runs one tick for the order. Ticks for the same id never overlap.
// A price failure returns a TransientError and leaves the order untouched; a
// swap failure moves the order to failed and returns a ProviderError.
func (e *Engine) Evaluate(ctx context.Context, orderID string) (Outcome, error) {
	unlock := e.locks.Lock(orderID)
	out, events, err := e.evaluate(ctx, orderID)
	unlock()

	for _, o := range events {
		e.notify(ctx, o)
	}
	return out, err
}

func (e *Engine) evaluate(ctx context.Context, id string) (Outcome, []*models.TrailingStopOrder, error) {
	o, err := e.store.Get(ctx, id, "")
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("load order: %w", err)
	}
	if o.Status != models.StatusPending {
		return skipped(o, "order not pending"), nil, nil
	}
	log := e.logger.With(zap.String("order_id", o.ID), zap.String("asset", o.FromAsset))

	price, err := e.prices.GetCurrentPrice(ctx, o.FromAsset, o.FromNetwork)
	if err == nil && !price.IsPositive() {
		err = fmt.Errorf("non-positive price %s", price)
	}
	if err != nil {
		if !apperr.IsTransient(err) {
			err = &apperr.TransientError{Source: "price source", Err: err}
		}
		log.Warn("price unavailable, tick skipped", zap.Error(err))
		return skipped(o, "price unavailable"), nil, err
	}

	tick := strategy.Track(o.PeakPrice, o.TrailingPercentage, price)
	upd := models.TrackingUpdate{
		ID:           o.ID,
		PeakPrice:    tick.Peak,
		CurrentPrice: price,
		TriggerPrice: tick.Trigger,
		CheckedAt:    e.now(),
	}
	if err := e.store.UpdateTracking(ctx, upd); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return skipped(o, "order no longer pending"), nil, nil
		}
		return Outcome{}, nil, fmt.Errorf("update tracking: %w", err)
	}
	upd.Apply(o)

	if tick.PeakRaised {
		log.Debug("peak raised", zap.Stringer("peak", tick.Peak), zap.Stringer("trigger", tick.Trigger))
	}
	if !tick.Crossed {
		return Outcome{
			Kind:   OutcomeTracked,
			Reason: fmt.Sprintf("price %s above trigger %s", price, tick.Trigger),
			Order:  o,
		}, nil, nil
	}

	triggered, err := e.store.Transition(ctx, models.Transition{
		ID: o.ID, From: models.StatusPending, To: models.StatusTriggered, At: e.now(),
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return skipped(o, "order no longer pending"), nil, nil
		}
		return Outcome{}, nil, fmt.Errorf("mark triggered: %w", err)
	}
	log.Info("trigger crossed, placing swap",
		zap.Stringer("price", price), zap.Stringer("trigger", tick.Trigger), zap.Stringer("peak", tick.Peak))
	events := []*models.TrailingStopOrder{triggered.Clone()}

	out, final, err := e.placeSwap(ctx, triggered, log)
	if final != nil {
		events = append(events, final.Clone())
	}
	return out, events, err
}

// placeSwap calls the provider once and records the terminal state. The store
// writes outlive a cancelled ctx so a placed swap is never left unrecorded.
func (e *Engine) placeSwap(ctx context.Context, o *models.TrailingStopOrder, log *zap.Logger) (Outcome, *models.TrailingStopOrder, error) {
	res, swapErr := e.swaps.QuoteAndExecute(ctx, o.SwapRequest())
	if swapErr == nil && (res == nil || res.ExternalOrderID == "") {
		swapErr = errors.New("provider returned no order id")
	}
	writeCtx := context.WithoutCancel(ctx)

	if swapErr != nil {
		if !apperr.IsProvider(swapErr) {
			swapErr = &apperr.ProviderError{Op: "quote and execute", Err: swapErr}
		}
		reason := swapErr.Error()
		failed, err := e.store.Transition(writeCtx, models.Transition{
			ID: o.ID, From: models.StatusTriggered, To: models.StatusFailed, At: e.now(),
			FailureReason: &reason,
		})
		if err != nil {
			log.Error("could not record swap failure", zap.Error(err))
			return Outcome{Kind: OutcomeFailed, Reason: reason, Order: o}, nil, errors.Join(swapErr, err)
		}
		log.Warn("swap failed, order failed", zap.Error(swapErr))
		return Outcome{Kind: OutcomeFailed, Reason: reason, Order: failed}, failed, swapErr
	}

	settleAsset := res.SettleAsset
	if settleAsset == "" {
		settleAsset = o.ToAsset
	}
	settleAmount := res.SettleAmount
	completed, err := e.store.Transition(writeCtx, models.Transition{
		ID: o.ID, From: models.StatusTriggered, To: models.StatusCompleted, At: e.now(),
		ExternalOrderID: &res.ExternalOrderID,
		SettleAmount:    &settleAmount,
		SettleAsset:     &settleAsset,
	})
	if err != nil {
		log.Error("swap placed but completion not recorded",
			zap.String("external_order_id", res.ExternalOrderID), zap.Error(err))
		return Outcome{
			Kind:   OutcomeFailed,
			Reason: fmt.Sprintf("swap %s placed but completion not recorded", res.ExternalOrderID),
			Order:  o,
		}, nil, fmt.Errorf("record completion: %w", err)
	}

	log.Info("swap placed, order completed",
		zap.String("external_order_id", res.ExternalOrderID),
		zap.Stringer("settle_amount", settleAmount),
		zap.Bool("simulated", res.Simulated))
	return Outcome{
		Kind:   OutcomeTriggered,
		Reason: "swap " + res.ExternalOrderID + " placed",
		Order:  completed,
	}, completed, nil
}

// CancelOrder moves an owner's pending order to cancelled.
func (e *Engine) CancelOrder(ctx context.Context, id, ownerID string) (*models.TrailingStopOrder, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	o, err := e.store.Transition(ctx, models.Transition{
		ID: id, OwnerID: ownerID, From: models.StatusPending, To: models.StatusCancelled, At: e.now(),
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, fmt.Errorf("order not cancellable: %w", err)
		}
		return nil, err
	}
	e.logger.Info("order cancelled", zap.String("order_id", id), zap.String("owner_id", ownerID))
	return o, nil
}

// ExpireOrder moves a pending order to expired regardless of owner.
func (e *Engine) ExpireOrder(ctx context.Context, id string) (*models.TrailingStopOrder, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	o, err := e.store.Transition(ctx, models.Transition{
		ID: id, From: models.StatusPending, To: models.StatusExpired, At: e.now(),
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("order expired", zap.String("order_id", id), zap.Time("created_at", o.CreatedAt))
	return o, nil
}

func (e *Engine) GetOrder(ctx context.Context, id, ownerID string) (*models.TrailingStopOrder, error) {
	if ownerID == "" {
		return nil, apperr.NotFound("order", id)
	}
	return e.store.Get(ctx, id, ownerID)
}

func (e *Engine) ListOrders(ctx context.Context, ownerID string, f models.OrderFilter) ([]*models.TrailingStopOrder, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation(apperr.Field("status", "unknown status %q", f.Status))
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return e.store.ListByOwner(ctx, ownerID, f)
}

// ListActive returns pending orders for the scheduler, oldest first.
func (e *Engine) ListActive(ctx context.Context, limit int) ([]*models.TrailingStopOrder, error) {
	return e.store.ListActive(ctx, limit)
}

func (e *Engine) notify(ctx context.Context, o *models.TrailingStopOrder) {
	if e.notifier == nil {
		return
	}
	e.notifier.Send(ctx, notifications.OrderMessage(o))
}
