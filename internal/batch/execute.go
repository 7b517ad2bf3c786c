package batch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

type SwapProvider interface {
	QuoteAndExecute(ctx context.Context, req models.SwapRequest) (*models.SwapResult, error)
}

// Executor runs legs against a swap provider, strictly one at a time.
type Executor struct {
	swaps  SwapProvider
	logger *zap.Logger
}

func NewExecutor(swaps SwapProvider, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{swaps: swaps, logger: logger.Named("batch")}
}

// ExecuteBatch runs every pending leg in input order and leaves success and
// error legs alone. A failing leg is recorded on the leg and never stops the
// run. The only error returned is ctx's, after which remaining legs stay pending.
func (x *Executor) ExecuteBatch(ctx context.Context, legs []*models.PortfolioLeg) ([]*models.PortfolioLeg, error) {
	return x.executeLegs(ctx, legs, nil)
}

// executeLegs runs the pending legs, restricted to the ids in only when it is non-nil.
func (x *Executor) executeLegs(ctx context.Context, legs []*models.PortfolioLeg, only map[string]bool) ([]*models.PortfolioLeg, error) {
	for _, leg := range legs {
		if leg.Status != models.LegPending {
			continue
		}
		if only != nil && !only[leg.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return legs, fmt.Errorf("batch interrupted: %w", err)
		}

		leg.Attempts++
		res, err := x.swaps.QuoteAndExecute(ctx, leg.SwapRequest())
		log := x.logger.With(
			zap.String("leg_id", leg.ID),
			zap.String("asset", leg.ToAsset),
			zap.String("network", leg.ToChain),
			zap.Stringer("amount", leg.Amount),
			zap.Int("attempt", leg.Attempts))

		if err != nil {
			leg.Status = models.LegError
			leg.Quote = nil
			leg.ErrorMessage = legErrorMessage(err)
			log.Warn("leg failed", zap.Error(err))
			continue
		}
		leg.Status = models.LegSuccess
		leg.Quote = res
		leg.ErrorMessage = ""
		log.Info("leg succeeded")
	}
	return legs, nil
}

// RetryFailed reopens the legs named by failedLegIDs that are in error and runs
// only those. Every other leg, including one still pending after an
// interrupted run, is left as it is.
func (x *Executor) RetryFailed(ctx context.Context, legs []*models.PortfolioLeg, failedLegIDs []string) ([]*models.PortfolioLeg, error) {
	byID := make(map[string]*models.PortfolioLeg, len(legs))
	for _, l := range legs {
		byID[l.ID] = l
	}

	var errs error
	if len(failedLegIDs) == 0 {
		errs = multierr.Append(errs, apperr.Field("legIds", "at least one leg id is required"))
	}
	for _, id := range failedLegIDs {
		if _, ok := byID[id]; !ok {
			errs = multierr.Append(errs, apperr.Field("legIds", "unknown leg id %q", id))
		}
	}
	if err := apperr.Validation(errs); err != nil {
		return legs, err
	}

	reopened := make(map[string]bool, len(failedLegIDs))
	for _, id := range failedLegIDs {
		if l := byID[id]; l.Status == models.LegError {
			l.Status = models.LegPending
			l.ErrorMessage = ""
			l.Quote = nil
			reopened[id] = true
		}
	}
	if len(reopened) == 0 {
		return legs, nil
	}
	return x.executeLegs(ctx, legs, reopened)
}

func legErrorMessage(err error) string {
	var pe *apperr.ProviderError
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	return err.Error()
}
