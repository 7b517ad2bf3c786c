package risk

import (
	"context"
	"fmt"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
)

// ActiveOrderCounter abstracts the order store so Guardian can be tested without a database.
type ActiveOrderCounter interface {
	CountActiveByOwner(ctx context.Context, ownerID string) (int, error)
}

// Limits holds the owner-level thresholds from config.
// A zero value for any field means that check is disabled.
type Limits struct {
	MaxActiveOrdersPerOwner int
	MaxBatchLegs            int
}

type Guardian struct {
	limits  Limits
	counter ActiveOrderCounter
}

func NewGuardian(limits Limits, counter ActiveOrderCounter) *Guardian {
	return &Guardian{limits: limits, counter: counter}
}

// PreCreateCheck runs before a new trailing-stop order is persisted.
// A reached limit is a conflict; a failing counter is returned as is.
func (g *Guardian) PreCreateCheck(ctx context.Context, ownerID string) error {
	if g == nil || g.limits.MaxActiveOrdersPerOwner <= 0 || g.counter == nil {
		return nil
	}
	count, err := g.counter.CountActiveByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("count active orders: %w", err)
	}
	if count >= g.limits.MaxActiveOrdersPerOwner {
		return apperr.Conflict("active order limit of %d reached (%d pending)",
			g.limits.MaxActiveOrdersPerOwner, count)
	}
	return nil
}

// BatchCheck bounds the number of legs one portfolio intent may fan out into.
func (g *Guardian) BatchCheck(legs int) error {
	if g == nil || g.limits.MaxBatchLegs <= 0 {
		return nil
	}
	if legs > g.limits.MaxBatchLegs {
		return apperr.Conflict("batch of %d legs exceeds max %d", legs, g.limits.MaxBatchLegs)
	}
	return nil
}
