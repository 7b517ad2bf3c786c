package repository

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

const orderColumns = `id, owner_id, from_asset, from_network, to_asset, to_network,
	from_amount, settle_address, trailing_percentage, peak_price, current_price, trigger_price,
	status, is_active, external_order_id, settle_amount, settle_asset, failure_reason,
	created_at, updated_at, last_checked_at, triggered_at`

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanOrder reads one order in orderColumns order. Decimal columns arrive as text.
func scanOrder(row scannable) (*models.TrailingStopOrder, error) {
	var (
		o                            models.TrailingStopOrder
		fromAmount, trailing, status string
		peak, current, trigger       *string
		settleAmount                 *string
		lastChecked, triggeredAt     *time.Time
	)
	err := row.Scan(
		&o.ID, &o.OwnerID, &o.FromAsset, &o.FromNetwork, &o.ToAsset, &o.ToNetwork,
		&fromAmount, &o.SettleAddress, &trailing, &peak, &current, &trigger,
		&status, &o.IsActive, &o.ExternalOrderID, &settleAmount, &o.SettleAsset, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt, &lastChecked, &triggeredAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = models.OrderStatus(status)
	if o.FromAmount, err = decimal.NewFromString(fromAmount); err != nil {
		return nil, fmt.Errorf("order %s from_amount: %w", o.ID, err)
	}
	if o.TrailingPercentage, err = decimal.NewFromString(trailing); err != nil {
		return nil, fmt.Errorf("order %s trailing_percentage: %w", o.ID, err)
	}
	for _, c := range []struct {
		name string
		src  *string
		dst  **decimal.Decimal
	}{
		{"peak_price", peak, &o.PeakPrice},
		{"current_price", current, &o.CurrentPrice},
		{"trigger_price", trigger, &o.TriggerPrice},
		{"settle_amount", settleAmount, &o.SettleAmount},
	} {
		if c.src == nil {
			continue
		}
		d, err := decimal.NewFromString(*c.src)
		if err != nil {
			return nil, fmt.Errorf("order %s %s: %w", o.ID, c.name, err)
		}
		*c.dst = &d
	}

	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.LastCheckedAt = utcPtr(lastChecked)
	o.TriggeredAt = utcPtr(triggeredAt)
	return &o, nil
}

func collectOrders(rows rowsIter) ([]*models.TrailingStopOrder, error) {
	out := []*models.TrailingStopOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// decArg renders a decimal as a text parameter; nil stays NULL.
func decArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// missOrConflict explains why a compare-and-set matched no row, given what
// a follow-up read found for id.
func missOrConflict(id, wantOwner string, found bool, owner string, status models.OrderStatus) error {
	if !found || (wantOwner != "" && owner != wantOwner) {
		return apperr.NotFound("order", id)
	}
	return apperr.Conflict("order %s is %s", id, status)
}

// checkTransition rejects edges the state machine does not have before touching a store.
func checkTransition(t models.Transition) error {
	if !models.CanTransition(t.From, t.To) {
		return apperr.Conflict("transition %s -> %s not allowed", t.From, t.To)
	}
	return nil
}

const (
	defaultListLimit   = 100
	defaultActiveLimit = 10000
)

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func activeLimit(n int) int {
	if n <= 0 {
		return defaultActiveLimit
	}
	return n
}
