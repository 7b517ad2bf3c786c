package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

// pgSelect casts numeric columns to text so they scan losslessly into decimals.
const pgSelect = `SELECT id, owner_id, from_asset, from_network, to_asset, to_network,
	from_amount::text, settle_address, trailing_percentage::text,
	peak_price::text, current_price::text, trigger_price::text,
	status, is_active, external_order_id, settle_amount::text, settle_asset, failure_reason,
	created_at, updated_at, last_checked_at, triggered_at
	FROM trailing_stop_orders`

const pgReturning = `RETURNING id, owner_id, from_asset, from_network, to_asset, to_network,
	from_amount::text, settle_address, trailing_percentage::text,
	peak_price::text, current_price::text, trigger_price::text,
	status, is_active, external_order_id, settle_amount::text, settle_asset, failure_reason,
	created_at, updated_at, last_checked_at, triggered_at`

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

func (r *OrderRepo) Create(ctx context.Context, o *models.TrailingStopOrder) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO trailing_stop_orders (`+orderColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		o.ID, o.OwnerID, o.FromAsset, o.FromNetwork, o.ToAsset, o.ToNetwork,
		o.FromAmount.String(), o.SettleAddress, o.TrailingPercentage.String(),
		decArg(o.PeakPrice), decArg(o.CurrentPrice), decArg(o.TriggerPrice),
		string(o.Status), o.IsActive, o.ExternalOrderID, decArg(o.SettleAmount), o.SettleAsset, o.FailureReason,
		o.CreatedAt, o.UpdatedAt, o.LastCheckedAt, o.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Get returns the order; a non-empty ownerID also scopes the lookup.
func (r *OrderRepo) Get(ctx context.Context, id, ownerID string) (*models.TrailingStopOrder, error) {
	row := r.pool.QueryRow(ctx,
		pgSelect+` WHERE id = $1 AND ($2 = '' OR owner_id = $2)`, id, ownerID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListByOwner returns the owner's orders, newest first.
func (r *OrderRepo) ListByOwner(ctx context.Context, ownerID string, f models.OrderFilter) ([]*models.TrailingStopOrder, error) {
	query := pgSelect + ` WHERE owner_id = $1`
	args := []any{ownerID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, listLimit(f.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListActive returns pending orders, oldest first.
func (r *OrderRepo) ListActive(ctx context.Context, limit int) ([]*models.TrailingStopOrder, error) {
	rows, err := r.pool.Query(ctx,
		pgSelect+` WHERE status = 'pending' ORDER BY created_at ASC, id LIMIT $1`, activeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *OrderRepo) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trailing_stop_orders WHERE owner_id = $1 AND status = 'pending'`,
		ownerID,
	).Scan(&n)
	return n, err
}

// UpdateTracking writes one tick's prices only while the order is still pending.
func (r *OrderRepo) UpdateTracking(ctx context.Context, u models.TrackingUpdate) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE trailing_stop_orders
		 SET peak_price = $2, current_price = $3, trigger_price = $4,
		     last_checked_at = $5, updated_at = $5
		 WHERE id = $1 AND status = 'pending'`,
		u.ID, u.PeakPrice.String(), u.CurrentPrice.String(), u.TriggerPrice.String(), u.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("update tracking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, u.ID, "")
	}
	return nil
}

// Transition applies a compare-and-set status change and returns the updated order.
func (r *OrderRepo) Transition(ctx context.Context, t models.Transition) (*models.TrailingStopOrder, error) {
	if err := checkTransition(t); err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE trailing_stop_orders
		 SET status = $3,
		     is_active = $4,
		     updated_at = $5,
		     triggered_at = CASE WHEN $6 THEN $5 ELSE triggered_at END,
		     external_order_id = COALESCE($7, external_order_id),
		     settle_amount = COALESCE($8::numeric, settle_amount),
		     settle_asset = COALESCE($9, settle_asset),
		     failure_reason = COALESCE($10, failure_reason)
		 WHERE id = $1 AND status = $2 AND ($11 = '' OR owner_id = $11)
		 `+pgReturning,
		t.ID, string(t.From), string(t.To), t.To == models.StatusPending, t.At,
		t.To == models.StatusTriggered, t.ExternalOrderID, decArg(t.SettleAmount), t.SettleAsset, t.FailureReason,
		t.OwnerID,
	)
	o, err := scanOrder(row)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition order: %w", err)
	}
	return nil, r.explainMiss(ctx, t.ID, t.OwnerID)
}

func (r *OrderRepo) explainMiss(ctx context.Context, id, ownerID string) error {
	var owner, status string
	err := r.pool.QueryRow(ctx,
		`SELECT owner_id, status FROM trailing_stop_orders WHERE id = $1`, id,
	).Scan(&owner, &status)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reload order: %w", err)
	}
	return missOrConflict(id, ownerID, err == nil, owner, models.OrderStatus(status))
}

// Ping reports database reachability for the health endpoint.
func (r *OrderRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
