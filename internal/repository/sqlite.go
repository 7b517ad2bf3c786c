package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

const sqliteSelect = `SELECT ` + orderColumns + ` FROM trailing_stop_orders`

// SQLiteOrderRepo is the single-node order store over mattn/go-sqlite3.
// Decimals are stored as text.
type SQLiteOrderRepo struct {
	db *sql.DB
}

func NewSQLiteOrderRepo(db *sql.DB) *SQLiteOrderRepo {
	return &SQLiteOrderRepo{db: db}
}

func (r *SQLiteOrderRepo) Create(ctx context.Context, o *models.TrailingStopOrder) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trailing_stop_orders (`+orderColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.OwnerID, o.FromAsset, o.FromNetwork, o.ToAsset, o.ToNetwork,
		o.FromAmount.String(), o.SettleAddress, o.TrailingPercentage.String(),
		decArg(o.PeakPrice), decArg(o.CurrentPrice), decArg(o.TriggerPrice),
		string(o.Status), o.IsActive, o.ExternalOrderID, decArg(o.SettleAmount), o.SettleAsset, o.FailureReason,
		o.CreatedAt.UTC(), o.UpdatedAt.UTC(), utcPtr(o.LastCheckedAt), utcPtr(o.TriggeredAt),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *SQLiteOrderRepo) Get(ctx context.Context, id, ownerID string) (*models.TrailingStopOrder, error) {
	return r.get(ctx, r.db, id, ownerID)
}

func (r *SQLiteOrderRepo) get(ctx context.Context, q queryRower, id, ownerID string) (*models.TrailingStopOrder, error) {
	row := q.QueryRowContext(ctx, sqliteSelect+` WHERE id = ? AND (? = '' OR owner_id = ?)`, id, ownerID, ownerID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (r *SQLiteOrderRepo) ListByOwner(ctx context.Context, ownerID string, f models.OrderFilter) ([]*models.TrailingStopOrder, error) {
	query := sqliteSelect + ` WHERE owner_id = ?`
	args := []any{ownerID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(f.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *SQLiteOrderRepo) ListActive(ctx context.Context, limit int) ([]*models.TrailingStopOrder, error) {
	rows, err := r.db.QueryContext(ctx,
		sqliteSelect+` WHERE status = 'pending' ORDER BY created_at ASC, id LIMIT ?`, activeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *SQLiteOrderRepo) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trailing_stop_orders WHERE owner_id = ? AND status = 'pending'`, ownerID,
	).Scan(&n)
	return n, err
}

func (r *SQLiteOrderRepo) UpdateTracking(ctx context.Context, u models.TrackingUpdate) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE trailing_stop_orders
		 SET peak_price = ?, current_price = ?, trigger_price = ?, last_checked_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		u.PeakPrice.String(), u.CurrentPrice.String(), u.TriggerPrice.String(),
		u.CheckedAt.UTC(), u.CheckedAt.UTC(), u.ID,
	)
	if err != nil {
		return fmt.Errorf("update tracking: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update tracking: %w", err)
	} else if n == 0 {
		return r.explainMiss(ctx, r.db, u.ID, "")
	}
	return nil
}

// Transition runs the compare-and-set and the reload in one transaction.
func (r *SQLiteOrderRepo) Transition(ctx context.Context, t models.Transition) (*models.TrailingStopOrder, error) {
	if err := checkTransition(t); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var triggeredAt any
	if t.To == models.StatusTriggered {
		triggeredAt = t.At.UTC()
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE trailing_stop_orders
		 SET status = ?, is_active = ?, updated_at = ?,
		     triggered_at = COALESCE(?, triggered_at),
		     external_order_id = COALESCE(?, external_order_id),
		     settle_amount = COALESCE(?, settle_amount),
		     settle_asset = COALESCE(?, settle_asset),
		     failure_reason = COALESCE(?, failure_reason)
		 WHERE id = ? AND status = ? AND (? = '' OR owner_id = ?)`,
		string(t.To), t.To == models.StatusPending, t.At.UTC(),
		triggeredAt, t.ExternalOrderID, decArg(t.SettleAmount), t.SettleAsset, t.FailureReason,
		t.ID, string(t.From), t.OwnerID, t.OwnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("transition order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition order: %w", err)
	}
	if n == 0 {
		return nil, r.explainMiss(ctx, tx, t.ID, t.OwnerID)
	}

	o, err := r.get(ctx, tx, t.ID, "")
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return o, nil
}

func (r *SQLiteOrderRepo) explainMiss(ctx context.Context, q queryRower, id, ownerID string) error {
	var owner, status string
	err := q.QueryRowContext(ctx,
		`SELECT owner_id, status FROM trailing_stop_orders WHERE id = ?`, id,
	).Scan(&owner, &status)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reload order: %w", err)
	}
	return missOrConflict(id, ownerID, err == nil, owner, models.OrderStatus(status))
}

func (r *SQLiteOrderRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
