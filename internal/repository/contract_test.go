package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

type orderStore interface {
	Create(ctx context.Context, o *models.TrailingStopOrder) error
	Get(ctx context.Context, id, ownerID string) (*models.TrailingStopOrder, error)
	ListByOwner(ctx context.Context, ownerID string, f models.OrderFilter) ([]*models.TrailingStopOrder, error)
	ListActive(ctx context.Context, limit int) ([]*models.TrailingStopOrder, error)
	CountActiveByOwner(ctx context.Context, ownerID string) (int, error)
	UpdateTracking(ctx context.Context, u models.TrackingUpdate) error
	Transition(ctx context.Context, t models.Transition) (*models.TrailingStopOrder, error)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var seq int

func newOrder(owner string, createdAt time.Time) *models.TrailingStopOrder {
	seq++
	return &models.TrailingStopOrder{
		ID:                 fmt.Sprintf("ord-%04d-%d", seq, createdAt.UnixNano()),
		OwnerID:            owner,
		FromAsset:          "ETH",
		FromNetwork:        "ethereum",
		ToAsset:            "USDC",
		ToNetwork:          "arbitrum",
		FromAmount:         decimal.RequireFromString("1.25"),
		SettleAddress:      "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		TrailingPercentage: decimal.RequireFromString("7.5"),
		Status:             models.StatusPending,
		IsActive:           true,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) orderStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		o := newOrder("alice", base)
		require.NoError(t, s.Create(ctx, o))

		got, err := s.Get(ctx, o.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
		assert.True(t, got.FromAmount.Equal(o.FromAmount), "from amount %s", got.FromAmount)
		assert.True(t, got.TrailingPercentage.Equal(o.TrailingPercentage))
		assert.Nil(t, got.PeakPrice)
		assert.Nil(t, got.TriggerPrice)
		assert.Nil(t, got.ExternalOrderID)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.True(t, got.IsActive)
		assert.True(t, got.CreatedAt.Equal(base))

		_, err = s.Get(ctx, o.ID, "")
		assert.NoError(t, err, "empty owner matches any")
	})

	t.Run("get unknown or foreign is not found", func(t *testing.T) {
		s := newStore(t)
		o := newOrder("alice", base)
		require.NoError(t, s.Create(ctx, o))

		_, err := s.Get(ctx, "missing", "")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		_, err = s.Get(ctx, o.ID, "mallory")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("update tracking", func(t *testing.T) {
		s := newStore(t)
		o := newOrder("alice", base)
		require.NoError(t, s.Create(ctx, o))

		at := base.Add(time.Minute)
		require.NoError(t, s.UpdateTracking(ctx, models.TrackingUpdate{
			ID:           o.ID,
			PeakPrice:    decimal.RequireFromString("3012.123456789012345678"),
			CurrentPrice: decimal.RequireFromString("3000.5"),
			TriggerPrice: decimal.RequireFromString("2786.214197529836419752"),
			CheckedAt:    at,
		}))

		got, err := s.Get(ctx, o.ID, "")
		require.NoError(t, err)
		require.NotNil(t, got.PeakPrice)
		assert.Equal(t, "3012.123456789012345678", got.PeakPrice.String())
		assert.Equal(t, "2786.214197529836419752", got.TriggerPrice.String())
		assert.True(t, got.CurrentPrice.Equal(decimal.RequireFromString("3000.5")))
		require.NotNil(t, got.LastCheckedAt)
		assert.True(t, got.LastCheckedAt.Equal(at))
	})

	t.Run("update tracking requires pending", func(t *testing.T) {
		s := newStore(t)
		o := newOrder("alice", base)
		require.NoError(t, s.Create(ctx, o))
		_, err := s.Transition(ctx, models.Transition{ID: o.ID, From: models.StatusPending, To: models.StatusCancelled, At: base})
		require.NoError(t, err)

		err = s.UpdateTracking(ctx, models.TrackingUpdate{ID: o.ID, CheckedAt: base})
		assert.ErrorIs(t, err, apperr.ErrConflict)
		err = s.UpdateTracking(ctx, models.TrackingUpdate{ID: "missing", CheckedAt: base})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("trigger then complete", func(t *testing.T) {
		s := newStore(t)
		o := newOrder("alice", base)
		require.NoError(t, s.Create(ctx, o))

		trigAt := base.Add(2 * time.Minute)
		trig, err := s.Transition(ctx, models.Transition{ID: o.ID, From: models.StatusPending, To: models.StatusTriggered, At: trigAt})
		require.NoError(t, err)
		assert.Equal(t, models.StatusTriggered, trig.Status)
		assert.False(t, trig.IsActive)
		require.NotNil(t, trig.TriggeredAt)
		assert.True(t, trig.TriggeredAt.Equal(trigAt))

		ext := "shift_9f2"
		amt := decimal.RequireFromString("3741.02")
		asset := "USDC"
		done, err := s.Transition(ctx, models.Transition{
			ID: o.ID, From: models.StatusTriggered, To: models.StatusCompleted, At: trigAt.Add(time.Second),
			ExternalOrderID: &ext, SettleAmount: &amt, SettleAsset: &asset,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, done.Status)
		require.NotNil(t, done.ExternalOrderID)
		assert.Equal(t, ext, *done.ExternalOrderID)
		assert.True(t, done.SettleAmount.Equal(amt))
		assert.True(t, done.TriggeredAt.Equal(trigAt), "completion keeps triggered_at")
	})

	t.Run("trigger then fail keeps no external id", func(t *testing.T) {
		s := newStore(t)
		o := newOrder("alice", base)
		require.NoError(t, s.Create(ctx, o))
		_, err := s.Transition(ctx, models.Transition{ID: o.ID, From: models.StatusPending, To: models.StatusTriggered, At: base})
		require.NoError(t, err)

		reason := "swap provider quote: amount below minimum"
		failed, err := s.Transition(ctx, models.Transition{
			ID: o.ID, From: models.StatusTriggered, To: models.StatusFailed, At: base, FailureReason: &reason,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, failed.Status)
		assert.Nil(t, failed.ExternalOrderID)
		require.NotNil(t, failed.FailureReason)
		assert.Equal(t, reason, *failed.FailureReason)
	})

	t.Run("cancel twice conflicts", func(t *testing.T) {
		s := newStore(t)
		o := newOrder("alice", base)
		require.NoError(t, s.Create(ctx, o))

		cancel := models.Transition{ID: o.ID, OwnerID: "alice", From: models.StatusPending, To: models.StatusCancelled, At: base}
		got, err := s.Transition(ctx, cancel)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, got.Status)

		_, err = s.Transition(ctx, cancel)
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("transition scoped by owner", func(t *testing.T) {
		s := newStore(t)
		o := newOrder("alice", base)
		require.NoError(t, s.Create(ctx, o))

		_, err := s.Transition(ctx, models.Transition{ID: o.ID, OwnerID: "mallory", From: models.StatusPending, To: models.StatusCancelled, At: base})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		_, err = s.Transition(ctx, models.Transition{ID: "missing", From: models.StatusPending, To: models.StatusCancelled, At: base})
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		got, err := s.Get(ctx, o.ID, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)
	})

	t.Run("illegal edges rejected", func(t *testing.T) {
		s := newStore(t)
		o := newOrder("alice", base)
		require.NoError(t, s.Create(ctx, o))

		_, err := s.Transition(ctx, models.Transition{ID: o.ID, From: models.StatusPending, To: models.StatusCompleted, At: base})
		assert.True(t, errors.Is(err, apperr.ErrConflict), "pending -> completed: %v", err)
		_, err = s.Transition(ctx, models.Transition{ID: o.ID, From: models.StatusCancelled, To: models.StatusPending, At: base})
		assert.True(t, errors.Is(err, apperr.ErrConflict), "cancelled -> pending: %v", err)
	})

	t.Run("list and count", func(t *testing.T) {
		s := newStore(t)
		a1 := newOrder("alice", base)
		a2 := newOrder("alice", base.Add(time.Minute))
		a3 := newOrder("alice", base.Add(2*time.Minute))
		b1 := newOrder("bob", base.Add(30*time.Second))
		for _, o := range []*models.TrailingStopOrder{a1, a2, a3, b1} {
			require.NoError(t, s.Create(ctx, o))
		}
		_, err := s.Transition(ctx, models.Transition{ID: a2.ID, From: models.StatusPending, To: models.StatusCancelled, At: base})
		require.NoError(t, err)

		all, err := s.ListByOwner(ctx, "alice", models.OrderFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{a3.ID, a2.ID, a1.ID}, ids(all), "newest first")

		cancelled, err := s.ListByOwner(ctx, "alice", models.OrderFilter{Status: models.StatusCancelled})
		require.NoError(t, err)
		assert.Equal(t, []string{a2.ID}, ids(cancelled))

		limited, err := s.ListByOwner(ctx, "alice", models.OrderFilter{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{a3.ID}, ids(limited))

		active, err := s.ListActive(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{a1.ID, b1.ID, a3.ID}, ids(active), "pending only, oldest first")

		n, err := s.CountActiveByOwner(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		none, err := s.ListByOwner(ctx, "nobody", models.OrderFilter{})
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func ids(orders []*models.TrailingStopOrder) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}
