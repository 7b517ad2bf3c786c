package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

// MemoryOrderRepo is a process-local order store for tests and dry runs.
// Orders are copied on the way in and out so callers never alias stored state.
type MemoryOrderRepo struct {
	mu     sync.RWMutex
	orders map[string]*models.TrailingStopOrder
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{orders: make(map[string]*models.TrailingStopOrder)}
}

func (r *MemoryOrderRepo) Create(_ context.Context, o *models.TrailingStopOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("insert order: duplicate id %s", o.ID)
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *MemoryOrderRepo) Get(_ context.Context, id, ownerID string) (*models.TrailingStopOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok || (ownerID != "" && o.OwnerID != ownerID) {
		return nil, apperr.NotFound("order", id)
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepo) ListByOwner(_ context.Context, ownerID string, f models.OrderFilter) ([]*models.TrailingStopOrder, error) {
	r.mu.RLock()
	out := []*models.TrailingStopOrder{}
	for _, o := range r.orders {
		if o.OwnerID == ownerID && (f.Status == "" || o.Status == f.Status) {
			out = append(out, o.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if n := listLimit(f.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *MemoryOrderRepo) ListActive(_ context.Context, limit int) ([]*models.TrailingStopOrder, error) {
	r.mu.RLock()
	out := []*models.TrailingStopOrder{}
	for _, o := range r.orders {
		if o.Status == models.StatusPending {
			out = append(out, o.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if n := activeLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *MemoryOrderRepo) CountActiveByOwner(_ context.Context, ownerID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, o := range r.orders {
		if o.OwnerID == ownerID && o.Status == models.StatusPending {
			n++
		}
	}
	return n, nil
}

func (r *MemoryOrderRepo) UpdateTracking(_ context.Context, u models.TrackingUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[u.ID]
	if !ok {
		return apperr.NotFound("order", u.ID)
	}
	if o.Status != models.StatusPending {
		return apperr.Conflict("order %s is %s", u.ID, o.Status)
	}
	u.Apply(o)
	return nil
}

func (r *MemoryOrderRepo) Transition(_ context.Context, t models.Transition) (*models.TrailingStopOrder, error) {
	if err := checkTransition(t); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[t.ID]
	if !ok || o.Status != t.From || (t.OwnerID != "" && o.OwnerID != t.OwnerID) {
		var owner string
		var status models.OrderStatus
		if ok {
			owner, status = o.OwnerID, o.Status
		}
		return nil, missOrConflict(t.ID, t.OwnerID, ok, owner, status)
	}
	t.Apply(o)
	return o.Clone(), nil
}

func (r *MemoryOrderRepo) Ping(context.Context) error { return nil }
