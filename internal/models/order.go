package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusTriggered OrderStatus = "triggered"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
	StatusExpired   OrderStatus = "expired"
	StatusFailed    OrderStatus = "failed"
)

// transitions lists every edge of the order state machine. Terminal states have none.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusTriggered, StatusCancelled, StatusExpired},
	StatusTriggered: {StatusCompleted, StatusFailed},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusTriggered, StatusCompleted, StatusCancelled, StatusExpired, StatusFailed:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type TrailingStopOrder struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`

	FromAsset     string          `json:"fromAsset"`
	FromNetwork   string          `json:"fromNetwork"`
	ToAsset       string          `json:"toAsset"`
	ToNetwork     string          `json:"toNetwork"`
	FromAmount    decimal.Decimal `json:"fromAmount"`
	SettleAddress string          `json:"settleAddress"`

	TrailingPercentage decimal.Decimal  `json:"trailingPercentage"`
	PeakPrice          *decimal.Decimal `json:"peakPrice"`
	CurrentPrice       *decimal.Decimal `json:"currentPrice"`
	TriggerPrice       *decimal.Decimal `json:"triggerPrice"`

	Status          OrderStatus      `json:"status"`
	IsActive        bool             `json:"isActive"`
	ExternalOrderID *string          `json:"externalOrderId,omitempty"`
	SettleAmount    *decimal.Decimal `json:"settleAmount,omitempty"`
	SettleAsset     *string          `json:"settleAsset,omitempty"`
	FailureReason   *string          `json:"failureReason,omitempty"`

	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	TriggeredAt   *time.Time `json:"triggeredAt,omitempty"`
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (o *TrailingStopOrder) Clone() *TrailingStopOrder {
	if o == nil {
		return nil
	}
	c := *o
	c.PeakPrice = cloneDec(o.PeakPrice)
	c.CurrentPrice = cloneDec(o.CurrentPrice)
	c.TriggerPrice = cloneDec(o.TriggerPrice)
	c.SettleAmount = cloneDec(o.SettleAmount)
	c.ExternalOrderID = cloneStr(o.ExternalOrderID)
	c.SettleAsset = cloneStr(o.SettleAsset)
	c.FailureReason = cloneStr(o.FailureReason)
	c.LastCheckedAt = cloneTime(o.LastCheckedAt)
	c.TriggeredAt = cloneTime(o.TriggeredAt)
	return &c
}

// SwapRequest builds the provider request carried by the order.
func (o *TrailingStopOrder) SwapRequest() SwapRequest {
	return SwapRequest{
		FromAsset:     o.FromAsset,
		FromNetwork:   o.FromNetwork,
		ToAsset:       o.ToAsset,
		ToNetwork:     o.ToNetwork,
		Amount:        o.FromAmount,
		SettleAddress: o.SettleAddress,
		Reference:     o.ID,
	}
}

// Transition describes a compare-and-set status change applied by an order store.
// The store applies it only when the stored status equals From; when OwnerID is
// non-empty the order must also belong to that owner.
type Transition struct {
	ID              string
	OwnerID         string
	From            OrderStatus
	To              OrderStatus
	At              time.Time
	ExternalOrderID *string
	SettleAmount    *decimal.Decimal
	SettleAsset     *string
	FailureReason   *string
}

// Apply stamps the transition onto o. Stores call it after the status check passed.
func (t Transition) Apply(o *TrailingStopOrder) {
	o.Status = t.To
	o.IsActive = t.To == StatusPending
	o.UpdatedAt = t.At
	if t.To == StatusTriggered {
		at := t.At
		o.TriggeredAt = &at
	}
	if t.ExternalOrderID != nil {
		o.ExternalOrderID = cloneStr(t.ExternalOrderID)
	}
	if t.SettleAmount != nil {
		o.SettleAmount = cloneDec(t.SettleAmount)
	}
	if t.SettleAsset != nil {
		o.SettleAsset = cloneStr(t.SettleAsset)
	}
	if t.FailureReason != nil {
		o.FailureReason = cloneStr(t.FailureReason)
	}
}

// TrackingUpdate carries one evaluation tick's price bookkeeping. Stores apply it
// only while the order is still pending.
type TrackingUpdate struct {
	ID           string
	PeakPrice    decimal.Decimal
	CurrentPrice decimal.Decimal
	TriggerPrice decimal.Decimal
	CheckedAt    time.Time
}

func (u TrackingUpdate) Apply(o *TrailingStopOrder) {
	peak, cur, trig, at := u.PeakPrice, u.CurrentPrice, u.TriggerPrice, u.CheckedAt
	o.PeakPrice = &peak
	o.CurrentPrice = &cur
	o.TriggerPrice = &trig
	o.LastCheckedAt = &at
	o.UpdatedAt = at
}

// OrderFilter narrows ListByOwner. A zero Status means any.
type OrderFilter struct {
	Status OrderStatus
	Limit  int
}

func cloneDec(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
