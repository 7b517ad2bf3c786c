package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LegStatus string

const (
	LegPending LegStatus = "pending"
	LegSuccess LegStatus = "success"
	LegError   LegStatus = "error"
)

// LegSpec is one target of a portfolio intent before it is split.
type LegSpec struct {
	ToAsset       string          `json:"toAsset"`
	ToChain       string          `json:"toChain"`
	Percentage    decimal.Decimal `json:"percentage"`
	SettleAddress string          `json:"settleAddress,omitempty"`
}

type PortfolioLeg struct {
	ID            string          `json:"id"`
	FromAsset     string          `json:"fromAsset"`
	FromChain     string          `json:"fromChain"`
	ToAsset       string          `json:"toAsset"`
	ToChain       string          `json:"toChain"`
	Percentage    decimal.Decimal `json:"percentage"`
	Amount        decimal.Decimal `json:"amount"`
	SettleAddress string          `json:"settleAddress,omitempty"`
	Status        LegStatus       `json:"status"`
	Quote         *SwapResult     `json:"quote,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	Attempts      int             `json:"attempts"`
}

func (l *PortfolioLeg) SwapRequest() SwapRequest {
	return SwapRequest{
		FromAsset:     l.FromAsset,
		FromNetwork:   l.FromChain,
		ToAsset:       l.ToAsset,
		ToNetwork:     l.ToChain,
		Amount:        l.Amount,
		SettleAddress: l.SettleAddress,
		Reference:     l.ID,
	}
}

// Batch is one portfolio rebalance run and every retry made against it.
type Batch struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"ownerId"`
	ParentAmount decimal.Decimal `json:"parentAmount"`
	FromAsset    string          `json:"fromAsset"`
	FromChain    string          `json:"fromChain"`
	Legs         []*PortfolioLeg `json:"legs"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type BatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

func (b *Batch) Summary() BatchSummary {
	return SummarizeLegs(b.Legs)
}

func SummarizeLegs(legs []*PortfolioLeg) BatchSummary {
	s := BatchSummary{Total: len(legs)}
	for _, l := range legs {
		switch l.Status {
		case LegSuccess:
			s.Succeeded++
		case LegError:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

// CloneLegs deep-copies a leg list so a snapshot can leave the owning batch.
func CloneLegs(legs []*PortfolioLeg) []*PortfolioLeg {
	out := make([]*PortfolioLeg, len(legs))
	for i, l := range legs {
		c := *l
		if l.Quote != nil {
			q := *l.Quote
			c.Quote = &q
		}
		out[i] = &c
	}
	return out
}
