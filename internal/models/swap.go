package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SwapRequest is what the engine and the batch orchestrator hand to a swap provider.
// An empty SettleAddress asks for a quote only.
type SwapRequest struct {
	FromAsset     string          `json:"fromAsset"`
	FromNetwork   string          `json:"fromNetwork"`
	ToAsset       string          `json:"toAsset"`
	ToNetwork     string          `json:"toNetwork"`
	Amount        decimal.Decimal `json:"amount"`
	SettleAddress string          `json:"settleAddress,omitempty"`
	Reference     string          `json:"reference,omitempty"`
}

type SwapResult struct {
	ExternalOrderID string          `json:"externalOrderId,omitempty"`
	QuoteID         string          `json:"quoteId,omitempty"`
	DepositAsset    string          `json:"depositAsset"`
	DepositAmount   decimal.Decimal `json:"depositAmount"`
	DepositAddress  string          `json:"depositAddress,omitempty"`
	SettleAsset     string          `json:"settleAsset"`
	SettleAmount    decimal.Decimal `json:"settleAmount"`
	Rate            decimal.Decimal `json:"rate"`
	ExpiresAt       *time.Time      `json:"expiresAt,omitempty"`
	Simulated       bool            `json:"simulated,omitempty"`
}
