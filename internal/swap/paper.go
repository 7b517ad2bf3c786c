package swap

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

type PriceSource interface {
	GetCurrentPrice(ctx context.Context, asset, network string) (decimal.Decimal, error)
}

// PaperFill is one simulated swap.
type PaperFill struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Reference     string          `json:"reference"`
	FromAsset     string          `json:"fromAsset"`
	ToAsset       string          `json:"toAsset"`
	DepositAmount decimal.Decimal `json:"depositAmount"`
	SettleAmount  decimal.Decimal `json:"settleAmount"`
	Rate          decimal.Decimal `json:"rate"`
	SlippagePct   decimal.Decimal `json:"slippagePercent"`
}

// PaperProvider fills swaps at the current USD cross rate minus a random
// slippage of up to maxSlippagePct. Nothing leaves the process.
type PaperProvider struct {
	prices         PriceSource
	maxSlippagePct float64
	logger         *zap.Logger

	mu    sync.Mutex
	fills []PaperFill
	rng   *rand.Rand
	now   func() time.Time
}

func NewPaperProvider(prices PriceSource, maxSlippagePct float64, logger *zap.Logger) *PaperProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperProvider{
		prices:         prices,
		maxSlippagePct: maxSlippagePct,
		logger:         logger.Named("paper"),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (p *PaperProvider) QuoteAndExecute(ctx context.Context, req models.SwapRequest) (*models.SwapResult, error) {
	if !req.Amount.IsPositive() {
		return nil, &apperr.ProviderError{Op: "paper quote", Err: fmt.Errorf("amount %s must be positive", req.Amount)}
	}
	fromUSD, err := p.prices.GetCurrentPrice(ctx, req.FromAsset, req.FromNetwork)
	if err != nil {
		return nil, &apperr.ProviderError{Op: "paper quote", Err: fmt.Errorf("price %s: %w", req.FromAsset, err)}
	}
	toUSD, err := p.prices.GetCurrentPrice(ctx, req.ToAsset, req.ToNetwork)
	if err != nil {
		return nil, &apperr.ProviderError{Op: "paper quote", Err: fmt.Errorf("price %s: %w", req.ToAsset, err)}
	}
	if !toUSD.IsPositive() {
		return nil, &apperr.ProviderError{Op: "paper quote", Err: fmt.Errorf("price %s is %s", req.ToAsset, toUSD)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	slip := decimal.NewFromFloat(p.randomSlippage()).Round(4)
	rate := fromUSD.Div(toUSD).Mul(decimal.NewFromInt(1).Sub(slip.Div(decimal.NewFromInt(100))))
	settle := req.Amount.Mul(rate).RoundDown(8)
	now := p.now()
	expires := now.Add(15 * time.Minute)

	res := &models.SwapResult{
		QuoteID:       fmt.Sprintf("PAPER_Q_%d_%d", now.Unix(), len(p.fills)+1),
		DepositAsset:  req.FromAsset,
		DepositAmount: req.Amount,
		SettleAsset:   req.ToAsset,
		SettleAmount:  settle,
		Rate:          rate,
		ExpiresAt:     &expires,
		Simulated:     true,
	}
	if req.SettleAddress == "" {
		return res, nil
	}

	res.ExternalOrderID = fmt.Sprintf("PAPER_%d_%d", now.Unix(), len(p.fills)+1)
	res.DepositAddress = "paper:" + req.FromNetwork
	p.fills = append(p.fills, PaperFill{
		ID:            res.ExternalOrderID,
		Timestamp:     now,
		Reference:     req.Reference,
		FromAsset:     req.FromAsset,
		ToAsset:       req.ToAsset,
		DepositAmount: req.Amount,
		SettleAmount:  settle,
		Rate:          rate,
		SlippagePct:   slip,
	})
	p.logger.Info("paper swap filled",
		zap.String("external_order_id", res.ExternalOrderID),
		zap.String("reference", req.Reference),
		zap.Stringer("deposit", req.Amount),
		zap.Stringer("settle", settle),
		zap.Stringer("slippage_pct", slip))
	return res, nil
}

// Fills returns a copy of every simulated swap so far.
func (p *PaperProvider) Fills() []PaperFill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PaperFill(nil), p.fills...)
}

func (p *PaperProvider) randomSlippage() float64 {
	if p.maxSlippagePct <= 0 {
		return 0
	}
	return p.rng.Float64() * p.maxSlippagePct
}
