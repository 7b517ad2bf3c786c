// Package swap places swaps with an external provider or simulates them.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/httputil"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

const defaultSideShiftURL = "https://sideshift.ai/api/v2"

// SideShiftClient requests a fixed-rate quote and, when a settle address is
// given, turns it into a shift. Each call is made exactly once.
type SideShiftClient struct {
	baseURL     string
	secret      string
	affiliateID string
	httpClient  *http.Client
	logger      *zap.Logger
}

func NewSideShiftClient(baseURL, secret, affiliateID string, timeout time.Duration, logger *zap.Logger) *SideShiftClient {
	if baseURL == "" {
		baseURL = defaultSideShiftURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SideShiftClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		secret:      secret,
		affiliateID: affiliateID,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.Named("sideshift"),
	}
}

type quoteRequest struct {
	DepositCoin    string          `json:"depositCoin"`
	DepositNetwork string          `json:"depositNetwork"`
	SettleCoin     string          `json:"settleCoin"`
	SettleNetwork  string          `json:"settleNetwork"`
	DepositAmount  decimal.Decimal `json:"depositAmount"`
	SettleAmount   *string         `json:"settleAmount"`
	AffiliateID    string          `json:"affiliateId,omitempty"`
}

type quoteResponse struct {
	ID             string          `json:"id"`
	DepositCoin    string          `json:"depositCoin"`
	DepositNetwork string          `json:"depositNetwork"`
	SettleCoin     string          `json:"settleCoin"`
	SettleNetwork  string          `json:"settleNetwork"`
	DepositAmount  decimal.Decimal `json:"depositAmount"`
	SettleAmount   decimal.Decimal `json:"settleAmount"`
	Rate           decimal.Decimal `json:"rate"`
	ExpiresAt      *time.Time      `json:"expiresAt"`
}

type shiftRequest struct {
	QuoteID       string `json:"quoteId"`
	SettleAddress string `json:"settleAddress"`
	AffiliateID   string `json:"affiliateId,omitempty"`
}

type shiftResponse struct {
	ID             string          `json:"id"`
	QuoteID        string          `json:"quoteId"`
	DepositCoin    string          `json:"depositCoin"`
	SettleCoin     string          `json:"settleCoin"`
	DepositAddress string          `json:"depositAddress"`
	DepositAmount  decimal.Decimal `json:"depositAmount"`
	SettleAmount   decimal.Decimal `json:"settleAmount"`
	Rate           decimal.Decimal `json:"rate"`
	ExpiresAt      *time.Time      `json:"expiresAt"`
	Status         string          `json:"status"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// QuoteAndExecute implements the provider contract used by orders and batches.
func (c *SideShiftClient) QuoteAndExecute(ctx context.Context, req models.SwapRequest) (*models.SwapResult, error) {
	var q quoteResponse
	err := c.post(ctx, "/quotes", quoteRequest{
		DepositCoin:    strings.ToLower(req.FromAsset),
		DepositNetwork: strings.ToLower(req.FromNetwork),
		SettleCoin:     strings.ToLower(req.ToAsset),
		SettleNetwork:  strings.ToLower(req.ToNetwork),
		DepositAmount:  req.Amount,
		AffiliateID:    c.affiliateID,
	}, &q)
	if err != nil {
		return nil, &apperr.ProviderError{Op: "quote", Err: err}
	}
	res := &models.SwapResult{
		QuoteID:       q.ID,
		DepositAsset:  strings.ToUpper(q.DepositCoin),
		DepositAmount: q.DepositAmount,
		SettleAsset:   strings.ToUpper(q.SettleCoin),
		SettleAmount:  q.SettleAmount,
		Rate:          q.Rate,
		ExpiresAt:     q.ExpiresAt,
	}
	if req.SettleAddress == "" {
		return res, nil
	}

	var s shiftResponse
	err = c.post(ctx, "/shifts/fixed", shiftRequest{
		QuoteID:       q.ID,
		SettleAddress: req.SettleAddress,
		AffiliateID:   c.affiliateID,
	}, &s)
	if err != nil {
		return nil, &apperr.ProviderError{Op: "create shift", Err: err}
	}

	res.ExternalOrderID = s.ID
	res.DepositAddress = s.DepositAddress
	if !s.DepositAmount.IsZero() {
		res.DepositAmount = s.DepositAmount
	}
	if !s.SettleAmount.IsZero() {
		res.SettleAmount = s.SettleAmount
	}
	if s.ExpiresAt != nil {
		res.ExpiresAt = s.ExpiresAt
	}
	c.logger.Info("shift created",
		zap.String("shift_id", s.ID),
		zap.String("quote_id", q.ID),
		zap.String("reference", req.Reference),
		zap.Stringer("settle_amount", res.SettleAmount))
	return res, nil
}

func (c *SideShiftClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	resp, err := httputil.Do(ctx, c.httpClient, httputil.SingleAttempt, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.secret != "" {
			req.Header.Set("x-sideshift-secret", c.secret)
		}
		if c.affiliateID != "" {
			req.Header.Set("x-affiliate-id", c.affiliateID)
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, e.Error.Message)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), 256))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
