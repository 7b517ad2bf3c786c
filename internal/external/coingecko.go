// Package external adapts third-party market data to the price source the order engine polls.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/httputil"
)

const (
	defaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	sourceName          = "coingecko"
)

var defaultAssetIDs = map[string]string{
	"BTC":  "bitcoin",
	"WBTC": "wrapped-bitcoin",
	"ETH":  "ethereum",
	"WETH": "weth",
	"SOL":  "solana",
	"USDC": "usd-coin",
	"USDT": "tether",
	"DAI":  "dai",
	"BNB":  "binancecoin",
	"AVAX": "avalanche-2",
	"POL":  "polygon-ecosystem-token",
	"ARB":  "arbitrum",
	"OP":   "optimism",
	"LINK": "chainlink",
	"TRX":  "tron",
	"LTC":  "litecoin",
	"DOGE": "dogecoin",
}

// ErrUnknownAsset is returned when no CoinGecko id is configured for an asset.
var ErrUnknownAsset = errors.New("no coingecko id for asset")

type CoinGeckoOptions struct {
	BaseURL  string
	APIKey   string
	CacheTTL time.Duration
	MaxAge   time.Duration
	// AssetIDs extends or overrides the built-in symbol map. Keys are
	// upper-case symbols, optionally qualified as SYMBOL.NETWORK.
	AssetIDs map[string]string
	Timeout  time.Duration
}

type cachedPrice struct {
	price     decimal.Decimal
	updatedAt time.Time
	fetchedAt time.Time
}

// CoinGeckoClient is a USD price source with a short TTL cache. Prices whose
// upstream timestamp is older than MaxAge are rejected as stale.
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	cacheTTL   time.Duration
	maxAge     time.Duration
	ids        map[string]string
	httpClient *http.Client
	retry      httputil.RetryConfig
	logger     *zap.Logger
	now        func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cachedPrice
}

func NewCoinGeckoClient(opts CoinGeckoOptions, logger *zap.Logger) *CoinGeckoClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultCoinGeckoURL
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	ids := make(map[string]string, len(defaultAssetIDs)+len(opts.AssetIDs))
	for k, v := range defaultAssetIDs {
		ids[k] = v
	}
	for k, v := range opts.AssetIDs {
		ids[strings.ToUpper(k)] = v
	}

	logger = logger.Named(sourceName)
	return &CoinGeckoClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		cacheTTL:   opts.CacheTTL,
		maxAge:     opts.MaxAge,
		ids:        ids,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
			Logger:      logger,
		},
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cachedPrice),
	}
}

// GetCurrentPrice returns the USD price of asset. Every failure is a
// *apperr.TransientError so that callers skip the tick.
func (c *CoinGeckoClient) GetCurrentPrice(ctx context.Context, asset, network string) (decimal.Decimal, error) {
	id, ok := c.coinID(asset, network)
	if !ok {
		return decimal.Zero, &apperr.TransientError{Source: sourceName, Err: fmt.Errorf("%w: %s", ErrUnknownAsset, asset)}
	}

	if p, ok := c.cached(id); ok {
		return p, nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		return c.fetch(ctx, id)
	})
	if err != nil {
		return decimal.Zero, &apperr.TransientError{Source: sourceName, Err: err}
	}
	return v.(decimal.Decimal), nil
}

func (c *CoinGeckoClient) coinID(asset, network string) (string, bool) {
	sym := strings.ToUpper(strings.TrimSpace(asset))
	if network != "" {
		if id, ok := c.ids[sym+"."+strings.ToUpper(strings.TrimSpace(network))]; ok {
			return id, true
		}
	}
	id, ok := c.ids[sym]
	return id, ok
}

func (c *CoinGeckoClient) cached(id string) (decimal.Decimal, bool) {
	if c.cacheTTL <= 0 {
		return decimal.Zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[id]
	now := c.now()
	if !ok || now.Sub(e.fetchedAt) > c.cacheTTL || now.Sub(e.updatedAt) > c.maxAge {
		return decimal.Zero, false
	}
	return e.price, true
}

func (c *CoinGeckoClient) fetch(ctx context.Context, id string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	q.Set("include_last_updated_at", "true")
	endpoint := c.baseURL + "/simple/price?" + q.Encode()

	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set(c.apiKeyHeader(), c.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}

	var data map[string]struct {
		USD           decimal.Decimal `json:"usd"`
		LastUpdatedAt int64           `json:"last_updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return decimal.Zero, fmt.Errorf("decode: %w", err)
	}

	entry, ok := data[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price returned for %s", id)
	}
	if !entry.USD.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid price for %s: %s", id, entry.USD)
	}

	now := c.now()
	updated := now
	if entry.LastUpdatedAt > 0 {
		updated = time.Unix(entry.LastUpdatedAt, 0)
	}
	if age := now.Sub(updated); age > c.maxAge {
		return decimal.Zero, fmt.Errorf("price for %s is stale: updated %s ago", id, age.Truncate(time.Second))
	}

	c.mu.Lock()
	c.cache[id] = cachedPrice{price: entry.USD, updatedAt: updated, fetchedAt: now}
	c.mu.Unlock()

	c.logger.Debug("price fetched", zap.String("coin_id", id), zap.Stringer("price", entry.USD))
	return entry.USD, nil
}

func (c *CoinGeckoClient) apiKeyHeader() string {
	if strings.Contains(c.baseURL, "pro-api") {
		return "x-cg-pro-api-key"
	}
	return "x-cg-demo-api-key"
}
