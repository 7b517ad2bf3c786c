package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

// scriptedSwaps fails any leg whose target asset is in failFor and records call order.
type scriptedSwaps struct {
	mu      sync.Mutex
	failFor map[string]error
	calls   []string
	block   chan struct{}
	started chan struct{}
	onCall  func(toAsset string)
}

func (s *scriptedSwaps) QuoteAndExecute(ctx context.Context, req models.SwapRequest) (*models.SwapResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.ToAsset)
	err := s.failFor[req.ToAsset]
	block, started, onCall := s.block, s.started, s.onCall
	s.mu.Unlock()

	if onCall != nil {
		onCall(req.ToAsset)
	}
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, &apperr.ProviderError{Op: "quote", Err: err}
	}
	return &models.SwapResult{
		QuoteID:       "q-" + req.Reference,
		DepositAsset:  req.FromAsset,
		DepositAmount: req.Amount,
		SettleAsset:   req.ToAsset,
		SettleAmount:  req.Amount.Mul(decimal.NewFromInt(2)),
		Rate:          decimal.NewFromInt(2),
	}, nil
}

func (s *scriptedSwaps) setFail(asset string, err error) {
	s.mu.Lock()
	if s.failFor == nil {
		s.failFor = map[string]error{}
	}
	if err == nil {
		delete(s.failFor, asset)
	} else {
		s.failFor[asset] = err
	}
	s.mu.Unlock()
}

func (s *scriptedSwaps) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func pct(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func threeLegs() []models.LegSpec {
	return []models.LegSpec{
		{ToAsset: "eth", ToChain: "ethereum", Percentage: pct("50")},
		{ToAsset: "sol", ToChain: "solana", Percentage: pct("30")},
		{ToAsset: "btc", ToChain: "bitcoin", Percentage: pct("20")},
	}
}

// --- SplitIntent ---

func TestSplitIntent_FiftyThirtyTwenty(t *testing.T) {
	legs, err := SplitIntent(decimal.NewFromInt(100), "usdc", "Ethereum", threeLegs())
	require.NoError(t, err)
	require.Len(t, legs, 3)

	want := []string{"50", "30", "20"}
	seen := map[string]bool{}
	for i, l := range legs {
		assert.True(t, l.Amount.Equal(pct(want[i])), "leg %d amount %s", i, l.Amount)
		assert.Equal(t, models.LegPending, l.Status)
		assert.Equal(t, "USDC", l.FromAsset)
		assert.Equal(t, "ethereum", l.FromChain)
		assert.NotEmpty(t, l.ID)
		assert.False(t, seen[l.ID], "leg ids unique")
		seen[l.ID] = true
	}
	assert.Equal(t, "ETH", legs[0].ToAsset)
}

func TestSplitIntent_RoundsDownAndLastLegTakesRemainder(t *testing.T) {
	specs := []models.LegSpec{
		{ToAsset: "A", ToChain: "x", Percentage: pct("33.33")},
		{ToAsset: "B", ToChain: "x", Percentage: pct("33.33")},
		{ToAsset: "C", ToChain: "x", Percentage: pct("33.34")},
	}
	parent := pct("0.123456789")
	legs, err := SplitIntent(parent, "ETH", "ethereum", specs)
	require.NoError(t, err)

	assert.Equal(t, "0.04114814", legs[0].Amount.String())
	assert.Equal(t, "0.04114814", legs[1].Amount.String())

	total := decimal.Zero
	for _, l := range legs {
		total = total.Add(l.Amount)
	}
	assert.True(t, total.Equal(parent), "legs sum to %s, want %s", total, parent)
}

func TestSplitIntent_PartialAllocationKeepsRoundedAmounts(t *testing.T) {
	legs, err := SplitIntent(decimal.NewFromInt(10), "ETH", "ethereum", []models.LegSpec{
		{ToAsset: "A", ToChain: "x", Percentage: pct("30")},
		{ToAsset: "B", ToChain: "x", Percentage: pct("20")},
	})
	require.NoError(t, err)
	assert.True(t, legs[0].Amount.Equal(decimal.NewFromInt(3)))
	assert.True(t, legs[1].Amount.Equal(decimal.NewFromInt(2)))
}

func TestSplitIntent_Validation(t *testing.T) {
	tests := []struct {
		name   string
		amount decimal.Decimal
		specs  []models.LegSpec
		field  string
	}{
		{"zero amount", decimal.Zero, threeLegs(), "amount"},
		{"no legs", decimal.NewFromInt(1), nil, "legs"},
		{"over 100", decimal.NewFromInt(1), []models.LegSpec{
			{ToAsset: "A", ToChain: "x", Percentage: pct("60")},
			{ToAsset: "B", ToChain: "x", Percentage: pct("50")},
		}, "legs"},
		{"zero percentage", decimal.NewFromInt(1), []models.LegSpec{
			{ToAsset: "A", ToChain: "x", Percentage: decimal.Zero},
		}, "legs[0].percentage"},
		{"missing target", decimal.NewFromInt(1), []models.LegSpec{
			{ToChain: "x", Percentage: pct("10")},
		}, "legs[0].toAsset"},
		{"dust leg", pct("0.00000001"), []models.LegSpec{
			{ToAsset: "A", ToChain: "x", Percentage: pct("10")},
		}, "legs[0].percentage"},
		{"bad settle address", decimal.NewFromInt(1), []models.LegSpec{
			{ToAsset: "SOL", ToChain: "solana", Percentage: pct("10"), SettleAddress: "0xnothex"},
		}, "legs[0].settleAddress"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SplitIntent(tt.amount, "ETH", "ethereum", tt.specs)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			fields := []string{}
			for _, f := range ve.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

// --- ExecuteBatch / RetryFailed ---

func TestExecuteBatch_PartialFailureIsData(t *testing.T) {
	swaps := &scriptedSwaps{}
	swaps.setFail("SOL", errors.New("pair unavailable"))
	x := NewExecutor(swaps, zaptest.NewLogger(t))

	legs, _ := SplitIntent(decimal.NewFromInt(100), "USDC", "ethereum", threeLegs())
	out, err := x.ExecuteBatch(context.Background(), legs)
	require.NoError(t, err)

	assert.Equal(t, []string{"ETH", "SOL", "BTC"}, swaps.callLog(), "sequential, input order, never aborts")
	assert.Equal(t, models.LegSuccess, out[0].Status)
	assert.Equal(t, models.LegError, out[1].Status)
	assert.Equal(t, "pair unavailable", out[1].ErrorMessage)
	assert.Nil(t, out[1].Quote)
	assert.Equal(t, models.LegSuccess, out[2].Status)
	require.NotNil(t, out[2].Quote)
	assert.Equal(t, "q-"+out[2].ID, out[2].Quote.QuoteID)
}

func TestRetryFailed_OnlyTouchesFailedLeg(t *testing.T) {
	swaps := &scriptedSwaps{}
	swaps.setFail("SOL", errors.New("pair unavailable"))
	x := NewExecutor(swaps, zaptest.NewLogger(t))
	ctx := context.Background()

	legs, _ := SplitIntent(decimal.NewFromInt(100), "USDC", "ethereum", threeLegs())
	legs, _ = x.ExecuteBatch(ctx, legs)
	firstQuote := legs[0].Quote

	swaps.setFail("SOL", nil)
	legs, err := x.RetryFailed(ctx, legs, []string{legs[1].ID})
	require.NoError(t, err)

	assert.Equal(t, []string{"ETH", "SOL", "BTC", "SOL"}, swaps.callLog())
	for _, l := range legs {
		assert.Equal(t, models.LegSuccess, l.Status)
	}
	assert.Same(t, firstQuote, legs[0].Quote, "succeeded leg untouched")
	assert.Equal(t, 2, legs[1].Attempts)
	assert.Equal(t, 1, legs[0].Attempts)
}

func TestRetryFailed_SucceededLegInSubsetIsNotRerun(t *testing.T) {
	swaps := &scriptedSwaps{}
	x := NewExecutor(swaps, nil)
	ctx := context.Background()
	legs, _ := SplitIntent(decimal.NewFromInt(100), "USDC", "ethereum", threeLegs())
	legs, _ = x.ExecuteBatch(ctx, legs)

	_, err := x.RetryFailed(ctx, legs, []string{legs[0].ID})
	require.NoError(t, err)
	assert.Len(t, swaps.callLog(), 3, "provider never invoked twice for a succeeded leg")
}

func TestRetryFailed_InterruptedRunLeavesUnnamedLegsPending(t *testing.T) {
	swaps := &scriptedSwaps{}
	swaps.setFail("ETH", errors.New("pair unavailable"))
	x := NewExecutor(swaps, zaptest.NewLogger(t))

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	swaps.onCall = func(asset string) {
		if asset == "ETH" {
			cancel()
		}
	}

	legs, _ := SplitIntent(decimal.NewFromInt(100), "USDC", "ethereum", threeLegs())
	legs, err := x.ExecuteBatch(runCtx, legs)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, models.LegError, legs[0].Status)
	require.Equal(t, models.LegPending, legs[1].Status)
	require.Equal(t, models.LegPending, legs[2].Status)

	swaps.onCall = nil
	swaps.setFail("ETH", nil)
	legs, err = x.RetryFailed(context.Background(), legs, []string{legs[0].ID})
	require.NoError(t, err)

	assert.Equal(t, []string{"ETH", "ETH"}, swaps.callLog())
	assert.Equal(t, models.LegSuccess, legs[0].Status)
	assert.Equal(t, models.LegPending, legs[1].Status)
	assert.Equal(t, models.LegPending, legs[2].Status)
	assert.Zero(t, legs[1].Attempts)
	assert.Zero(t, legs[2].Attempts)
}

func TestRetryFailed_UnknownLegIDs(t *testing.T) {
	x := NewExecutor(&scriptedSwaps{}, nil)
	legs, _ := SplitIntent(decimal.NewFromInt(100), "USDC", "ethereum", threeLegs())

	_, err := x.RetryFailed(context.Background(), legs, []string{"nope"})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "legIds", ve.Fields[0].Field)

	_, err = x.RetryFailed(context.Background(), legs, nil)
	require.ErrorAs(t, err, &ve)
}

func TestExecuteBatch_CancelledContextLeavesRestPending(t *testing.T) {
	swaps := &scriptedSwaps{}
	x := NewExecutor(swaps, nil)
	legs, _ := SplitIntent(decimal.NewFromInt(100), "USDC", "ethereum", threeLegs())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := x.ExecuteBatch(ctx, legs)
	require.ErrorIs(t, err, context.Canceled)
	for _, l := range out {
		assert.Equal(t, models.LegPending, l.Status)
	}
	assert.Empty(t, swaps.callLog())
}

// --- Orchestrator ---

type legLimit int

func (l legLimit) BatchCheck(n int) error {
	if n > int(l) {
		return apperr.Conflict("batch of %d legs exceeds max %d", n, int(l))
	}
	return nil
}

type countingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (c *countingNotifier) Send(_ context.Context, msg string) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func newOrch(t *testing.T, swaps *scriptedSwaps, notes *countingNotifier) *Orchestrator {
	return NewOrchestrator(NewExecutor(swaps, zaptest.NewLogger(t)), legLimit(10), notes, time.Hour, zaptest.NewLogger(t))
}

func runInput() RunInput {
	return RunInput{OwnerID: "alice", Amount: decimal.NewFromInt(100), FromAsset: "USDC", FromChain: "ethereum", Legs: threeLegs()}
}

func TestOrchestrator_RunRetryGet(t *testing.T) {
	swaps := &scriptedSwaps{}
	swaps.setFail("SOL", errors.New("pair unavailable"))
	notes := &countingNotifier{}
	o := newOrch(t, swaps, notes)
	ctx := context.Background()

	b, err := o.Run(ctx, runInput())
	require.NoError(t, err)
	assert.Equal(t, models.BatchSummary{Total: 3, Succeeded: 2, Failed: 1}, b.Summary())

	got, err := o.Get(ctx, b.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, b.Summary(), got.Summary())

	_, err = o.Get(ctx, b.ID, "bob")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	swaps.setFail("SOL", nil)
	b2, err := o.Retry(ctx, b.ID, "alice", []string{b.Legs[1].ID})
	require.NoError(t, err)
	assert.Equal(t, models.BatchSummary{Total: 3, Succeeded: 3}, b2.Summary())
	assert.Len(t, swaps.callLog(), 4)

	assert.Equal(t, models.LegError, b.Legs[1].Status, "earlier snapshot is not mutated")

	_, err = o.Retry(ctx, b.ID, "alice", []string{"unknown"})
	var ve *apperr.ValidationError
	assert.ErrorAs(t, err, &ve)

	notes.mu.Lock()
	assert.Len(t, notes.msgs, 2)
	notes.mu.Unlock()
}

func TestOrchestrator_RunRejectsTooManyLegs(t *testing.T) {
	o := NewOrchestrator(NewExecutor(&scriptedSwaps{}, nil), legLimit(2), nil, time.Hour, nil)
	_, err := o.Run(context.Background(), runInput())
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Zero(t, o.size())
}

func TestOrchestrator_RunValidation(t *testing.T) {
	o := newOrch(t, &scriptedSwaps{}, nil)
	in := runInput()
	in.Amount = decimal.Zero
	_, err := o.Run(context.Background(), in)
	var ve *apperr.ValidationError
	assert.ErrorAs(t, err, &ve)

	in = runInput()
	in.OwnerID = ""
	_, err = o.Run(context.Background(), in)
	assert.ErrorAs(t, err, &ve)
}

func TestOrchestrator_ConcurrentRetryConflicts(t *testing.T) {
	swaps := &scriptedSwaps{}
	swaps.setFail("SOL", errors.New("pair unavailable"))
	o := newOrch(t, swaps, nil)
	ctx := context.Background()
	b, err := o.Run(ctx, runInput())
	require.NoError(t, err)

	swaps.mu.Lock()
	swaps.block = make(chan struct{})
	swaps.started = make(chan struct{}, 1)
	swaps.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := o.Retry(ctx, b.ID, "alice", []string{b.Legs[1].ID})
		done <- err
	}()
	<-swaps.started

	_, err = o.Retry(ctx, b.ID, "alice", []string{b.Legs[1].ID})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	close(swaps.block)
	require.NoError(t, <-done)
}

func TestOrchestrator_EvictsAfterRetention(t *testing.T) {
	o := newOrch(t, &scriptedSwaps{}, nil)
	clock := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return clock }

	b, err := o.Run(context.Background(), runInput())
	require.NoError(t, err)

	clock = clock.Add(59 * time.Minute)
	_, err = o.Get(context.Background(), b.ID, "alice")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = o.Get(context.Background(), b.ID, "alice")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, o.size())
}
