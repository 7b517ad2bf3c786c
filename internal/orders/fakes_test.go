package orders

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
)

type fakePrices struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakePrices) set(p string) {
	f.mu.Lock()
	f.price = decimal.RequireFromString(p)
	f.err = nil
	f.mu.Unlock()
}

func (f *fakePrices) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakePrices) GetCurrentPrice(_ context.Context, _, _ string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.price, f.err
}

type fakeSwaps struct {
	calls   atomic.Int32
	err     error
	noID    bool
	block   chan struct{}
	started chan struct{}
	lastReq models.SwapRequest
	mu      sync.Mutex
}

func (f *fakeSwaps) QuoteAndExecute(ctx context.Context, req models.SwapRequest) (*models.SwapResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	res := &models.SwapResult{
		ExternalOrderID: "shift_" + req.Reference,
		SettleAsset:     req.ToAsset,
		SettleAmount:    req.Amount.Mul(decimal.NewFromInt(95)),
		DepositAsset:    req.FromAsset,
		DepositAmount:   req.Amount,
	}
	if f.noID {
		res.ExternalOrderID = ""
	}
	return res, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) Send(_ context.Context, msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

type fixedLimiter struct{ err error }

func (f fixedLimiter) PreCreateCheck(context.Context, string) error { return f.err }

var errFeedDown = errors.New("feed down")
