// Package scheduler drives periodic evaluation of active trailing-stop orders.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
	"github.com/ayonpaul8906/swapsmith-orders/internal/orders"
)

// Engine is the part of orders.Engine the scheduler calls.
type Engine interface {
	ListActive(ctx context.Context, limit int) ([]*models.TrailingStopOrder, error)
	Evaluate(ctx context.Context, orderID string) (orders.Outcome, error)
	ExpireOrder(ctx context.Context, orderID string) (*models.TrailingStopOrder, error)
}

type Config struct {
	Interval    time.Duration
	Concurrency int
	// OrderMaxAge expires pending orders older than this. Zero disables expiry.
	OrderMaxAge time.Duration
	// TickTimeout bounds one full pass. Defaults to the interval.
	TickTimeout time.Duration
	// BatchSize caps how many active orders one pass loads. Zero uses the store default.
	BatchSize int
}

// TickStats summarizes one pass over the active orders.
type TickStats struct {
	Active    int
	Tracked   int
	Triggered int
	Failed    int
	Skipped   int
	Expired   int
	Errors    int
}

type EvalScheduler struct {
	engine Engine
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	ticking atomic.Bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

func NewEvalScheduler(engine Engine, cfg Config, logger *zap.Logger) *EvalScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = cfg.Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvalScheduler{
		engine: engine,
		cfg:    cfg,
		logger: logger.Named("scheduler"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a pass immediately and then on every interval until Stop or ctx is done.
func (s *EvalScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	s.logger.Info("started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("concurrency", s.cfg.Concurrency),
		zap.Duration("order_max_age", s.cfg.OrderMaxAge))
}

// Stop halts the ticker and waits for an in-flight pass to finish.
func (s *EvalScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("stopped")
}

func (s *EvalScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *EvalScheduler) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, errTickInProgress) {
		s.logger.Error("evaluation pass failed", zap.Error(err))
	}
}

var errTickInProgress = errors.New("evaluation pass already in progress")

// RunOnce makes one pass: expire what is too old, evaluate the rest. Passes
// never overlap; a call made while one is running returns an error at once.
func (s *EvalScheduler) RunOnce(ctx context.Context) (TickStats, error) {
	var stats TickStats
	if !s.ticking.CompareAndSwap(false, true) {
		s.logger.Debug("previous pass still running, skipping")
		return stats, errTickInProgress
	}
	defer s.ticking.Store(false)

	active, err := s.engine.ListActive(ctx, s.cfg.BatchSize)
	if err != nil {
		return stats, err
	}
	stats.Active = len(active)

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, len(active))
		now  = s.now()
	)
	record := func(f func(*TickStats)) {
		mu.Lock()
		f(&stats)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, o := range active {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}

		if s.expired(o, now) {
			g.Go(func() error {
				s.expire(gctx, o, record)
				return nil
			})
			continue
		}
		g.Go(func() error {
			s.evaluate(gctx, o, record)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("evaluation pass",
		zap.Int("active", stats.Active),
		zap.Int("tracked", stats.Tracked),
		zap.Int("triggered", stats.Triggered),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("expired", stats.Expired),
		zap.Int("errors", stats.Errors))
	return stats, ctx.Err()
}

func (s *EvalScheduler) expired(o *models.TrailingStopOrder, now time.Time) bool {
	return s.cfg.OrderMaxAge > 0 && now.Sub(o.CreatedAt) > s.cfg.OrderMaxAge
}

func (s *EvalScheduler) expire(ctx context.Context, o *models.TrailingStopOrder, record func(func(*TickStats))) {
	_, err := s.engine.ExpireOrder(ctx, o.ID)
	switch {
	case err == nil:
		record(func(t *TickStats) { t.Expired++ })
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrNotFound):
		// Settled by a concurrent evaluate or cancel.
		record(func(t *TickStats) { t.Skipped++ })
	default:
		record(func(t *TickStats) { t.Errors++ })
		s.logger.Warn("expire failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (s *EvalScheduler) evaluate(ctx context.Context, o *models.TrailingStopOrder, record func(func(*TickStats))) {
	out, err := s.engine.Evaluate(ctx, o.ID)
	if err != nil && !apperr.IsTransient(err) && !apperr.IsProvider(err) {
		record(func(t *TickStats) { t.Errors++ })
		s.logger.Warn("evaluate failed", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	record(func(t *TickStats) {
		switch out.Kind {
		case orders.OutcomeTracked:
			t.Tracked++
		case orders.OutcomeTriggered:
			t.Triggered++
		case orders.OutcomeFailed:
			t.Failed++
		default:
			t.Skipped++
		}
	})
}
