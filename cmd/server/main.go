package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayonpaul8906/swapsmith-orders/internal/api"
	"github.com/ayonpaul8906/swapsmith-orders/internal/batch"
	"github.com/ayonpaul8906/swapsmith-orders/internal/config"
	"github.com/ayonpaul8906/swapsmith-orders/internal/db"
	"github.com/ayonpaul8906/swapsmith-orders/internal/external"
	"github.com/ayonpaul8906/swapsmith-orders/internal/logging"
	"github.com/ayonpaul8906/swapsmith-orders/internal/notifications"
	"github.com/ayonpaul8906/swapsmith-orders/internal/orders"
	"github.com/ayonpaul8906/swapsmith-orders/internal/repository"
	"github.com/ayonpaul8906/swapsmith-orders/internal/risk"
	"github.com/ayonpaul8906/swapsmith-orders/internal/scheduler"
	"github.com/ayonpaul8906/swapsmith-orders/internal/swap"
)

const banner = `
╔══════════════════════════════════════╗
║   SwapSmith Conditional Orders v0.1  ║
║                                      ║
╚══════════════════════════════════════╝
`

type orderStore interface {
	orders.Store
	api.Pinger
}

type swapProvider interface {
	orders.SwapProvider
	batch.SwapProvider
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	fmt.Print(banner)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging, cfg.App.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg.Print(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	prices := external.NewCoinGeckoClient(external.CoinGeckoOptions{
		BaseURL:  cfg.Price.CoinGeckoBaseURL,
		APIKey:   cfg.Price.APIKey,
		CacheTTL: cfg.Price.CacheTTL,
		MaxAge:   cfg.Price.MaxAge,
		AssetIDs: cfg.Price.AssetIDs,
	}, logger)

	var swaps swapProvider
	switch cfg.Swap.Provider {
	case "sideshift":
		swaps = swap.NewSideShiftClient(cfg.Swap.BaseURL, cfg.Swap.Secret, cfg.Swap.AffiliateID, cfg.Swap.Timeout, logger)
	default:
		swaps = swap.NewPaperProvider(prices, cfg.Swap.PaperSlippagePercent, logger)
	}

	notify := notifications.NewSender(cfg.App.WebhookURL, cfg.App.Name, logger)
	guard := risk.NewGuardian(risk.Limits{
		MaxActiveOrdersPerOwner: cfg.Risk.MaxActiveOrdersPerOwner,
		MaxBatchLegs:            cfg.Risk.MaxBatchLegs,
	}, store)

	engine := orders.NewEngine(store, prices, swaps, guard, notify, logger)
	orch := batch.NewOrchestrator(batch.NewExecutor(swaps, logger), guard, notify, cfg.Batch.Retention, logger)

	sched := scheduler.NewEvalScheduler(engine, scheduler.Config{
		Interval:    cfg.Scheduler.Interval,
		Concurrency: cfg.Scheduler.Concurrency,
		OrderMaxAge: cfg.Scheduler.OrderMaxAge,
	}, logger)

	srv := api.NewServer(engine, orch, store, api.Options{
		Port:         cfg.App.APIPort,
		APIKey:       cfg.App.APIKey,
		CORSOrigin:   cfg.App.CORSAllowOrigin,
		WriteTimeout: cfg.Swap.Timeout * time.Duration(max(cfg.Risk.MaxBatchLegs, 1)*2),
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		sched.Start(gctx)
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("all services started")
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (orderStore, func(), error) {
	switch cfg.DB.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DSN(), cfg.DB.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.TestConnection(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewOrderRepo(pool), func() {
			pool.Close()
			logger.Info("postgres pool closed")
		}, nil

	case "sqlite":
		sqlDB, err := db.OpenSQLite(ctx, cfg.DB.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.DB.SQLitePath))
		return repository.NewSQLiteOrderRepo(sqlDB), func() {
			_ = sqlDB.Close()
			logger.Info("sqlite store closed")
		}, nil

	default:
		logger.Warn("using in-memory order store, orders are lost on restart")
		return repository.NewMemoryOrderRepo(), func() {}, nil
	}
}
