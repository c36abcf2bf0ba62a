package main

import (
	"context"
	"fmt"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/advisor"
	"github.com/STTM-NSU/trading-sim/internal/api"
	"github.com/STTM-NSU/trading-sim/internal/config"
	"github.com/STTM-NSU/trading-sim/internal/engine"
	"github.com/STTM-NSU/trading-sim/internal/ledger"
	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/STTM-NSU/trading-sim/internal/market"
	"github.com/STTM-NSU/trading-sim/internal/milestone"
	"github.com/STTM-NSU/trading-sim/internal/notify"
	"github.com/STTM-NSU/trading-sim/internal/orderbook"
	"github.com/STTM-NSU/trading-sim/internal/portfolio"
	"github.com/STTM-NSU/trading-sim/internal/postgres"
	"github.com/STTM-NSU/trading-sim/internal/scheduler"
	"github.com/STTM-NSU/trading-sim/internal/server"
	"github.com/STTM-NSU/trading-sim/internal/store"
	"github.com/STTM-NSU/trading-sim/internal/stream"
	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the live simulation with its HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAppConfig(configPath(flags.config, _appCfgFilePath))
			if err != nil {
				return fmt.Errorf("%w: can't load app cfg", err)
			}

			zapLogger, loggerSync, err := newLogger(flags, cfg.Log)
			if err != nil {
				return err
			}
			defer loggerSync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, cfg, zapLogger)
		},
	}
}

func serve(ctx context.Context, cfg config.AppConfig, zapLogger logger.Logger) error {
	clk := clock.New()

	st, closeStore, err := openStore(ctx, cfg.Store, zapLogger)
	if err != nil {
		return err
	}
	defer closeStore()

	notifiers := notify.Multi{notify.NewLog(zapLogger)}
	if cfg.Simulation.NotifyWebhook != "" {
		webhook := notify.NewWebhook(cfg.Simulation.NotifyWebhook, clk, zapLogger)
		defer func() { _ = webhook.Close() }()
		notifiers = append(notifiers, webhook)
	}

	hub := stream.NewHub(zapLogger)
	defer hub.Close()

	seed := clk.Now().UnixNano()
	bookCfg := orderbook.Config{
		Spread:        cfg.OrderBook.Spread,
		Step:          cfg.OrderBook.Step,
		MinQuantity:   cfg.OrderBook.MinQuantity,
		QuantityRange: cfg.OrderBook.QuantityRange,
		Smoothing:     cfg.OrderBook.Smoothing,
		PriceStep:     cfg.OrderBook.PriceStep,
	}

	account := portfolio.NewPortfolio(st, cfg.Simulation.StartingCash, zapLogger)
	e := engine.New(zapLogger,
		market.NewSimulator(cfg.Simulation.Assets, rand.New(rand.NewSource(seed))),
		ledger.New(st, clk, zapLogger),
		account,
		milestone.NewTracker(st, clk, zapLogger,
			milestone.WithThresholds(cfg.Milestones.Thresholds),
			milestone.WithDefaultBaseline(cfg.Milestones.DefaultBaseline),
			milestone.WithNotifier(notifiers),
		),
		orderbook.NewFeed(orderbook.NewGenerator(bookCfg, rand.New(rand.NewSource(seed+1)), clk), cfg.OrderBook.Levels),
		engine.WithBroadcaster(hub),
		engine.WithNotifier(notifiers),
		engine.WithBookTTL(cfg.OrderBook.RefreshInterval),
	)
	if err := e.Restore(ctx); err != nil {
		return fmt.Errorf("%w: can't restore simulation", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.FlushAccount(flushCtx); err != nil {
			zapLogger.Errorf("%s: can't flush account on shutdown", err)
		}
	}()

	mentor := advisor.New(cfg.Advisor, clk, zapLogger, advisor.WithPortfolio(e.Portfolio))
	defer func() { _ = mentor.Close() }()

	sched := scheduler.New(clk, zapLogger)
	for _, t := range e.Tasks(engine.Intervals{
		Tick:        cfg.Simulation.TickInterval,
		BookRefresh: cfg.OrderBook.RefreshInterval,
		OrderTTL:    cfg.Simulation.PendingOrderTTL,
	}) {
		if err := sched.Add(t); err != nil {
			return fmt.Errorf("%w: can't schedule %s", err, t.Name)
		}
	}

	handler := api.NewHandler(e, mentor, hub, cfg.Server.AllowedOrigin, zapLogger)
	httpServer := server.NewHTTPServer(ctx, cfg.Server.Port, handler, server.WithShutdownTimeout(cfg.Server.ShutdownTimeout))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(runCtx) }()

	zapLogger.Infof("trading simulator listening on :%s with %d assets", cfg.Server.Port, len(e.Assets()))
	serveErr := httpServer.Run(runCtx)
	stop()
	<-schedDone

	if serveErr != nil {
		return fmt.Errorf("%w: http server stopped", serveErr)
	}
	zapLogger.Infoln("graceful shutdown finished")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, zapLogger logger.Logger) (store.Store, func(), error) {
	switch cfg.Backend {
	case config.MemoryStore:
		zapLogger.Warnf("memory store selected, state is lost on restart")
		return store.NewMemory(), func() {}, nil
	case config.PostgresStore:
		pgConfig := postgres.NewConfigFromEnv().Setup()
		zapLogger.Debugf("trying to connect to db with: %s", pgConfig.Redacted())
		db, err := postgres.NewDB(ctx, pgConfig)
		if err != nil {
			return nil, nil, err
		}
		s, err := store.NewPostgres(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, func() { _ = db.Close() }, nil
	default:
		s, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				zapLogger.Errorf("%s: can't close sqlite store", err)
			}
		}, nil
	}
}
