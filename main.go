package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mt5-trading-backend/config"
	"mt5-trading-backend/internal/api"
	"mt5-trading-backend/internal/autotrader"
	"mt5-trading-backend/internal/cache"
	"mt5-trading-backend/internal/commands"
	"mt5-trading-backend/internal/database"
	"mt5-trading-backend/internal/events"
	"mt5-trading-backend/internal/indicators"
	"mt5-trading-backend/internal/logging"
	"mt5-trading-backend/internal/marketdata"
	"mt5-trading-backend/internal/protection"
	"mt5-trading-backend/internal/reconcile"
	"mt5-trading-backend/internal/registry"
	"mt5-trading-backend/internal/risk"
	"mt5-trading-backend/internal/signals"
	"mt5-trading-backend/internal/workers"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	// Initialize event bus
	eventBus := events.NewEventBus()

	// Initialize database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
		PoolSize: cfg.DatabaseConfig.PoolSize,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	repo := database.NewRepository(db)
	logger.Info("Database ready", "host", cfg.DatabaseConfig.Host, "database", cfg.DatabaseConfig.Database)

	// Initialize Redis cache. The backend runs degraded without it: the
	// command queue falls back to the database and indicator results are
	// recomputed each cycle.
	var cacheSvc *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheSvc, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			logger.Warn("Redis unavailable, running without cache", "error", err)
			cacheSvc = nil
		} else {
			defer cacheSvc.Close()
			logger.Info("Redis cache connected", "address", cfg.RedisConfig.Address)
		}
	}

	// Core services
	connRegistry := registry.NewRegistry(repo, eventBus, cfg.TimingConfig)
	connRegistry.WireReconnectAudit()
	market := marketdata.NewService(repo, logger)
	market.Start(ctx)

	engine := indicators.NewEngine(cacheSvc, logger, cfg.TimingConfig.IndicatorCacheTTLDuration())
	generator := signals.NewGenerator(repo, engine, eventBus, signals.GeneratorConfig{
		MinConfidence: cfg.RiskConfig.MinGenerationConfidence,
		BuyAdvantage:  cfg.RiskConfig.BuyAdvantage,
		BuyPenalty:    cfg.RiskConfig.BuyConfidencePenalty,
		MaxTPPercent:  cfg.RiskConfig.MaxTPPercent,
		MinSLPercent:  cfg.RiskConfig.MinSLPercent,
	}, logger)

	cmdService := commands.NewService(repo, cacheSvc, eventBus, logger)
	protectionMgr := protection.NewManager(repo, cacheSvc, eventBus, cfg.RiskConfig, cfg.LimitsConfig, cfg.TimingConfig, logger)
	trailingMgr := risk.NewTrailingManager(repo, cmdService, eventBus, cfg.TrailingConfig, logger)
	newsCalendar := autotrader.NewNewsCalendar()
	pipeline := autotrader.NewPipeline(repo, protectionMgr, cmdService, newsCalendar, market,
		cfg.TimingConfig, cfg.LimitsConfig, cfg.RiskConfig, cfg.AutoTradeEnabled, logger)
	reconciler := reconcile.NewReconciler(repo, protectionMgr, trailingMgr, eventBus, logger)

	logger.Info("Trading services initialized", "auto_trade", cfg.AutoTradeEnabled)

	// Background workers
	supervisor := workers.NewSupervisor(cacheSvc, logger)
	registerWorkers(supervisor, cfg, repo, market, generator, pipeline, trailingMgr, cmdService, protectionMgr, connRegistry, logger)
	supervisor.Start(ctx)

	// HTTP surfaces
	server := api.NewServer(repo, cacheSvc, connRegistry, market, cmdService, protectionMgr,
		pipeline, reconciler, supervisor, eventBus, cfg, logger)
	serverErrs := make(chan error, 4)
	server.Start(serverErrs)

	logger.Info("MT5 trading backend started",
		"control_port", cfg.ServerConfig.ControlPort,
		"tick_port", cfg.ServerConfig.TickPort,
		"trade_port", cfg.ServerConfig.TradePort,
		"log_port", cfg.ServerConfig.LogPort)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-serverErrs:
		logger.Error("HTTP listener failed", "error", err)
	}

	// Graceful shutdown: stop intake first, then workers, then flush the
	// remaining buffered ticks.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	cancel()
	supervisor.Shutdown()
	market.Stop()

	logger.Info("Shutdown complete")
}

// registerWorkers wires every periodic task onto the supervisor
func registerWorkers(
	supervisor *workers.Supervisor,
	cfg *config.Config,
	repo *database.Repository,
	market *marketdata.Service,
	generator *signals.Generator,
	pipeline *autotrader.Pipeline,
	trailingMgr *risk.TrailingManager,
	cmdService *commands.Service,
	protectionMgr *protection.Manager,
	connRegistry *registry.Registry,
	logger *logging.Logger,
) {
	timing := cfg.TimingConfig

	// Signal generation: one pass over every distinct (symbol, timeframe)
	// subscription. Per-pair failures are logged and skipped so one bad
	// symbol cannot block the rest.
	supervisor.Register("signal_generator", time.Duration(timing.SignalIntervalSecs)*time.Second, func(ctx context.Context) error {
		subs, err := repo.GetAllSubscriptions(ctx)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(subs))
		for _, sub := range subs {
			key := sub.Symbol + ":" + sub.Timeframe
			if seen[key] {
				continue
			}
			seen[key] = true
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, _, err := generator.Generate(ctx, sub.Symbol, sub.Timeframe); err != nil {
				logger.Error("Signal generation failed", "symbol", sub.Symbol, "timeframe", sub.Timeframe, "error", err)
			}
		}
		return nil
	})

	supervisor.Register("decision_pipeline", time.Duration(timing.DecisionIntervalSecs)*time.Second, pipeline.Run)

	supervisor.Register("trailing_stops", time.Duration(timing.TrailingIntervalSecs)*time.Second, func(ctx context.Context) error {
		accounts, err := repo.ListAccounts(ctx)
		if err != nil {
			return err
		}
		for _, acct := range accounts {
			if _, err := trailingMgr.EvaluateAccount(ctx, acct.AccountNumber, acct.Balance); err != nil {
				logger.Error("Trailing evaluation failed", "account", acct.AccountNumber, "error", err)
			}
		}
		return nil
	})

	supervisor.Register("connection_watchdog", 10*time.Second, connRegistry.Watchdog)

	supervisor.Register("command_sweeper", 30*time.Second, func(ctx context.Context) error {
		swept, err := cmdService.SweepOverdue(ctx, timing.CommandTimeoutDuration())
		if err != nil {
			return err
		}
		// A timed-out trade command is a failure the circuit breaker must
		// see; a terminal that stops responding entirely never posts
		// results, so the sweeper is the only path that counts it.
		for _, cmd := range swept {
			if database.IsTradeCommand(cmd.CommandType) {
				protectionMgr.OnCommandResult(ctx, cmd.AccountNumber, false)
			}
		}
		return nil
	})

	supervisor.Register("signal_expiry", time.Minute, func(ctx context.Context) error {
		expired, err := repo.ExpireOverdueSignals(ctx)
		if err == nil && expired > 0 {
			logger.Info("Signals expired", "count", expired)
		}
		return err
	})

	// M1 aggregation builds one-minute bars from the raw tick stream for
	// every subscribed symbol.
	supervisor.Register("m1_aggregator", time.Minute, func(ctx context.Context) error {
		subs, err := repo.GetAllSubscriptions(ctx)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		seen := make(map[string]bool, len(subs))
		for _, sub := range subs {
			if seen[sub.Symbol] {
				continue
			}
			seen[sub.Symbol] = true
			if _, err := market.AggregateM1(ctx, sub.Symbol, 5*time.Minute, now); err != nil {
				logger.Error("M1 aggregation failed", "symbol", sub.Symbol, "error", err)
			}
		}
		return nil
	})

	supervisor.Register("retention_sweeper", time.Hour, func(ctx context.Context) error {
		tickRetention := time.Duration(cfg.RetentionConfig.TickRetentionDays) * 24 * time.Hour
		if _, err := market.SweepRetention(ctx, tickRetention, time.Now().UTC()); err != nil {
			return err
		}
		cutoff := time.Now().UTC().Add(-time.Duration(cfg.RetentionConfig.DecisionLogRetentionHours) * time.Hour)
		_, err := repo.DeleteDecisionsBefore(ctx, cutoff)
		return err
	})

	supervisor.Register("pause_resumer", 10*time.Minute, func(ctx context.Context) error {
		resumed, err := protectionMgr.ResumeExpiredPauses(ctx)
		if err == nil && resumed > 0 {
			logger.Info("Paused symbols resumed", "count", resumed)
		}
		return err
	})
}
