package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vkozlov/cryptofolio/internal/clients/binance"
	"github.com/vkozlov/cryptofolio/internal/clients/coinmarketcap"
	"github.com/vkozlov/cryptofolio/internal/config"
	"github.com/vkozlov/cryptofolio/internal/database"
	"github.com/vkozlov/cryptofolio/internal/domain"
	"github.com/vkozlov/cryptofolio/internal/jobs"
	"github.com/vkozlov/cryptofolio/internal/modules/dust"
	"github.com/vkozlov/cryptofolio/internal/modules/executor"
	"github.com/vkozlov/cryptofolio/internal/modules/index"
	"github.com/vkozlov/cryptofolio/internal/modules/planner"
	"github.com/vkozlov/cryptofolio/internal/modules/portfolio"
	"github.com/vkozlov/cryptofolio/internal/modules/rebalance"
	"github.com/vkozlov/cryptofolio/internal/modules/rules"
	"github.com/vkozlov/cryptofolio/internal/modules/scheduler"
	"github.com/vkozlov/cryptofolio/internal/server"
	"github.com/vkozlov/cryptofolio/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{Level: "info", Pretty: true})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Cryptofolio")

	// Initialize sessions database
	sessionsDB, err := database.New(database.Config{
		Path: cfg.SessionsDBPath(),
		Name: "sessions",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize sessions database")
	}
	defer sessionsDB.Close()

	// Repositories
	sessionRepo := scheduler.NewSessionRepository(sessionsDB.Conn(), log)
	if err := sessionRepo.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize sessions schema")
	}
	resultRepo := scheduler.NewResultRepository(sessionsDB.Conn(), log)
	if err := resultRepo.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize results schema")
	}

	// External clients
	credentials := config.NewEnvCredentials(cfg)
	creds, err := credentials.Credentials("default")
	if err != nil {
		log.Warn().Msg("Exchange credentials not configured, only dry-run planning will work")
	}
	exchange := binance.NewClient(creds.ExchangeKey, creds.ExchangeSecret, log)
	marketData := coinmarketcap.NewClient(cfg.MarketDataAPIKey, log)

	stablecoins := domain.StablecoinSet(cfg.Stablecoins)

	// Domain services
	rulesService := rules.NewService(exchange, time.Duration(cfg.RulesCacheTTLSeconds)*time.Second, log)
	indexService := index.NewService(marketData, log)
	portfolioService := portfolio.NewService(exchange, cfg.QuoteAsset, stablecoins, log)
	plannerService := planner.NewService(rulesService, exchange, planner.Config{
		QuoteAsset:        cfg.QuoteAsset,
		MinTradeThreshold: cfg.MinTradeThreshold,
		DiffEpsilon:       cfg.DiffEpsilon,
		DustFloor:         cfg.DustFloor,
		FeeReserve:        cfg.FeeReserve,
		MinQuoteReserve:   cfg.MinQuoteReserve,
		Stablecoins:       stablecoins,
	}, log)
	executorService := executor.NewService(exchange, rulesService, executor.DefaultConfig(), log)
	dustService := dust.NewService(exchange, executorService, dust.Config{
		Enabled:    cfg.AutoConvertDust,
		DustFloor:  cfg.DustFloor,
		QuoteAsset: cfg.QuoteAsset,
	}, log)
	rebalanceService := rebalance.NewService(
		indexService, portfolioService, plannerService, executorService, dustService,
		rebalance.Config{
			IndexBaseSize:     cfg.IndexBaseSize,
			IndexSelected:     cfg.IndexSelected,
			Stablecoins:       stablecoins,
			QuoteAsset:        cfg.QuoteAsset,
			MinTradeThreshold: cfg.MinTradeThreshold,
			DustFloor:         cfg.DustFloor,
		}, log)

	// Trader scheduler
	trader := scheduler.NewService(rebalanceService, sessionRepo, resultRepo, scheduler.Config{
		DefaultDryRun:          cfg.DryRun,
		DefaultIntervalSeconds: cfg.IntervalSeconds,
	}, log)
	trader.SetCredentialsProvider(credentials)
	defer trader.Shutdown()

	// Resume sessions that were running before the last shutdown
	if err := trader.ResumeRunning(); err != nil {
		log.Error().Err(err).Msg("Failed to resume running sessions")
	}

	// Background jobs
	jobScheduler := jobs.New(log)
	if err := jobScheduler.AddJob("@every 30m", jobs.NewRulesRefreshJob(rulesService, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register rules refresh job")
	}
	if err := jobScheduler.AddJob("@every 10m", jobs.NewAutoResumeJob(trader, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register auto-resume job")
	}
	if err := jobScheduler.AddJob("@daily", jobs.NewResultsPruneJob(resultRepo, 0, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register results prune job")
	}
	jobScheduler.Start()
	defer jobScheduler.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Log:        log,
		Config:     cfg,
		SessionsDB: sessionsDB,
		Trader:     trader,
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
