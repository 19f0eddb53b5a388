package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/paaavkata/crypto-ingest-core/shared/pkg/database"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/newsapi"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/utils"

	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/api"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/cache"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/config"
	ingestDB "github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/database"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/exchange"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/health"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/news"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/publisher"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/reconcile"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/registry"
	"github.com/paaavkata/crypto-ingest-core/services/ingestor/internal/scheduler"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Initialize logger
	logger := utils.NewLogger(config.ServiceName)

	// Load configuration
	cfg := config.Load()
	logger.WithFields(logrus.Fields{
		"api_port":        cfg.APIPort,
		"reload_interval": cfg.SchedulerReloadInterval,
		"job_timeout":     cfg.JobTimeout,
		"redis":           cfg.Redis.Addr != "",
		"kafka":           len(cfg.Kafka.Brokers) > 0,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	repo := ingestDB.NewRepository(db, logger)
	if cfg.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to apply schema")
		}
	}

	checker := health.NewHealthChecker(logger)
	checker.Require("database", repo)

	// The price cache is optional; without it readers fall back to the store.
	var (
		priceWriter reconcile.PriceCache
		priceReader api.PriceReader
	)
	if cfg.Redis.Addr != "" {
		priceCache, err := cache.NewRedis(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.PriceTTL,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("Price cache unavailable, continuing without it")
		} else {
			defer priceCache.Close()
			priceWriter, priceReader = priceCache, priceCache
			checker.Optional("redis", priceCache)
		}
	}

	var pub publisher.Publisher = publisher.NewLog(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		pub = publisher.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.SignalTopic, logger)
	}
	defer pub.Close()

	keywords := config.DefaultKeywords
	if cfg.NewsKeywordsFile != "" {
		loaded, err := config.LoadKeywordsFile(cfg.NewsKeywordsFile)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load news keywords")
		}
		keywords = loaded
	}
	resolver := config.NewResolver(cfg.ServiceName, repo, keywords, logger)

	// Initialize services
	newsClient := newsapi.NewClient(cfg.NewsAPI, logger)
	newsService := news.NewService(repo, newsClient, resolver, news.NewVaderScorer(), pub, logger)
	reconciler := reconcile.New(repo, priceWriter, logger)
	reg := registry.New(repo, exchange.DefaultTable, logger)

	sched := scheduler.NewScheduler(reg, reconciler, repo, scheduler.Config{
		ReloadInterval:  cfg.SchedulerReloadInterval,
		JobTimeout:      cfg.JobTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		RunOnAdd:        cfg.RunOnStart,
	}, logger)

	if cfg.NewsAPI.APIKey == "" {
		logger.Warn("NEWSAPI_KEY not set, news ingestion disabled")
	} else if err := sched.AddSystemJob("news_ingest", cfg.NewsIngestInterval, func(ctx context.Context) error {
		_, err := newsService.Ingest(ctx)
		return err
	}); err != nil {
		logger.WithError(err).Fatal("Failed to schedule news ingestion")
	}
	if err := sched.AddSystemJob("news_backfill", cfg.NewsBackfillInterval, func(ctx context.Context) error {
		_, err := newsService.Backfill(ctx)
		return err
	}); err != nil {
		logger.WithError(err).Fatal("Failed to schedule news backfill")
	}
	if err := sched.AddSystemJob("news_signal", cfg.NewsSignalInterval, func(ctx context.Context) error {
		_, err := newsService.PublishSignal(ctx)
		return err
	}); err != nil {
		logger.WithError(err).Fatal("Failed to schedule sentiment signal")
	}

	var started atomic.Bool
	checker.SetReady(started.Load)

	server := api.NewServer(api.Config{
		Port:           cfg.APIPort,
		RequestTimeout: cfg.APITimeout,
	}, repo, priceReader, sched, newsService, checker, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		started.Store(true)
		logger.Info("Ingest service started successfully")
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down ingest service...")

		if err := sched.Stop(); err != nil {
			logger.WithError(err).Error("Scheduler did not stop cleanly")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown API server gracefully")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Ingest service exited with error")
	}
	logger.Info("Ingest service stopped")
}
