package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/shubhsaxena/event-search-service/internal/api"
	"github.com/shubhsaxena/event-search-service/internal/cache"
	"github.com/shubhsaxena/event-search-service/internal/clickhouse"
	"github.com/shubhsaxena/event-search-service/internal/config"
	"github.com/shubhsaxena/event-search-service/internal/elasticsearch"
	"github.com/shubhsaxena/event-search-service/internal/index"
	"github.com/shubhsaxena/event-search-service/internal/indexing"
	"github.com/shubhsaxena/event-search-service/internal/kafka"
	"github.com/shubhsaxena/event-search-service/internal/observability"
	"github.com/shubhsaxena/event-search-service/internal/search"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	shutdownTracer, err := observability.InitTracer(cfg.Observability.ServiceName)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisCache, err := cache.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisCache.Close()

	esClient, err := elasticsearch.NewClient(cfg.Elasticsearch, cfg.Search, logger)
	if err != nil {
		return fmt.Errorf("connecting to elasticsearch: %w", err)
	}
	if err := esClient.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensuring index: %w", err)
	}

	// Analytics sink is optional: the serving path works without it.
	var (
		changelog  index.ChangelogWriter
		perfWriter observability.PerformanceWriter
		chClient   *clickhouse.Client
	)
	chClient, err = clickhouse.NewClient(cfg.ClickHouse, logger)
	if err != nil {
		logger.Warn("clickhouse unavailable, analytics disabled", zap.Error(err))
	} else {
		defer chClient.Close()
		if err := chClient.EnsureTables(ctx); err != nil {
			logger.Warn("clickhouse table setup failed, analytics disabled", zap.Error(err))
		} else {
			changelog = chClient
			perfWriter = chClient
		}
	}

	slowQueries := observability.NewSlowQueryDetector(
		cfg.Search.SlowQuery.WarningThreshold,
		cfg.Search.SlowQuery.CriticalThreshold,
		logger,
		perfWriter,
	)

	indexSvc := index.NewService(esClient, redisCache, changelog, logger)
	searchSvc := search.NewService(esClient, redisCache, cfg.Redis.TTL, slowQueries, logger)

	processor := indexing.NewProcessor(indexSvc, logger)
	consumer := kafka.NewConsumer(cfg.Kafka, processor, logger)
	consumer.Start(ctx)

	health := api.NewHealthChecker()
	health.Register("elasticsearch", func(ctx context.Context) error {
		status, err := esClient.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if status == "red" {
			return fmt.Errorf("cluster status red")
		}
		return nil
	})
	health.Register("redis", redisCache.HealthCheck)
	health.Register("kafka", consumer.HealthCheck)
	if changelog != nil {
		health.Register("clickhouse", chClient.HealthCheck)
	}

	handlers := api.NewHandlers(searchSvc, indexSvc, logger)
	router := api.NewRouter(handlers, health, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer shutdown", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
