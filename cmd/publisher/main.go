// Package main provides the audit relay that polls unpublished audit records and publishes them to Redis Streams.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/rueidis"

	"github.com/jnst/asset-delivery-engine/internal/config"
	"github.com/jnst/asset-delivery-engine/internal/logger"
	"github.com/jnst/asset-delivery-engine/internal/repository"
	"github.com/jnst/asset-delivery-engine/internal/service"
)

const (
	signalBufferSize = 1
	exitCode         = 1
)

func setupPublisherRedisClient(cfg *config.Config) (rueidis.Client, error) {
	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return nil, err
	}

	return redisClient, nil
}

func setupPublisherSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping publisher")
		cancel()
	}()

	return ctx, cancel
}

func runPublisherLoop(
	ctx context.Context,
	relayService service.AuditRelayService,
	pollInterval time.Duration,
	batchSize int,
) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("publisher stopped")
			return
		case <-ticker.C:
			n, err := relayService.ProcessUnpublishedRecords(ctx, batchSize)
			if err != nil {
				slog.Error("error processing audit records", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				slog.Info("relayed audit records", slog.Int("count", n))
			}
		}
	}
}

func validatePublisherConfig(cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreDriverMemory {
		return fmt.Errorf("publisher needs a durable STORE_DRIVER, got %q", cfg.StoreDriver)
	}
	if cfg.PublisherPollInterval <= 0 {
		return fmt.Errorf("PUBLISHER_POLL_INTERVAL must be positive, got %s", cfg.PublisherPollInterval)
	}
	if cfg.PublisherBatchSize <= 0 {
		return fmt.Errorf("PUBLISHER_BATCH_SIZE must be positive, got %d", cfg.PublisherBatchSize)
	}

	return nil
}

func run(cfg *config.Config, l *slog.Logger) error {
	if err := validatePublisherConfig(cfg); err != nil {
		return err
	}

	ctx, cancel := setupPublisherSignalHandling()
	defer cancel()

	store, err := repository.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient, err := setupPublisherRedisClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	relayService := service.NewAuditRelayServiceImpl(
		store, store, service.NewRedisStreamPublisher(redisClient, cfg.AuditStream), l)

	l.Info("starting audit publisher",
		slog.String("service", "publisher"),
		slog.String("stream", cfg.AuditStream),
		slog.Duration("poll_interval", cfg.PublisherPollInterval),
		slog.Int("batch_size", cfg.PublisherBatchSize),
	)

	runPublisherLoop(ctx, relayService, cfg.PublisherPollInterval, cfg.PublisherBatchSize)

	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	loggerInstance := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(loggerInstance)

	if err := run(cfg, loggerInstance); err != nil {
		loggerInstance.Error("publisher stopped", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
}
