// Package main provides the HTTP host of the asset delivery engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/rueidis"
	"golang.org/x/sync/errgroup"

	"github.com/jnst/asset-delivery-engine/internal/audit"
	"github.com/jnst/asset-delivery-engine/internal/backend"
	"github.com/jnst/asset-delivery-engine/internal/config"
	"github.com/jnst/asset-delivery-engine/internal/events"
	"github.com/jnst/asset-delivery-engine/internal/executor"
	"github.com/jnst/asset-delivery-engine/internal/health"
	"github.com/jnst/asset-delivery-engine/internal/logger"
	"github.com/jnst/asset-delivery-engine/internal/metrics"
	"github.com/jnst/asset-delivery-engine/internal/model"
	"github.com/jnst/asset-delivery-engine/internal/ratelimit"
	"github.com/jnst/asset-delivery-engine/internal/repository"
	"github.com/jnst/asset-delivery-engine/internal/service"
	"github.com/jnst/asset-delivery-engine/internal/validation"
	"github.com/jnst/asset-delivery-engine/internal/vault"
)

const (
	signalBufferSize = 1
	exitCode         = 1
	shutdownTimeout  = 10 * time.Second
	readHeaderLimit  = 5 * time.Second
)

func setupSignalHandling(l *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		l.Info("shutdown signal received", slog.String("signal", sig.String()))
		cancel()
	}()

	return ctx, cancel
}

func setupSnapshotStore(cfg *config.Config, l *slog.Logger) (metrics.SnapshotStore, func(), error) {
	if cfg.MetricsBackend != config.MetricsBackendRedis {
		return metrics.NewFileSnapshotStore(cfg.MetricsSnapshotPath, l), func() {}, nil
	}

	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return metrics.NewRedisSnapshotStore(redisClient, cfg.MetricsRedisKey, l), redisClient.Close, nil
}

func setupAuditLog(
	ctx context.Context, cfg *config.Config, store repository.Store, l *slog.Logger,
) (*audit.Log, func(), error) {
	appenders := []audit.Appender{store}
	closeFn := func() {}

	if cfg.AuditFile != "" {
		file, err := audit.OpenFile(cfg.AuditFile)
		if err != nil {
			return nil, nil, err
		}
		appenders = append(appenders, file)
		closeFn = func() { file.Close() }
	}

	lastSeq, err := store.LastSeq(ctx)
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	return audit.New(appenders, audit.WithStartSeq(lastSeq), audit.WithLogger(l)), closeFn, nil
}

func logLifecycle(l *slog.Logger) func(model.LifecycleEvent) {
	return func(e model.LifecycleEvent) {
		attrs := []any{slog.String("kind", string(e.Kind))}
		if e.OrderID != "" {
			attrs = append(attrs, slog.String("order_id", e.OrderID))
		}
		if e.Kind == model.LifecycleLowBalance {
			attrs = append(attrs, slog.Int64("balance", e.Balance))
		}
		if e.Error != "" {
			attrs = append(attrs, slog.String("error", e.Error))
		}
		l.Warn("lifecycle alert", attrs...)
	}
}

func run(cfg *config.Config, l *slog.Logger) error {
	passphrase := cfg.TakePassphrase()
	if err := cfg.Validate(); err != nil {
		return err
	}

	blob, err := cfg.EncryptedBlob()
	if err != nil {
		return err
	}

	v := vault.New(blob, passphrase)
	if err := v.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock credential vault: %w", err)
	}

	ctx, cancel := setupSignalHandling(l)
	defer cancel()

	store, err := repository.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	auditLog, closeAudit, err := setupAuditLog(ctx, cfg, store, l)
	if err != nil {
		return err
	}
	defer closeAudit()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	snapshots, closeSnapshots, err := setupSnapshotStore(cfg, l)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	if restored, err := metrics.RestoreFrom(ctx, snapshots, recorder); err != nil {
		l.Warn("failed to restore metrics snapshot", slog.String("error", err.Error()))
	} else if restored {
		l.Info("metrics snapshot restored", slog.Int64("total_attempts", recorder.Snapshot().TotalAttempts))
	}

	rgb := backend.NewCLIBackend(backend.CLIConfig{
		Binary:     cfg.RGBBinary,
		Network:    cfg.RGBNetwork,
		WalletName: cfg.RGBWalletName,
		ContractID: cfg.RGBContractID,
		DataDir:    cfg.RGBDataDir,
	}, l)

	lifecycle := events.NewHub[model.LifecycleEvent]()
	monitor := health.NewMonitor(rgb, v, health.Config{
		Interval:            cfg.HealthCheckInterval,
		Timeout:             cfg.BackendTimeout,
		LowBalanceThreshold: cfg.LowBalanceThreshold,
		Network:             cfg.RGBNetwork,
	}, health.WithEvents(lifecycle), health.WithLogger(l))

	exec := executor.New(rgb, executor.Config{
		MaxAttempts:     cfg.RetryAttempts,
		BaseDelay:       cfg.RetryBaseDelay,
		Timeout:         cfg.BackendTimeout,
		MinArtifactSize: cfg.MinArtifactSize,
		UnitsPerOrder:   cfg.UnitsPerOrder,
		ScratchDir:      cfg.ScratchDir,
	}, executor.WithLogger(l))

	deliveryService := service.NewDeliveryServiceImpl(service.DeliveryDeps{
		Validator: validation.NewValidator(validation.Rules{
			Prefix:                 cfg.InvoicePrefix,
			Infix:                  cfg.InvoiceInfix,
			UnitsPerOrder:          cfg.UnitsPerOrder,
			MaxUnitsPerTransaction: cfg.MaxUnitsPerTransaction,
		}),
		Limiter:                ratelimit.NewHourlyLimiter(cfg.RateLimitPerHour),
		Health:                 monitor,
		Credentials:            v,
		Executor:               exec,
		Receipts:               store,
		Audit:                  auditLog,
		Metrics:                recorder,
		Lifecycle:              lifecycle,
		Logger:                 l,
		Network:                cfg.RGBNetwork,
		AllowSimulatedFallback: cfg.AllowSimulatedFallback,
	})
	deliveryService.OnLifecycle(logLifecycle(l))

	server := NewAPIServer(deliveryService, l)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: readHeaderLimit,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		l.Info("starting API server",
			slog.String("service", "api"),
			slog.String("port", cfg.Port),
			slog.String("network", cfg.RGBNetwork),
			slog.String("store", cfg.StoreDriver),
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	if err := snapshots.Save(context.Background(), recorder.Snapshot()); err != nil {
		l.Error("failed to persist metrics snapshot", slog.String("error", err.Error()))
	} else {
		l.Info("metrics snapshot persisted")
	}

	return runErr
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
		loggerInstance.Error("api server stopped", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
}
