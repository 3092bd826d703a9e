// Package health samples backend balance and liveness on a fixed timer.
package health

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jnst/asset-delivery-engine/internal/backend"
	"github.com/jnst/asset-delivery-engine/internal/events"
	"github.com/jnst/asset-delivery-engine/internal/logger"
	"github.com/jnst/asset-delivery-engine/internal/model"
	"github.com/jnst/asset-delivery-engine/internal/vault"
)

const (
	DefaultInterval            = time.Minute
	DefaultTimeout             = 30 * time.Second
	DefaultLowBalanceThreshold = int64(100000)
)

const reasonNotSampled = "not sampled yet"

// CredentialSource hands out decrypted wallet material. *vault.Vault implements it.
type CredentialSource interface {
	Credential() (*vault.Credential, error)
}

// Config holds monitor tunables.
type Config struct {
	Interval            time.Duration
	Timeout             time.Duration
	LowBalanceThreshold int64
	Network             string
}

// Monitor holds the latest HealthSnapshot. It reports unhealthy until the first successful sample.
type Monitor struct {
	backend backend.TransferBackend
	creds   CredentialSource
	cfg     Config
	events  *events.Hub[model.LifecycleEvent]
	logger  *slog.Logger
	now     func() time.Time

	snapshot atomic.Pointer[model.HealthSnapshot]
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithEvents publishes lifecycle events to hub instead of a private one.
func WithEvents(hub *events.Hub[model.LifecycleEvent]) Option {
	return func(m *Monitor) {
		m.events = hub
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// WithClock overrides the sample timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// NewMonitor creates a Monitor. Zero Config fields take the package defaults.
func NewMonitor(b backend.TransferBackend, creds CredentialSource, cfg Config, opts ...Option) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LowBalanceThreshold <= 0 {
		cfg.LowBalanceThreshold = DefaultLowBalanceThreshold
	}

	m := &Monitor{
		backend: b,
		creds:   creds,
		cfg:     cfg,
		events:  events.NewHub[model.LifecycleEvent](),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.Or(m.logger)

	m.snapshot.Store(&model.HealthSnapshot{
		Network: cfg.Network,
		Reason:  reasonNotSampled,
	})

	return m
}

// Health returns the latest snapshot.
func (m *Monitor) Health() model.HealthSnapshot {
	return *m.snapshot.Load()
}

// Healthy reports whether new deliveries may start.
func (m *Monitor) Healthy() bool {
	return m.snapshot.Load().Healthy
}

// OnLifecycle subscribes to LowBalance and Unhealthy events.
func (m *Monitor) OnLifecycle(handler func(model.LifecycleEvent)) (unsubscribe func()) {
	return m.events.Subscribe(handler)
}

// Run samples immediately, then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("health monitor started", slog.Duration("interval", m.cfg.Interval))
	m.CheckNow(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow takes one sample, stores it and raises the matching events.
func (m *Monitor) CheckNow(ctx context.Context) model.HealthSnapshot {
	now := m.now().UTC()

	balance, err := m.sample(ctx)
	if err != nil {
		snap := model.HealthSnapshot{
			Healthy:   false,
			Network:   m.cfg.Network,
			Reason:    err.Error(),
			SampledAt: now,
		}
		m.snapshot.Store(&snap)

		m.logger.Error("health check failed", slog.String("error", err.Error()))
		m.events.Publish(model.LifecycleEvent{
			Kind:       model.LifecycleUnhealthy,
			Error:      err.Error(),
			OccurredAt: now,
		})

		return snap
	}

	snap := model.HealthSnapshot{
		Healthy:          true,
		AvailableBalance: balance,
		Network:          m.cfg.Network,
		SampledAt:        now,
	}
	m.snapshot.Store(&snap)

	m.logger.Debug("health check passed", slog.Int64("balance", balance))
	if balance < m.cfg.LowBalanceThreshold {
		m.logger.Warn("low balance",
			slog.Int64("balance", balance),
			slog.Int64("threshold", m.cfg.LowBalanceThreshold),
		)
		m.events.Publish(model.LifecycleEvent{
			Kind:       model.LifecycleLowBalance,
			Balance:    balance,
			OccurredAt: now,
		})
	}

	return snap
}

func (m *Monitor) sample(ctx context.Context) (int64, error) {
	cred, err := m.creds.Credential()
	if err != nil {
		return 0, err
	}
	defer cred.Zero()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	return m.backend.Balance(ctx, cred.Bytes())
}
