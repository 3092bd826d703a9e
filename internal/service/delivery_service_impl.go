package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jnst/asset-delivery-engine/internal/audit"
	"github.com/jnst/asset-delivery-engine/internal/backend"
	"github.com/jnst/asset-delivery-engine/internal/events"
	"github.com/jnst/asset-delivery-engine/internal/executor"
	"github.com/jnst/asset-delivery-engine/internal/logger"
	"github.com/jnst/asset-delivery-engine/internal/metrics"
	"github.com/jnst/asset-delivery-engine/internal/model"
	"github.com/jnst/asset-delivery-engine/internal/repository"
	"github.com/jnst/asset-delivery-engine/internal/validation"
	"github.com/jnst/asset-delivery-engine/internal/vault"
)

const (
	recipientLogLength = 30
	errorDetailLength  = 200
)

// RateLimiter grants one slot per accepted order.
type RateLimiter interface {
	TryAcquire() bool
}

// HealthReader exposes the latest health sample.
type HealthReader interface {
	Health() model.HealthSnapshot
}

// CredentialSource hands out decrypted wallet material for one transfer attempt.
type CredentialSource interface {
	Credential() (*vault.Credential, error)
}

// Transferer executes a transfer with retries, opening a credential per attempt.
type Transferer interface {
	Execute(ctx context.Context, order *model.DeliveryOrder, creds executor.CredentialSource) (*model.DeliveryReceipt, error)
}

// DeliveryDeps collects the collaborators of DeliveryServiceImpl.
type DeliveryDeps struct {
	Validator   *validation.Validator
	Limiter     RateLimiter
	Health      HealthReader
	Credentials CredentialSource
	Executor    Transferer
	Receipts    repository.ReceiptRepository
	Audit       *audit.Log
	Metrics     *metrics.Recorder
	// Lifecycle is shared with the health monitor so subscribers see every alert kind.
	Lifecycle *events.Hub[model.LifecycleEvent]
	Logger    *slog.Logger

	Network                string
	AllowSimulatedFallback bool
}

// DeliveryServiceImpl runs the per-order pipeline:
// validate, dedupe, rate check, health gate, transfer, then record.
type DeliveryServiceImpl struct {
	validator *validation.Validator
	limiter   RateLimiter
	health    HealthReader
	creds     CredentialSource
	executor  Transferer
	receipts  repository.ReceiptRepository
	audit     *audit.Log
	metrics   *metrics.Recorder
	lifecycle *events.Hub[model.LifecycleEvent]
	logger    *slog.Logger
	now       func() time.Time

	network  string
	fallback bool

	mu      sync.Mutex
	flights map[string]*flight
	// unsaved holds receipts of completed transfers the store has not accepted yet.
	unsaved map[string]*model.DeliveryReceipt
}

// flight is one pipeline run shared by every concurrent caller of an order.
// ctx is cancelled once no caller is waiting with a live context.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
	done    chan struct{}
	receipt *model.DeliveryReceipt
	err     error
}

// NewDeliveryServiceImpl creates a new DeliveryService implementation.
func NewDeliveryServiceImpl(deps DeliveryDeps) DeliveryService {
	lifecycle := deps.Lifecycle
	if lifecycle == nil {
		lifecycle = events.NewHub[model.LifecycleEvent]()
	}

	s := &DeliveryServiceImpl{
		validator: deps.Validator,
		limiter:   deps.Limiter,
		health:    deps.Health,
		creds:     deps.Credentials,
		executor:  deps.Executor,
		receipts:  deps.Receipts,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		lifecycle: lifecycle,
		logger:    logger.Or(deps.Logger),
		now:       time.Now,
		network:   deps.Network,
		fallback:  deps.AllowSimulatedFallback,
		flights:   make(map[string]*flight),
		unsaved:   make(map[string]*model.DeliveryReceipt),
	}

	if s.fallback {
		s.logger.Warn("simulated receipt fallback is ENABLED: failed transfers will return unpersisted simulated receipts",
			slog.String("network", s.network))
	}

	return s
}

// RequestDelivery delivers an order at most once.
//
// A completed order returns its receipt without touching the backend, the rate limit or the
// audit log. Concurrent calls for one order share a single pipeline run. Retries stop once every
// caller waiting on that run has cancelled its ctx; the call still returns the run's outcome.
func (s *DeliveryServiceImpl) RequestDelivery(
	ctx context.Context, order *model.DeliveryOrder,
) (*model.DeliveryReceipt, error) {
	s.transition(order.OrderID, model.StateReceived)
	if err := s.validator.Validate(order); err != nil {
		s.logger.Info("delivery rejected",
			slog.String("order_id", order.OrderID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.transition(order.OrderID, model.StateValidated)

	f, leader := s.join(ctx, order.OrderID)
	if f == nil {
		return nil, ctx.Err()
	}
	if ctx.Err() != nil {
		s.leave(f)
	} else {
		stop := context.AfterFunc(ctx, func() { s.leave(f) })
		defer func() {
			if stop() {
				s.leave(f)
			}
		}()
	}

	if leader {
		go s.run(f, order)
	} else {
		s.logger.Debug("joined in-flight delivery", slog.String("order_id", order.OrderID))
	}

	<-f.done
	return f.receipt, f.err
}

// join registers the caller on the live flight of orderID, creating it when none exists.
// A flight whose callers have all gone is left to finish before a new one starts.
func (s *DeliveryServiceImpl) join(ctx context.Context, orderID string) (*flight, bool) {
	for {
		s.mu.Lock()
		f, ok := s.flights[orderID]
		if ok && f.ctx.Err() != nil {
			s.mu.Unlock()
			select {
			case <-f.done:
				continue
			case <-ctx.Done():
				return nil, false
			}
		}
		if !ok {
			runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			f = &flight{ctx: runCtx, cancel: cancel, done: make(chan struct{})}
			s.flights[orderID] = f
		}
		f.waiters++
		s.mu.Unlock()

		return f, !ok
	}
}

func (s *DeliveryServiceImpl) leave(f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.waiters--
	if f.waiters == 0 {
		f.cancel()
	}
}

func (s *DeliveryServiceImpl) run(f *flight, order *model.DeliveryOrder) {
	f.receipt, f.err = s.deliver(f.ctx, order)

	s.mu.Lock()
	if s.flights[order.OrderID] == f {
		delete(s.flights, order.OrderID)
	}
	s.mu.Unlock()

	f.cancel()
	close(f.done)
}

// deliver runs the pipeline. ctx only gates retries; store and audit writes outlive it.
func (s *DeliveryServiceImpl) deliver(ctx context.Context, order *model.DeliveryOrder) (*model.DeliveryReceipt, error) {
	storeCtx := context.WithoutCancel(ctx)

	if pending, ok := s.unsavedReceipt(order.OrderID); ok {
		s.logger.Info("delivery already completed, receipt not yet stored", slog.String("order_id", order.OrderID))
		s.persist(storeCtx, pending)
		return pending, nil
	}

	existing, err := s.receipts.GetByOrderID(storeCtx, order.OrderID)
	if err == nil {
		s.logger.Info("delivery already completed",
			slog.String("order_id", order.OrderID),
			slog.Int("attempts", existing.AttemptCount),
		)
		return existing, nil
	}
	if !errors.Is(err, model.ErrReceiptNotFound) {
		return nil, fmt.Errorf("failed to check existing receipt: %w", err)
	}

	if !s.limiter.TryAcquire() {
		s.fail(ctx, order.OrderID, "rate limit exceeded")
		return nil, model.ErrRateLimited
	}
	s.transition(order.OrderID, model.StateRateChecked)

	if h := s.health.Health(); !h.Healthy {
		s.fail(ctx, order.OrderID, "service unhealthy: "+h.Reason)
		return nil, model.ErrServiceUnhealthy
	}

	unitAmount := s.validator.UnitAmount(order)
	s.audit.Record(ctx, model.AuditInitiated, order.OrderID, fmt.Sprintf("recipient=%s unit_amount=%d network=%s",
		logger.Truncate(order.RecipientInvoice, recipientLogLength), unitAmount, s.network))
	s.transition(order.OrderID, model.StateTransferring)

	start := s.now()
	receipt, err := s.executor.Execute(ctx, order, s.creds)
	latency := s.now().Sub(start)
	if errors.Is(err, executor.ErrCredentialUnavailable) {
		s.fail(ctx, order.OrderID, "credential unavailable")
		return nil, err
	}
	if err != nil {
		return s.transferFailed(ctx, order, unitAmount, latency, err)
	}

	s.mu.Lock()
	s.unsaved[order.OrderID] = receipt
	s.mu.Unlock()
	receipt = s.persist(storeCtx, receipt)

	s.metrics.RecordSuccess(receipt.UnitAmount, latency)
	s.audit.Record(ctx, model.AuditCompleted, order.OrderID, fmt.Sprintf("attempts=%d unit_amount=%d duration_ms=%d",
		receipt.AttemptCount, receipt.UnitAmount, latency.Milliseconds()))
	s.transition(order.OrderID, model.StateCompleted)

	s.logger.Info("delivery completed",
		slog.String("order_id", order.OrderID),
		slog.Int64("unit_amount", receipt.UnitAmount),
		slog.Int("attempts", receipt.AttemptCount),
		slog.Duration("duration", latency),
	)

	return receipt, nil
}

func (s *DeliveryServiceImpl) unsavedReceipt(orderID string) (*model.DeliveryReceipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.unsaved[orderID]
	return r, ok
}

// persist stores receipt and returns the stored copy. On failure the receipt stays in the
// unsaved set so the order is never transferred again by this process.
func (s *DeliveryServiceImpl) persist(ctx context.Context, receipt *model.DeliveryReceipt) *model.DeliveryReceipt {
	stored, inserted, err := s.receipts.Save(ctx, receipt)
	if err != nil {
		s.logger.Error("failed to persist receipt",
			slog.String("order_id", receipt.OrderID),
			slog.String("error", err.Error()),
		)
		return receipt
	}

	s.mu.Lock()
	delete(s.unsaved, receipt.OrderID)
	s.mu.Unlock()

	if !inserted {
		s.logger.Warn("receipt already stored by another writer", slog.String("order_id", receipt.OrderID))
		return stored
	}

	return receipt
}

func (s *DeliveryServiceImpl) transferFailed(
	ctx context.Context, order *model.DeliveryOrder, unitAmount int64, latency time.Duration, err error,
) (*model.DeliveryReceipt, error) {
	attempts := 0
	if tf, ok := model.IsTransferFailed(err); ok {
		attempts = tf.Attempts
	}

	s.metrics.RecordFailure(latency)
	detail := fmt.Sprintf("attempts=%d error=%s", attempts, logger.Truncate(err.Error(), errorDetailLength))
	if s.fallback {
		detail += " fallback=simulated"
	}
	s.fail(ctx, order.OrderID, detail)

	s.lifecycle.Publish(model.LifecycleEvent{
		Kind:       model.LifecycleTransferError,
		OrderID:    order.OrderID,
		Error:      err.Error(),
		OccurredAt: s.now().UTC(),
	})

	if !s.fallback {
		return nil, err
	}

	s.logger.Error("issuing SIMULATED receipt after failed transfer",
		slog.String("order_id", order.OrderID),
		slog.String("network", s.network),
		slog.String("error", err.Error()),
	)

	payload, encErr := backend.NewSimulatedConsignment(s.network, order.OrderID, order.UnitCount, unitAmount, s.now())
	if encErr != nil {
		return nil, errors.Join(err, encErr)
	}

	return &model.DeliveryReceipt{
		OrderID:       order.OrderID,
		PayloadBase64: payload,
		UnitAmount:    unitAmount,
		CompletedAt:   s.now().UTC(),
		AttemptCount:  attempts,
		Simulated:     true,
	}, nil
}

func (s *DeliveryServiceImpl) fail(ctx context.Context, orderID, detail string) {
	s.audit.Record(ctx, model.AuditFailed, orderID, detail)
	s.transition(orderID, model.StateFailed)
}

func (s *DeliveryServiceImpl) transition(orderID string, state model.DeliveryState) {
	s.logger.Debug("delivery state", slog.String("order_id", orderID), slog.String("state", string(state)))
}

// GetDelivery returns the receipt of a completed order, including one the store has not accepted yet.
func (s *DeliveryServiceImpl) GetDelivery(ctx context.Context, orderID string) (*model.DeliveryReceipt, error) {
	if r, ok := s.unsavedReceipt(orderID); ok {
		return r, nil
	}

	return s.receipts.GetByOrderID(ctx, orderID)
}

// GetHealth returns the latest health sample.
func (s *DeliveryServiceImpl) GetHealth() model.HealthSnapshot {
	return s.health.Health()
}

// GetMetrics returns a snapshot of the delivery counters.
func (s *DeliveryServiceImpl) GetMetrics() model.Metrics {
	return s.metrics.Snapshot()
}

// OnAudit subscribes to audit records.
func (s *DeliveryServiceImpl) OnAudit(handler func(model.AuditRecord)) (unsubscribe func()) {
	return s.audit.OnAudit(handler)
}

// OnLifecycle subscribes to LowBalance, Unhealthy and TransferError events.
func (s *DeliveryServiceImpl) OnLifecycle(handler func(model.LifecycleEvent)) (unsubscribe func()) {
	return s.lifecycle.Subscribe(handler)
}
