// Package executor runs transfers against the backend with bounded, linearly spaced retries.
package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/asset-delivery-engine/internal/backend"
	"github.com/jnst/asset-delivery-engine/internal/logger"
	"github.com/jnst/asset-delivery-engine/internal/model"
	"github.com/jnst/asset-delivery-engine/internal/vault"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultMaxAttempts     = 3
	DefaultBaseDelay       = time.Second
	DefaultTimeout         = 30 * time.Second
	DefaultMinArtifactSize = 100
	DefaultUnitsPerOrder   = 700
)

var (
	// ErrArtifactTooSmall is returned when the encoded artifact is below the plausible minimum.
	ErrArtifactTooSmall = errors.New("consignment too small, possibly corrupted")
	// ErrCredentialUnavailable is returned without retrying when the wallet credential cannot be opened.
	ErrCredentialUnavailable = errors.New("credential unavailable")
)

var (
	unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

	idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:asset-delivery-engine:transfer"))
)

// CredentialSource hands out decrypted wallet material. *vault.Vault implements it.
type CredentialSource interface {
	Credential() (*vault.Credential, error)
}

// IdempotencyKey returns the backend deduplication token of an order. It is the same for every
// attempt and every process.
func IdempotencyKey(orderID string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(orderID)).String()
}

// Config holds the retry and artifact policy.
type Config struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	Timeout         time.Duration
	MinArtifactSize int
	UnitsPerOrder   int64
	ScratchDir      string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MinArtifactSize <= 0 {
		c.MinArtifactSize = DefaultMinArtifactSize
	}
	if c.UnitsPerOrder <= 0 {
		c.UnitsPerOrder = DefaultUnitsPerOrder
	}
	if c.ScratchDir == "" {
		c.ScratchDir = os.TempDir()
	}
	return c
}

// Executor converts an order into a DeliveryReceipt. Safe for concurrent use.
type Executor struct {
	backend backend.TransferBackend
	cfg     Config
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep replaces the delay between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithClock overrides the receipt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// New creates an Executor.
func New(b backend.TransferBackend, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		backend: b,
		cfg:     cfg.withDefaults(),
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.Or(e.logger)

	return e
}

// MaxAttempts returns the configured attempt ceiling.
func (e *Executor) MaxAttempts() int {
	return e.cfg.MaxAttempts
}

// Execute transfers order.UnitCount*UnitsPerOrder units to the recipient.
//
// Attempts are sequential and share one idempotency key. The delay before attempt n+1 is
// BaseDelay*n. Cancelling ctx stops further attempts but never aborts a backend
// call already issued; each call is bounded by Config.Timeout instead. A credential is
// opened for each attempt and wiped when the attempt ends.
func (e *Executor) Execute(
	ctx context.Context, order *model.DeliveryOrder, creds CredentialSource,
) (*model.DeliveryReceipt, error) {
	unitAmount := order.UnitCount * e.cfg.UnitsPerOrder
	key := IdempotencyKey(order.OrderID)

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		payload, err := e.attempt(ctx, order, unitAmount, key, creds)
		if errors.Is(err, ErrCredentialUnavailable) {
			return nil, err
		}
		if err == nil {
			return &model.DeliveryReceipt{
				OrderID:       order.OrderID,
				PayloadBase64: payload,
				UnitAmount:    unitAmount,
				CompletedAt:   e.now().UTC(),
				AttemptCount:  attempt,
			}, nil
		}

		lastErr = err
		e.logger.Warn("transfer attempt failed",
			slog.String("order_id", order.OrderID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.cfg.MaxAttempts),
			slog.String("error", err.Error()),
		)

		if attempt == e.cfg.MaxAttempts {
			break
		}

		if err := e.sleep(ctx, e.cfg.BaseDelay*time.Duration(attempt)); err != nil {
			return nil, &model.TransferFailedError{Attempts: attempt, Err: errors.Join(lastErr, err)}
		}
	}

	return nil, &model.TransferFailedError{Attempts: e.cfg.MaxAttempts, Err: lastErr}
}

func (e *Executor) attempt(
	ctx context.Context, order *model.DeliveryOrder, unitAmount int64, key string, creds CredentialSource,
) (string, error) {
	cred, err := creds.Credential()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}
	defer cred.Zero()

	path := filepath.Join(e.cfg.ScratchDir,
		fmt.Sprintf("consignment_%s_%s.rgb", unsafeFileChars.ReplaceAllString(order.OrderID, "_"), uuid.NewString()))
	defer e.cleanup(path)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Timeout)
	defer cancel()

	err = e.backend.Transfer(callCtx, backend.TransferRequest{
		OrderID:        order.OrderID,
		Recipient:      order.RecipientInvoice,
		UnitAmount:     unitAmount,
		ArtifactPath:   path,
		IdempotencyKey: key,
		Credential:     cred.Bytes(),
	})
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read consignment: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	if len(encoded) < e.cfg.MinArtifactSize {
		return "", fmt.Errorf("%w: %d bytes encoded", ErrArtifactTooSmall, len(encoded))
	}

	return encoded, nil
}

func (e *Executor) cleanup(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Error("failed to remove scratch consignment",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
