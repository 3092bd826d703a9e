package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/asset-delivery-engine/internal/backend"
	"github.com/jnst/asset-delivery-engine/internal/model"
	"github.com/jnst/asset-delivery-engine/internal/vault"
)

type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newOrder() *model.DeliveryOrder {
	return &model.DeliveryOrder{
		OrderID:          "O1",
		RecipientInvoice: "proto:marker-utxob:abcdefghijklmnop",
		UnitCount:        5,
	}
}

func newExecutor(t *testing.T, b backend.TransferBackend, sleeps *recordedSleep) (*Executor, string) {
	t.Helper()
	scratch := t.TempDir()
	e := New(b, Config{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		Timeout:       time.Second,
		UnitsPerOrder: 700,
		ScratchDir:    scratch,
	}, WithSleep(sleeps.sleep))
	return e, scratch
}

type countingCreds struct {
	mu     sync.Mutex
	issued []*vault.Credential
	err    error
}

func (c *countingCreds) Credential() (*vault.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	cred := vault.NewCredential([]byte("hunter2"))
	c.issued = append(c.issued, cred)
	return cred, nil
}

func (c *countingCreds) wiped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cred := range c.issued {
		if cred.Bytes() != nil {
			return false
		}
	}
	return true
}

func credential() *countingCreds {
	return &countingCreds{}
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch artifacts must be removed")
}

func TestExecute_FirstAttemptSucceeds(t *testing.T) {
	fake := backend.NewFakeBackend(0)
	sleeps := &recordedSleep{}
	e, scratch := newExecutor(t, fake, sleeps)

	receipt, err := e.Execute(context.Background(), newOrder(), credential())
	require.NoError(t, err)

	assert.Equal(t, "O1", receipt.OrderID)
	assert.Equal(t, 1, receipt.AttemptCount)
	assert.Equal(t, int64(3500), receipt.UnitAmount)
	assert.False(t, receipt.CompletedAt.IsZero())

	raw, err := base64.StdEncoding.DecodeString(receipt.PayloadBase64)
	require.NoError(t, err)
	var artifact map[string]any
	require.NoError(t, json.Unmarshal(raw, &artifact))
	assert.Equal(t, float64(3500), artifact["unit_amount"])

	assert.Empty(t, sleeps.delays)
	assertScratchEmpty(t, scratch)
}

func TestExecute_RetryExhaustion(t *testing.T) {
	fake := backend.NewFakeBackend(0)
	fake.FailAlways(nil)
	sleeps := &recordedSleep{}
	e, scratch := newExecutor(t, fake, sleeps)

	receipt, err := e.Execute(context.Background(), newOrder(), credential())
	assert.Nil(t, receipt)
	require.ErrorIs(t, err, model.ErrTransferFailed)
	assert.ErrorIs(t, err, backend.ErrFakeTransfer)

	tf, ok := model.IsTransferFailed(err)
	require.True(t, ok)
	assert.Equal(t, 3, tf.Attempts)
	assert.Equal(t, 3, fake.TransferCalls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
	assertScratchEmpty(t, scratch)
}

func TestExecute_SucceedsAfterRetries(t *testing.T) {
	fake := backend.NewFakeBackend(0)
	fake.FailNext(2)
	e, _ := newExecutor(t, fake, &recordedSleep{})
	creds := credential()

	receipt, err := e.Execute(context.Background(), newOrder(), creds)
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.AttemptCount)

	assert.Len(t, creds.issued, 3, "each attempt opens its own credential")
	assert.True(t, creds.wiped())

	reqs := fake.Requests()
	require.Len(t, reqs, 3)
	keys := map[string]bool{}
	paths := map[string]bool{}
	for _, r := range reqs {
		assert.Equal(t, int64(3500), r.UnitAmount)
		assert.Equal(t, "proto:marker-utxob:abcdefghijklmnop", r.Recipient)
		keys[r.IdempotencyKey] = true
		paths[r.ArtifactPath] = true
	}
	assert.Equal(t, map[string]bool{IdempotencyKey("O1"): true}, keys, "one key for every attempt of an order")
	assert.Len(t, paths, 3, "each attempt gets a fresh scratch path")
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, IdempotencyKey("O1"), IdempotencyKey("O1"))
	assert.NotEqual(t, IdempotencyKey("O1"), IdempotencyKey("O2"))
	assert.Len(t, IdempotencyKey("O1"), 36)
}

func TestExecute_CredentialUnavailableIsNotRetried(t *testing.T) {
	fake := backend.NewFakeBackend(0)
	sleeps := &recordedSleep{}
	e, _ := newExecutor(t, fake, sleeps)

	_, err := e.Execute(context.Background(), newOrder(), &countingCreds{err: model.ErrDecryptionFailed})
	assert.ErrorIs(t, err, ErrCredentialUnavailable)
	assert.ErrorIs(t, err, model.ErrDecryptionFailed)
	assert.NotErrorIs(t, err, model.ErrTransferFailed)
	assert.Zero(t, fake.TransferCalls())
	assert.Empty(t, sleeps.delays)
}

func TestExecute_TruncatedArtifact(t *testing.T) {
	fake := backend.NewFakeBackend(0)
	fake.TruncateArtifacts()
	e, scratch := newExecutor(t, fake, &recordedSleep{})

	_, err := e.Execute(context.Background(), newOrder(), credential())
	assert.ErrorIs(t, err, model.ErrTransferFailed)
	assert.ErrorIs(t, err, ErrArtifactTooSmall)
	assertScratchEmpty(t, scratch)
}

func TestExecute_CancelStopsRetries(t *testing.T) {
	fake := backend.NewFakeBackend(0)
	fake.FailAlways(nil)
	e, _ := newExecutor(t, fake, &recordedSleep{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, newOrder(), credential())
	require.ErrorIs(t, err, model.ErrTransferFailed)
	assert.ErrorIs(t, err, context.Canceled)

	tf, _ := model.IsTransferFailed(err)
	assert.Equal(t, 1, tf.Attempts)
	assert.Equal(t, 1, fake.TransferCalls())
}

func TestExecute_CancelDoesNotAbortInFlightCall(t *testing.T) {
	fake := backend.NewFakeBackend(0)
	release := fake.Block()
	e, _ := newExecutor(t, fake, &recordedSleep{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, newOrder(), credential())
		done <- err
	}()

	require.Eventually(t, func() bool { return fake.TransferCalls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	release()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return")
	}
}

func TestExecute_TimeoutIsAFailedAttempt(t *testing.T) {
	fake := backend.NewFakeBackend(0)
	release := fake.Block()
	defer release()

	e := New(fake, Config{MaxAttempts: 2, Timeout: 20 * time.Millisecond, ScratchDir: t.TempDir()},
		WithSleep((&recordedSleep{}).sleep))

	_, err := e.Execute(context.Background(), newOrder(), credential())
	require.ErrorIs(t, err, model.ErrTransferFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, fake.TransferCalls())
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultMinArtifactSize, cfg.MinArtifactSize)
	assert.Equal(t, int64(DefaultUnitsPerOrder), cfg.UnitsPerOrder)
	assert.NotEmpty(t, cfg.ScratchDir)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
