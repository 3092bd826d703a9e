package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrFakeTransfer is the default error returned by a failing FakeBackend.
var ErrFakeTransfer = errors.New("fake backend: transfer rejected")

// FakeBackend is an in-memory TransferBackend for tests and local runs.
// It writes a JSON consignment describing the request.
type FakeBackend struct {
	mu          sync.Mutex
	failures    int
	alwaysFail  bool
	transferErr error
	truncate    bool
	balance     int64
	balanceErr  error
	requests    []TransferRequest
	block       chan struct{}
}

// NewFakeBackend returns a FakeBackend that succeeds and reports the given balance.
func NewFakeBackend(balance int64) *FakeBackend {
	return &FakeBackend{balance: balance, transferErr: ErrFakeTransfer}
}

// FailNext makes the next n transfers fail.
func (f *FakeBackend) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

// FailAlways makes every transfer fail with err, or ErrFakeTransfer when err is nil.
func (f *FakeBackend) FailAlways(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alwaysFail = true
	if err != nil {
		f.transferErr = err
	}
}

// TruncateArtifacts makes successful transfers write an implausibly small artifact.
func (f *FakeBackend) TruncateArtifacts() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.truncate = true
}

// SetBalance sets the balance result.
func (f *FakeBackend) SetBalance(balance int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = balance
	f.balanceErr = err
}

// Block makes Transfer wait until the returned function is called or ctx ends.
func (f *FakeBackend) Block() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Requests returns the transfers seen so far with credentials stripped.
func (f *FakeBackend) Requests() []TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]TransferRequest, len(f.requests))
	copy(out, f.requests)

	return out
}

// TransferCalls returns the number of Transfer invocations.
func (f *FakeBackend) TransferCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.requests)
}

// Transfer implements TransferBackend.
func (f *FakeBackend) Transfer(ctx context.Context, req TransferRequest) error {
	if len(req.Credential) == 0 {
		return errors.New("fake backend: missing credential")
	}

	f.mu.Lock()
	recorded := req
	recorded.Credential = nil
	f.requests = append(f.requests, recorded)

	fail := f.alwaysFail || f.failures > 0
	if f.failures > 0 {
		f.failures--
	}
	err, truncate, block := f.transferErr, f.truncate, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if fail {
		return err
	}

	if truncate {
		return os.WriteFile(req.ArtifactPath, []byte("short"), 0o600)
	}

	artifact, err := json.Marshal(map[string]any{
		"type":            "consignment",
		"network":         "fake",
		"order_id":        req.OrderID,
		"recipient":       req.Recipient,
		"unit_amount":     req.UnitAmount,
		"idempotency_key": req.IdempotencyKey,
	})
	if err != nil {
		return fmt.Errorf("fake backend: %w", err)
	}

	return os.WriteFile(req.ArtifactPath, artifact, 0o600)
}

// Balance implements TransferBackend.
func (f *FakeBackend) Balance(_ context.Context, _ []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.balance, f.balanceErr
}
