package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/asset-delivery-engine/internal/backend"
	"github.com/jnst/asset-delivery-engine/internal/events"
	"github.com/jnst/asset-delivery-engine/internal/model"
	"github.com/jnst/asset-delivery-engine/internal/vault"
)

type staticCreds struct {
	err error
}

func (s staticCreds) Credential() (*vault.Credential, error) {
	if s.err != nil {
		return nil, s.err
	}
	return vault.NewCredential([]byte("wallet-secret")), nil
}

type eventLog struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (e *eventLog) add(ev model.LifecycleEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) kinds() []model.LifecycleKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.LifecycleKind, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestMonitor_UnhealthyUntilSampled(t *testing.T) {
	m := NewMonitor(backend.NewFakeBackend(500000), staticCreds{}, Config{Network: "testnet"})

	h := m.Health()
	assert.False(t, h.Healthy)
	assert.Equal(t, "testnet", h.Network)
	assert.NotEmpty(t, h.Reason)
}

func TestMonitor_CheckNow(t *testing.T) {
	fixed := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		balance     int64
		balanceErr  error
		credErr     error
		wantHealthy bool
		wantKinds   []model.LifecycleKind
	}{
		{name: "healthy", balance: 250000, wantHealthy: true, wantKinds: []model.LifecycleKind{}},
		{name: "low balance", balance: 99999, wantHealthy: true, wantKinds: []model.LifecycleKind{model.LifecycleLowBalance}},
		{name: "at threshold", balance: 100000, wantHealthy: true, wantKinds: []model.LifecycleKind{}},
		{
			name:       "backend down",
			balanceErr: errors.New("connection refused"),
			wantKinds:  []model.LifecycleKind{model.LifecycleUnhealthy},
		},
		{
			name:      "credential unavailable",
			credErr:   model.ErrDecryptionFailed,
			wantKinds: []model.LifecycleKind{model.LifecycleUnhealthy},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := backend.NewFakeBackend(0)
			fake.SetBalance(tt.balance, tt.balanceErr)

			var log eventLog
			m := NewMonitor(fake, staticCreds{err: tt.credErr}, Config{Network: "testnet"},
				WithClock(func() time.Time { return fixed }))
			m.OnLifecycle(log.add)

			snap := m.CheckNow(context.Background())

			assert.Equal(t, tt.wantHealthy, snap.Healthy)
			assert.Equal(t, snap, m.Health())
			assert.Equal(t, fixed, snap.SampledAt)
			assert.Equal(t, tt.wantKinds, log.kinds())
			if tt.wantHealthy {
				assert.Equal(t, tt.balance, snap.AvailableBalance)
				assert.Empty(t, snap.Reason)
			} else {
				assert.NotEmpty(t, snap.Reason)
			}
		})
	}
}

func TestMonitor_RecoversAfterFailure(t *testing.T) {
	fake := backend.NewFakeBackend(0)
	fake.SetBalance(0, errors.New("down"))
	m := NewMonitor(fake, staticCreds{}, Config{})

	assert.False(t, m.CheckNow(context.Background()).Healthy)

	fake.SetBalance(200000, nil)
	assert.True(t, m.CheckNow(context.Background()).Healthy)
	assert.True(t, m.Healthy())
}

func TestMonitor_SharedEventHub(t *testing.T) {
	hub := events.NewHub[model.LifecycleEvent]()
	var log eventLog
	hub.Subscribe(log.add)

	fake := backend.NewFakeBackend(10)
	m := NewMonitor(fake, staticCreds{}, Config{}, WithEvents(hub))
	m.CheckNow(context.Background())

	assert.Equal(t, []model.LifecycleKind{model.LifecycleLowBalance}, log.kinds())
}

func TestMonitor_RunSamplesUntilCancelled(t *testing.T) {
	fake := backend.NewFakeBackend(500000)
	m := NewMonitor(fake, staticCreds{}, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, m.Healthy, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
