package metrics

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

func TestRecorder_RunningAverage(t *testing.T) {
	r := NewRecorder(nil)

	r.RecordSuccess(3500, 100*time.Millisecond)
	r.RecordFailure(300 * time.Millisecond)
	r.RecordSuccess(700, 200*time.Millisecond)

	m := r.Snapshot()
	assert.Equal(t, int64(3), m.TotalAttempts)
	assert.Equal(t, int64(2), m.Succeeded)
	assert.Equal(t, int64(1), m.Failed)
	assert.Equal(t, int64(4200), m.TotalUnitsDelivered)
	assert.InDelta(t, 200.0, m.AverageLatencyMs, 0.0001)
}

func TestRecorder_PrometheusCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RecordSuccess(3500, time.Millisecond)
	r.RecordFailure(time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.attempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.succeeded))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failed))
	assert.Equal(t, 3500.0, testutil.ToFloat64(r.units))

	n, err := testutil.GatherAndCount(reg, "asset_delivery_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecorder_RestoreContinuesAverage(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	r.Restore(model.Metrics{TotalAttempts: 1, Succeeded: 1, TotalUnitsDelivered: 700, AverageLatencyMs: 100})

	r.RecordSuccess(700, 300*time.Millisecond)

	m := r.Snapshot()
	assert.Equal(t, int64(2), m.TotalAttempts)
	assert.Equal(t, int64(1400), m.TotalUnitsDelivered)
	assert.InDelta(t, 200.0, m.AverageLatencyMs, 0.0001)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.attempts))
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder(nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				r.RecordFailure(time.Millisecond)
				return
			}
			r.RecordSuccess(700, time.Millisecond)
		}(i)
	}
	wg.Wait()

	m := r.Snapshot()
	assert.Equal(t, int64(100), m.TotalAttempts)
	assert.Equal(t, m.TotalAttempts, m.Succeeded+m.Failed)
	assert.Equal(t, m.Succeeded*700, m.TotalUnitsDelivered)
}

func TestFileSnapshotStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	store := NewFileSnapshotStore(path, nil)
	ctx := context.Background()

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := model.Metrics{TotalAttempts: 5, Succeeded: 4, Failed: 1, TotalUnitsDelivered: 2800, AverageLatencyMs: 12.5}
	require.NoError(t, store.Save(ctx, want))

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestFileSnapshotStore_CorruptIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	r := NewRecorder(nil)
	restored, err := RestoreFrom(context.Background(), NewFileSnapshotStore(path, nil), r)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, model.Metrics{}, r.Snapshot())
}
