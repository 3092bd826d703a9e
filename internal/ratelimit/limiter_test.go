package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func TestTryAcquire_CeilingBoundary(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 14, 9, 15, 0, 0, time.UTC)}
	l := NewHourlyLimiter(3, WithClock(clock.Now))

	got := []bool{l.TryAcquire(), l.TryAcquire(), l.TryAcquire(), l.TryAcquire()}
	assert.Equal(t, []bool{true, true, true, false}, got)
}

func TestTryAcquire_ResetsOnNewHour(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 14, 9, 59, 59, 0, time.UTC)}
	l := NewHourlyLimiter(2, WithClock(clock.Now))

	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())

	clock.Set(time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC))
	assert.True(t, l.TryAcquire())

	key, count := l.Window()
	assert.Equal(t, clock.Now().Unix()/3600, key)
	assert.Equal(t, 1, count)
}

func TestTryAcquire_BurstAcrossBoundary(t *testing.T) {
	// fixed window: a full ceiling just before and just after the boundary both pass
	clock := &fakeClock{t: time.Date(2026, 10, 14, 9, 59, 59, 0, time.UTC)}
	l := NewHourlyLimiter(2, WithClock(clock.Now))

	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())

	clock.Set(clock.Now().Add(2 * time.Second))
	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
}

func TestTryAcquire_Concurrent(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}
	l := NewHourlyLimiter(100, WithClock(clock.Now))

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 250; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), allowed.Load())
	_, count := l.Window()
	assert.Equal(t, 250, count)
}

func TestNewHourlyLimiter_DefaultCeiling(t *testing.T) {
	assert.Equal(t, DefaultHourlyCeiling, NewHourlyLimiter(0).Ceiling())
}
