// Package ratelimit enforces a maximum number of transfers per clock hour.
//
// The limiter is a fixed window keyed by floor(now / 1h), not a sliding one:
// up to twice the ceiling can pass in a short burst straddling an hour
// boundary. That approximation is accepted.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultHourlyCeiling is the default number of transfers allowed per hour.
const DefaultHourlyCeiling = 100

const window = time.Hour

// HourlyLimiter is a fixed-window counter. Safe for concurrent use.
type HourlyLimiter struct {
	mu        sync.Mutex
	ceiling   int
	windowKey int64
	count     int
	now       func() time.Time
}

// Option configures a HourlyLimiter.
type Option func(*HourlyLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *HourlyLimiter) {
		l.now = now
	}
}

// NewHourlyLimiter creates a limiter allowing ceiling acquisitions per hour bucket.
func NewHourlyLimiter(ceiling int, opts ...Option) *HourlyLimiter {
	if ceiling <= 0 {
		ceiling = DefaultHourlyCeiling
	}

	l := &HourlyLimiter{
		ceiling:   ceiling,
		windowKey: -1,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// TryAcquire counts one transfer and reports whether it fits in the current window.
// Rejected calls still count, matching the post-increment rule.
func (l *HourlyLimiter) TryAcquire() bool {
	key := l.now().Unix() / int64(window/time.Second)

	l.mu.Lock()
	defer l.mu.Unlock()

	if key != l.windowKey {
		l.windowKey = key
		l.count = 0
	}

	l.count++

	return l.count <= l.ceiling
}

// Window returns the current window key and count for diagnostics.
func (l *HourlyLimiter) Window() (key int64, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.windowKey, l.count
}

// Ceiling returns the configured hourly ceiling.
func (l *HourlyLimiter) Ceiling() int {
	return l.ceiling
}
