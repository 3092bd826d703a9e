// Package audit appends one immutable record per delivery lifecycle event.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jnst/asset-delivery-engine/internal/events"
	"github.com/jnst/asset-delivery-engine/internal/logger"
	"github.com/jnst/asset-delivery-engine/internal/model"
)

// Appender durably stores audit records.
type Appender interface {
	Append(ctx context.Context, rec model.AuditRecord) error
}

// Log sequences records, writes them to every appender, then publishes them to observers.
//
// Append failures are reported on the operational logger and never returned:
// the delivery pipeline does not depend on audit durability.
type Log struct {
	mu        sync.Mutex
	seq       int64
	appenders []Appender
	hub       *events.Hub[model.AuditRecord]
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithStartSeq resumes sequencing after seq, typically the last persisted record.
func WithStartSeq(seq int64) Option {
	return func(l *Log) {
		l.seq = seq
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// WithLogger sets the operational error logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Log) {
		l.logger = lg
	}
}

// New creates a Log writing to appenders in order.
func New(appenders []Appender, opts ...Option) *Log {
	l := &Log{
		appenders: appenders,
		hub:       events.NewHub[model.AuditRecord](),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logger.Or(l.logger)

	return l
}

// Record appends a record. When it returns, every appender has been attempted.
func (l *Log) Record(ctx context.Context, action model.AuditAction, orderID, detail string) model.AuditRecord {
	ctx = context.WithoutCancel(ctx)

	l.mu.Lock()
	l.seq++
	rec := model.AuditRecord{
		Seq:       l.seq,
		Timestamp: l.now().UTC(),
		Action:    action,
		OrderID:   orderID,
		Detail:    detail,
	}
	for _, a := range l.appenders {
		if err := a.Append(ctx, rec); err != nil {
			l.logger.Error("audit append failed",
				slog.Int64("seq", rec.Seq),
				slog.String("action", string(rec.Action)),
				slog.String("order_id", rec.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	l.mu.Unlock()

	l.hub.Publish(rec)

	return rec
}

// OnAudit subscribes handler to every record. The returned function unsubscribes.
func (l *Log) OnAudit(handler func(model.AuditRecord)) (unsubscribe func()) {
	return l.hub.Subscribe(handler)
}

// Seq returns the sequence number of the last record.
func (l *Log) Seq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.seq
}
