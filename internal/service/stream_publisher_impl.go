package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

// Audit stream entry fields.
const (
	FieldSeq       = "seq"
	FieldAction    = "action"
	FieldOrderID   = "order_id"
	FieldDetail    = "detail"
	FieldTimestamp = "timestamp"
)

// RedisStreamPublisher implements AuditPublisher with XADD.
type RedisStreamPublisher struct {
	redisClient rueidis.Client
	streamKey   string
}

// NewRedisStreamPublisher creates a publisher writing to streamKey.
func NewRedisStreamPublisher(redisClient rueidis.Client, streamKey string) *RedisStreamPublisher {
	return &RedisStreamPublisher{redisClient: redisClient, streamKey: streamKey}
}

// PublishAudit appends rec to the stream.
func (p *RedisStreamPublisher) PublishAudit(ctx context.Context, rec *model.AuditRecord) error {
	cmd := p.redisClient.B().Xadd().Key(p.streamKey).Id("*").
		FieldValue().FieldValue(FieldSeq, strconv.FormatInt(rec.Seq, 10)).
		FieldValue(FieldAction, string(rec.Action)).
		FieldValue(FieldOrderID, rec.OrderID).
		FieldValue(FieldDetail, rec.Detail).
		FieldValue(FieldTimestamp, rec.Timestamp.UTC().Format(time.RFC3339Nano)).
		Build()

	if err := p.redisClient.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to xadd audit record %d: %w", rec.Seq, err)
	}

	return nil
}

// ParseStreamRecord rebuilds an AuditRecord from stream entry fields.
func ParseStreamRecord(fields map[string]string) (*model.AuditRecord, error) {
	seq, err := strconv.ParseInt(fields[FieldSeq], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s field: %w", FieldSeq, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, fields[FieldTimestamp])
	if err != nil {
		return nil, fmt.Errorf("invalid %s field: %w", FieldTimestamp, err)
	}

	return &model.AuditRecord{
		Seq:       seq,
		Timestamp: ts,
		Action:    model.AuditAction(fields[FieldAction]),
		OrderID:   fields[FieldOrderID],
		Detail:    fields[FieldDetail],
	}, nil
}
