package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

// AuditRepositoryImpl implements AuditRepository using PostgreSQL.
type AuditRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewAuditRepositoryImpl creates a new AuditRepository implementation.
func NewAuditRepositoryImpl(pool *pgxpool.Pool) AuditRepository {
	return &AuditRepositoryImpl{pool: pool}
}

// Append inserts an audit record.
func (r *AuditRepositoryImpl) Append(ctx context.Context, rec model.AuditRecord) error {
	_, err := pgQuerierFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_records (seq, recorded_at, action, order_id, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.Seq, rec.Timestamp, string(rec.Action), rec.OrderID, rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// LastSeq returns the highest stored sequence number, or zero.
func (r *AuditRepositoryImpl) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := pgQuerierFrom(ctx, r.pool).QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM audit_records`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to get last audit seq: %w", err)
	}

	return seq, nil
}

// GetUnpublished retrieves unpublished records in sequence order.
// Inside a transaction the rows stay locked and concurrent relays skip them.
func (r *AuditRepositoryImpl) GetUnpublished(ctx context.Context, limit int) ([]*model.AuditRecord, error) {
	rows, err := pgQuerierFrom(ctx, r.pool).Query(ctx, `
		SELECT seq, recorded_at, action, order_id, detail
		FROM audit_records
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished audit records: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.AuditRecord, error) {
		var (
			rec    model.AuditRecord
			action string
		)
		if err := row.Scan(&rec.Seq, &rec.Timestamp, &action, &rec.OrderID, &rec.Detail); err != nil {
			return nil, err
		}
		rec.Action = model.AuditAction(action)
		rec.Timestamp = rec.Timestamp.UTC()

		return &rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit records: %w", err)
	}

	return records, nil
}

// MarkAsPublished marks an audit record as relayed.
func (r *AuditRepositoryImpl) MarkAsPublished(ctx context.Context, seq int64) error {
	_, err := pgQuerierFrom(ctx, r.pool).Exec(ctx,
		`UPDATE audit_records SET published_at = $2 WHERE seq = $1`, seq, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark audit record %d as published: %w", seq, err)
	}

	return nil
}
