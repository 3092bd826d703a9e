package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

const sqliteTimeLayout = time.RFC3339Nano

type sqlTxKey struct{}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store on a single SQLite file for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY inside the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) querier(ctx context.Context) sqlQuerier {
	if tx, ok := ctx.Value(sqlTxKey{}).(*sql.Tx); ok {
		return tx
	}

	return s.db
}

// WithTransaction implements TransactionManager.
func (s *SQLiteStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, sqlTxKey{}, tx)); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rollbackErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Save implements ReceiptRepository.
func (s *SQLiteStore) Save(ctx context.Context, r *model.DeliveryReceipt) (*model.DeliveryReceipt, bool, error) {
	res, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO delivery_receipts (order_id, payload_base64, unit_amount, attempt_count, completed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING`,
		r.OrderID, r.PayloadBase64, r.UnitAmount, r.AttemptCount, formatTime(r.CompletedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert receipt: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert receipt: %w", err)
	}
	if n == 1 {
		return r, true, nil
	}

	stored, err := s.GetByOrderID(ctx, r.OrderID)
	if err != nil {
		return nil, false, err
	}

	return stored, false, nil
}

// GetByOrderID implements ReceiptRepository.
func (s *SQLiteStore) GetByOrderID(ctx context.Context, orderID string) (*model.DeliveryReceipt, error) {
	var (
		r           model.DeliveryReceipt
		completedAt string
	)

	err := s.querier(ctx).QueryRowContext(ctx, `
		SELECT order_id, payload_base64, unit_amount, attempt_count, completed_at
		FROM delivery_receipts
		WHERE order_id = ?`,
		orderID,
	).Scan(&r.OrderID, &r.PayloadBase64, &r.UnitAmount, &r.AttemptCount, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	if r.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, err
	}

	return &r, nil
}

// Append implements AuditRepository.
func (s *SQLiteStore) Append(ctx context.Context, rec model.AuditRecord) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO audit_records (seq, recorded_at, action, order_id, detail)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Seq, formatTime(rec.Timestamp), string(rec.Action), rec.OrderID, rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// LastSeq implements AuditRepository.
func (s *SQLiteStore) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.querier(ctx).QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM audit_records`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to get last audit seq: %w", err)
	}

	return seq, nil
}

// GetUnpublished implements AuditRepository.
func (s *SQLiteStore) GetUnpublished(ctx context.Context, limit int) ([]*model.AuditRecord, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT seq, recorded_at, action, order_id, detail
		FROM audit_records
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished audit records: %w", err)
	}
	defer rows.Close()

	var records []*model.AuditRecord
	for rows.Next() {
		var (
			rec        model.AuditRecord
			recordedAt string
			action     string
		)
		if err := rows.Scan(&rec.Seq, &recordedAt, &action, &rec.OrderID, &rec.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if rec.Timestamp, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		rec.Action = model.AuditAction(action)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}

	return records, nil
}

// MarkAsPublished implements AuditRepository.
func (s *SQLiteStore) MarkAsPublished(ctx context.Context, seq int64) error {
	_, err := s.querier(ctx).ExecContext(ctx,
		`UPDATE audit_records SET published_at = ? WHERE seq = ?`, formatTime(time.Now()), seq)
	if err != nil {
		return fmt.Errorf("failed to mark audit record %d as published: %w", seq, err)
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}

	return t, nil
}
