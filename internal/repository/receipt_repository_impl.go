package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

// ReceiptRepositoryImpl implements ReceiptRepository using PostgreSQL.
type ReceiptRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewReceiptRepositoryImpl creates a new ReceiptRepository implementation.
func NewReceiptRepositoryImpl(pool *pgxpool.Pool) ReceiptRepository {
	return &ReceiptRepositoryImpl{pool: pool}
}

// Save inserts a receipt, keeping the existing one on conflict.
func (r *ReceiptRepositoryImpl) Save(
	ctx context.Context, receipt *model.DeliveryReceipt,
) (*model.DeliveryReceipt, bool, error) {
	tag, err := pgQuerierFrom(ctx, r.pool).Exec(ctx, `
		INSERT INTO delivery_receipts (order_id, payload_base64, unit_amount, attempt_count, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING`,
		receipt.OrderID, receipt.PayloadBase64, receipt.UnitAmount, receipt.AttemptCount, receipt.CompletedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert receipt: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return receipt, true, nil
	}

	stored, err := r.GetByOrderID(ctx, receipt.OrderID)
	if err != nil {
		return nil, false, err
	}

	return stored, false, nil
}

// GetByOrderID retrieves the receipt of an order.
func (r *ReceiptRepositoryImpl) GetByOrderID(ctx context.Context, orderID string) (*model.DeliveryReceipt, error) {
	var receipt model.DeliveryReceipt

	err := pgQuerierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT order_id, payload_base64, unit_amount, attempt_count, completed_at
		FROM delivery_receipts
		WHERE order_id = $1`,
		orderID,
	).Scan(&receipt.OrderID, &receipt.PayloadBase64, &receipt.UnitAmount, &receipt.AttemptCount, &receipt.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	return &receipt, nil
}
