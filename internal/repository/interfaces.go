// Package repository provides data access interfaces and implementations.
package repository

import (
	"context"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

// ReceiptRepository stores at most one DeliveryReceipt per order.
type ReceiptRepository interface {
	// Save inserts r unless a receipt for the order already exists. It returns the stored receipt
	// and whether this call inserted it.
	Save(ctx context.Context, r *model.DeliveryReceipt) (*model.DeliveryReceipt, bool, error)
	// GetByOrderID returns model.ErrReceiptNotFound when the order has no receipt.
	GetByOrderID(ctx context.Context, orderID string) (*model.DeliveryReceipt, error)
}

// AuditRepository is the durable audit log and the outbox the relay drains.
type AuditRepository interface {
	Append(ctx context.Context, rec model.AuditRecord) error
	LastSeq(ctx context.Context) (int64, error)
	GetUnpublished(ctx context.Context, limit int) ([]*model.AuditRecord, error)
	MarkAsPublished(ctx context.Context, seq int64) error
}

// TransactionManager defines methods for database transaction management.
// Repository calls made with the ctx passed to fn join the transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles the repositories of one storage driver.
type Store interface {
	ReceiptRepository
	AuditRepository
	TransactionManager
	Close() error
}
