// Package service provides business logic layer implementations.
package service

import (
	"context"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

// DeliveryService is the engine entry point consumed by the invoice front-end and operator tooling.
type DeliveryService interface {
	RequestDelivery(ctx context.Context, order *model.DeliveryOrder) (*model.DeliveryReceipt, error)
	GetDelivery(ctx context.Context, orderID string) (*model.DeliveryReceipt, error)
	GetHealth() model.HealthSnapshot
	GetMetrics() model.Metrics
	OnAudit(handler func(model.AuditRecord)) (unsubscribe func())
	OnLifecycle(handler func(model.LifecycleEvent)) (unsubscribe func())
}

// AuditRelayService defines methods for relaying persisted audit records to external collaborators.
type AuditRelayService interface {
	ProcessUnpublishedRecords(ctx context.Context, limit int) (int, error)
}

// AuditPublisher delivers one audit record to the external stream.
type AuditPublisher interface {
	PublishAudit(ctx context.Context, rec *model.AuditRecord) error
}
