package model

import "time"

// AuditAction represents the lifecycle event recorded in the audit log.
type AuditAction string

const (
	// AuditInitiated is written when an order enters the transfer step.
	AuditInitiated AuditAction = "INITIATED"
	// AuditCompleted is written when a receipt is produced.
	AuditCompleted AuditAction = "COMPLETED"
	// AuditFailed is written for every rejection after validation.
	AuditFailed AuditAction = "FAILED"
)

// AuditRecord is an append-only audit entry. Seq is the append order.
// Detail must never contain credential material.
type AuditRecord struct {
	Seq         int64       `json:"seq"`
	Timestamp   time.Time   `json:"timestamp"`
	Action      AuditAction `json:"action"`
	OrderID     string      `json:"order_id"`
	Detail      string      `json:"detail"`
	PublishedAt *time.Time  `json:"-"`
}
