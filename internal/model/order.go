// Package model defines domain models and data structures.
package model

import "time"

// DeliveryOrder identifies one unit of work: deliver UnitCount batches to RecipientInvoice.
type DeliveryOrder struct {
	OrderID          string    `json:"order_id"`
	RecipientInvoice string    `json:"recipient_invoice"`
	UnitCount        int64     `json:"unit_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// DeliveryReceipt is the durable proof of a completed transfer.
// At most one non-simulated receipt exists per OrderID.
type DeliveryReceipt struct {
	OrderID       string    `json:"order_id"`
	PayloadBase64 string    `json:"payload_base64"`
	UnitAmount    int64     `json:"unit_amount"`
	CompletedAt   time.Time `json:"completed_at"`
	AttemptCount  int       `json:"attempt_count"`
	Simulated     bool      `json:"simulated,omitempty"`
}

// DeliveryState is a step of the per-order state machine.
type DeliveryState string

const (
	// StateReceived is the initial state of an order handed to the engine.
	StateReceived DeliveryState = "received"
	// StateValidated means the order passed the validator.
	StateValidated DeliveryState = "validated"
	// StateRateChecked means the order acquired a rate-limit slot.
	StateRateChecked DeliveryState = "rate_checked"
	// StateTransferring means the backend is being invoked.
	StateTransferring DeliveryState = "transferring"
	// StateCompleted means a receipt was produced.
	StateCompleted DeliveryState = "completed"
	// StateFailed means the order terminated without a receipt.
	StateFailed DeliveryState = "failed"
)
