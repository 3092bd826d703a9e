package model

import "time"

// HealthSnapshot is replaced wholesale on every monitor tick.
type HealthSnapshot struct {
	Healthy          bool      `json:"healthy"`
	AvailableBalance int64     `json:"available_balance"`
	Network          string    `json:"network,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	SampledAt        time.Time `json:"sampled_at"`
}

// LifecycleKind names an alerting event.
type LifecycleKind string

const (
	// LifecycleLowBalance is raised when the sampled balance is below the threshold.
	LifecycleLowBalance LifecycleKind = "LowBalance"
	// LifecycleUnhealthy is raised when the balance query fails.
	LifecycleUnhealthy LifecycleKind = "Unhealthy"
	// LifecycleTransferError is raised when a transfer exhausts its retries.
	LifecycleTransferError LifecycleKind = "TransferError"
)

// LifecycleEvent is published to alerting subscribers.
type LifecycleEvent struct {
	Kind       LifecycleKind `json:"kind"`
	OrderID    string        `json:"order_id,omitempty"`
	Balance    int64         `json:"balance,omitempty"`
	Error      string        `json:"error,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}
