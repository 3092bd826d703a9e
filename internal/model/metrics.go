package model

// Metrics holds aggregate delivery counters.
type Metrics struct {
	TotalAttempts       int64   `json:"total_attempts"`
	Succeeded           int64   `json:"succeeded"`
	Failed              int64   `json:"failed"`
	TotalUnitsDelivered int64   `json:"total_units_delivered"`
	AverageLatencyMs    float64 `json:"average_latency_ms"`
}
