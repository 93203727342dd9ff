package domain

import "time"

// Quality buckets the measured link quality.
type Quality string

const (
	QualityOffline   Quality = "offline"
	QualityPoor      Quality = "poor"
	QualityGood      Quality = "good"
	QualityExcellent Quality = "excellent"
)

// ConnectionStatus is a snapshot of the link state. The monitor owns the
// authoritative copy; consumers always receive a value copy.
type ConnectionStatus struct {
	Online            bool      `json:"online"`
	Quality           Quality   `json:"quality"`
	LatencyMs         int64     `json:"latency_ms"` // -1 = unmeasured
	LastConnectedAt   time.Time `json:"last_connected_at"`
	ReconnectAttempts uint32    `json:"reconnect_attempts"`
	NetworkSignal     bool      `json:"network_signal"`
}

// ProbeSample records the outcome of a single reachability probe.
type ProbeSample struct {
	At        time.Time `json:"at"`
	Success   bool      `json:"success"`
	LatencyMs int64     `json:"latency_ms"`
}

// QualityReport breaks the quality score down into its factors.
type QualityReport struct {
	Rating      Quality `json:"rating"`
	Score       int     `json:"score"` // 0-100
	Latency     float64 `json:"latency_factor"`
	SuccessRate float64 `json:"success_rate"`
	Stability   float64 `json:"stability"`
}
