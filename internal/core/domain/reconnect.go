package domain

// Phase is the reconnection engine lifecycle state.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseReconnecting       Phase = "reconnecting"
	PhaseFallbackActive     Phase = "fallback_active"
	PhaseMaxAttemptsReached Phase = "max_attempts_reached"
)

// Strategy selects how retry delays are computed.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyImmediate   Strategy = "immediate"
)

// ReconnectionState is a snapshot of the engine state.
type ReconnectionState struct {
	Phase                   Phase    `json:"phase"`
	CurrentAttempt          uint32   `json:"current_attempt"`
	Strategy                Strategy `json:"strategy"`
	AdaptiveDelayMultiplier float64  `json:"adaptive_delay_multiplier"`
	FallbackModeActive      bool     `json:"fallback_mode_active"`
}

// ReconnectionMetrics are monotonic counters. They survive stop/start and
// reset only on an explicit engine reset.
type ReconnectionMetrics struct {
	TotalAttempts           uint64 `json:"total_attempts"`
	SuccessfulReconnections uint64 `json:"successful_reconnections"`
	FailedAttempts          uint64 `json:"failed_attempts"`
}
