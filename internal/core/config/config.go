package config

import (
	"github.com/vietddude/uplink/internal/infra/storage/postgres"
	redisstore "github.com/vietddude/uplink/internal/infra/storage/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig      `yaml:"server"`
	Logging   LoggingConfig     `yaml:"logging"`
	Remote    RemoteConfig      `yaml:"remote"`
	Monitor   MonitorConfig     `yaml:"monitor"`
	Reconnect ReconnectConfig   `yaml:"reconnect"`
	Queue     QueueConfig       `yaml:"queue"`
	Redis     redisstore.Config `yaml:"redis"`
	Database  postgres.Config   `yaml:"database"`
}

// ServerConfig holds HTTP status server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RemoteConfig selects and configures the probe/mutate adapters.
type RemoteConfig struct {
	Probe        string `yaml:"probe"` // http, grpc, websocket
	ProbeURL     string `yaml:"probe_url"`
	MutateURL    string `yaml:"mutate_url"`
	GRPCEndpoint string `yaml:"grpc_endpoint"`
	GRPCService  string `yaml:"grpc_service"`
}

// MonitorConfig holds connection health monitor settings.
type MonitorConfig struct {
	HealthCheckIntervalMs int `yaml:"health_check_interval_ms"`
	HeartbeatIntervalMs   int `yaml:"heartbeat_interval_ms"`
	ProbeTimeoutMs        int `yaml:"probe_timeout_ms"`
	WakeDebounceMs        int `yaml:"wake_debounce_ms"`
	HistorySize           int `yaml:"history_size"`
	LatencyGoodMs         int `yaml:"latency_good_ms"`
	LatencyPoorMs         int `yaml:"latency_poor_ms"`
}

// ReconnectConfig holds adaptive reconnection engine settings.
type ReconnectConfig struct {
	MaxAttempts             int      `yaml:"max_attempts"`
	BaseDelayMs             int      `yaml:"base_delay_ms"`
	MaxDelayMs              int      `yaml:"max_delay_ms"`
	BackoffMultiplier       float64  `yaml:"backoff_multiplier"`
	JitterEnabled           bool     `yaml:"jitter_enabled"`
	AdaptiveBackoff         bool     `yaml:"adaptive_backoff"`
	CircuitBreakerThreshold int      `yaml:"circuit_breaker_threshold"`
	BreakerResetMs          int      `yaml:"breaker_reset_ms"`
	QualityIntervalMs       int      `yaml:"quality_interval_ms"`
	FallbackStrategies      []string `yaml:"fallback_strategies"`
}

// QueueConfig holds offline action queue settings. Replay on reconnect is
// on unless disabled.
type QueueConfig struct {
	DefaultMaxRetries int  `yaml:"default_max_retries"`
	MutateTimeoutMs   int  `yaml:"mutate_timeout_ms"`
	NoAutoReplay      bool `yaml:"no_auto_replay"`
}
