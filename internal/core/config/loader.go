package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Remote.Probe == "" {
		cfg.Remote.Probe = "http"
	}

	m := &cfg.Monitor
	if m.HealthCheckIntervalMs == 0 {
		m.HealthCheckIntervalMs = 30000
	}
	if m.HeartbeatIntervalMs == 0 {
		m.HeartbeatIntervalMs = 10000
	}
	if m.ProbeTimeoutMs == 0 {
		m.ProbeTimeoutMs = 5000
	}
	if m.WakeDebounceMs == 0 {
		m.WakeDebounceMs = 1000
	}
	if m.HistorySize == 0 {
		m.HistorySize = 50
	}
	if m.LatencyGoodMs == 0 {
		m.LatencyGoodMs = 300
	}
	if m.LatencyPoorMs == 0 {
		m.LatencyPoorMs = 1500
	}

	r := &cfg.Reconnect
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.BaseDelayMs == 0 {
		r.BaseDelayMs = 1000
	}
	if r.MaxDelayMs == 0 {
		r.MaxDelayMs = 16000
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
	if r.CircuitBreakerThreshold == 0 {
		r.CircuitBreakerThreshold = 3
	}
	if r.BreakerResetMs == 0 {
		r.BreakerResetMs = 120000
	}
	if r.QualityIntervalMs == 0 {
		r.QualityIntervalMs = 60000
	}
	if len(r.FallbackStrategies) == 0 {
		r.FallbackStrategies = []string{"linear", "immediate"}
	}

	q := &cfg.Queue
	if q.DefaultMaxRetries == 0 {
		q.DefaultMaxRetries = 3
	}
	if q.MutateTimeoutMs == 0 {
		q.MutateTimeoutMs = 10000
	}
}
