package reconnect

import (
	"math"
	"math/rand"
	"time"

	"github.com/vietddude/uplink/internal/core/domain"
)

// Jitter band: delays are scaled by a uniform factor in [0.85, 1.15] so
// concurrent clients do not retry in lockstep.
const (
	jitterMin = 0.85
	jitterMax = 1.15
)

// DelayStrategy maps a 1-indexed attempt number to a retry delay.
type DelayStrategy interface {
	Name() domain.Strategy
	// Delay computes the wait before the given attempt. adaptive is the
	// engine's adaptive delay multiplier (>= 1.0).
	Delay(attempt uint32, adaptive float64) time.Duration
}

// ExponentialStrategy grows the delay geometrically up to a cap.
type ExponentialStrategy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

func (s ExponentialStrategy) Name() domain.Strategy { return domain.StrategyExponential }

func (s ExponentialStrategy) Delay(attempt uint32, adaptive float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if adaptive < 1 {
		adaptive = 1
	}

	delay := float64(s.BaseDelay) * math.Pow(s.Multiplier, float64(attempt-1)) * adaptive
	if delay > float64(s.MaxDelay) {
		delay = float64(s.MaxDelay)
	}
	if s.Jitter {
		delay *= jitterMin + rand.Float64()*(jitterMax-jitterMin)
	}
	return time.Duration(delay)
}

// LinearStrategy grows the delay arithmetically up to a cap.
type LinearStrategy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (s LinearStrategy) Name() domain.Strategy { return domain.StrategyLinear }

func (s LinearStrategy) Delay(attempt uint32, adaptive float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := s.BaseDelay * time.Duration(attempt)
	if delay > s.MaxDelay {
		delay = s.MaxDelay
	}
	return delay
}

// ImmediateStrategy retries with no delay; used for user-triggered
// force-reconnects.
type ImmediateStrategy struct{}

func (ImmediateStrategy) Name() domain.Strategy { return domain.StrategyImmediate }

func (ImmediateStrategy) Delay(uint32, float64) time.Duration { return 0 }

// strategyFor builds the named strategy from engine config.
func strategyFor(name domain.Strategy, cfg Config) DelayStrategy {
	switch name {
	case domain.StrategyLinear:
		return LinearStrategy{BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay}
	case domain.StrategyImmediate:
		return ImmediateStrategy{}
	default:
		return ExponentialStrategy{
			BaseDelay:  cfg.BaseDelay,
			MaxDelay:   cfg.MaxDelay,
			Multiplier: cfg.BackoffMultiplier,
			Jitter:     cfg.JitterEnabled,
		}
	}
}
