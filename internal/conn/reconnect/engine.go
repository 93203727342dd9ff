// Package reconnect owns the retry policy after connection loss: how long to
// wait between attempts, when to give up, and when to switch tactics.
package reconnect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/uplink/internal/conn/metrics"
	"github.com/vietddude/uplink/internal/core/domain"
)

// HealthMonitor is the slice of the connection monitor the engine drives.
type HealthMonitor interface {
	PerformHealthCheck(ctx context.Context) bool
	GetConnectionQuality() domain.QualityReport
	OnConnectionLost(fn func())
	IsOnline() bool
}

// Config holds engine settings.
type Config struct {
	MaxAttempts             uint32
	BaseDelay               time.Duration
	MaxDelay                time.Duration
	BackoffMultiplier       float64
	JitterEnabled           bool
	AdaptiveBackoff         bool
	CircuitBreakerThreshold uint32
	BreakerReset            time.Duration
	QualityInterval         time.Duration
	FallbackStrategies      []domain.Strategy
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:             5,
		BaseDelay:               time.Second,
		MaxDelay:                16 * time.Second,
		BackoffMultiplier:       2.0,
		JitterEnabled:           true,
		AdaptiveBackoff:         true,
		CircuitBreakerThreshold: 3,
		BreakerReset:            2 * time.Minute,
		QualityInterval:         time.Minute,
		FallbackStrategies:      []domain.Strategy{domain.StrategyLinear, domain.StrategyImmediate},
	}
}

const maxAdaptiveMultiplier = 3.0

// Engine runs one reconnection cycle per connection loss. It exclusively
// owns ReconnectionState and its metrics; monitor status is read by value.
type Engine struct {
	cfg Config
	mon HealthMonitor
	log *slog.Logger

	mu           sync.Mutex
	state        domain.ReconnectionState
	counters     domain.ReconnectionMetrics
	timer        *time.Timer
	breakerTimer *time.Timer
	cancelAssess context.CancelFunc

	running             bool
	registered          bool
	cycleID             uint64
	consecutiveFailures uint32
	fallbackIdx         int
	poorStreak          int
	goodStreak          int

	onStart       []func(attempt uint32)
	onSuccess     []func()
	onMaxAttempts []func()
	onFallback    []func(active bool)
}

// New creates an engine bound to the given monitor.
func New(cfg Config, mon HealthMonitor, log *slog.Logger) *Engine {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2.0
	}
	if len(cfg.FallbackStrategies) == 0 {
		cfg.FallbackStrategies = []domain.Strategy{domain.StrategyLinear}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg: cfg,
		mon: mon,
		log: log,
		state: domain.ReconnectionState{
			Phase:                   domain.PhaseIdle,
			Strategy:                domain.StrategyExponential,
			AdaptiveDelayMultiplier: 1.0,
		},
	}
}

// Start begins observing connection-lost events. Idempotent.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true

	register := !e.registered
	e.registered = true

	var assessCtx context.Context
	if e.cfg.AdaptiveBackoff && e.cfg.QualityInterval > 0 {
		assessCtx, e.cancelAssess = context.WithCancel(context.Background())
	}
	e.mu.Unlock()

	if register {
		e.mon.OnConnectionLost(e.handleConnectionLost)
	}
	if assessCtx != nil {
		go e.assessLoop(assessCtx)
	}

	e.log.Info("reconnection engine started",
		"max_attempts", e.cfg.MaxAttempts,
		"base_delay", e.cfg.BaseDelay,
		"max_delay", e.cfg.MaxDelay)
}

// Stop cancels any pending retry timer and resets the phase to Idle without
// altering cumulative metrics. Idempotent; no callback fires afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cycleID++ // invalidate armed timers

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.breakerTimer != nil {
		e.breakerTimer.Stop()
		e.breakerTimer = nil
	}
	if e.cancelAssess != nil {
		e.cancelAssess()
		e.cancelAssess = nil
	}

	e.state.Phase = domain.PhaseIdle
	e.state.CurrentAttempt = 0
	e.state.Strategy = domain.StrategyExponential
	e.state.FallbackModeActive = false
	e.consecutiveFailures = 0
	e.fallbackIdx = 0
	e.mu.Unlock()

	e.log.Info("reconnection engine stopped")
}

// handleConnectionLost enters a reconnection cycle unless one is already in
// flight for this loss.
func (e *Engine) handleConnectionLost() {
	e.mu.Lock()
	if !e.running || e.state.Phase != domain.PhaseIdle {
		e.mu.Unlock()
		return
	}
	e.state.Phase = domain.PhaseReconnecting
	e.state.CurrentAttempt = 1
	e.consecutiveFailures = 0
	id := e.cycleID
	delay := e.delayLocked()
	e.armLocked(delay, id)
	e.mu.Unlock()

	e.log.Info("connection lost, reconnecting", "first_delay", delay)
}

// delayLocked computes the delay for the current attempt with the current
// strategy and adaptive multiplier.
func (e *Engine) delayLocked() time.Duration {
	s := strategyFor(e.state.Strategy, e.cfg)
	return s.Delay(e.state.CurrentAttempt, e.state.AdaptiveDelayMultiplier)
}

// armLocked schedules the next attempt. At most one timer is armed at any
// instant; the cycle id makes a stopped timer's late firing a no-op.
func (e *Engine) armLocked(delay time.Duration, id uint64) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(delay, func() { e.attempt(id) })
}

// attempt runs one probe and routes the outcome.
func (e *Engine) attempt(id uint64) {
	e.mu.Lock()
	if !e.running || id != e.cycleID ||
		(e.state.Phase != domain.PhaseReconnecting && e.state.Phase != domain.PhaseFallbackActive) {
		e.mu.Unlock()
		return
	}
	attemptNo := e.state.CurrentAttempt
	starts := e.onStart
	e.mu.Unlock()

	for _, fn := range starts {
		e.safeCall(func() { fn(attemptNo) })
	}

	if e.mon.PerformHealthCheck(context.Background()) {
		e.handleSuccess(id)
	} else {
		e.handleFailure(id)
	}
}

func (e *Engine) handleSuccess(id uint64) {
	e.mu.Lock()
	if id != e.cycleID {
		e.mu.Unlock()
		return
	}
	e.cycleID++ // cycle over
	wasFallback := e.state.FallbackModeActive

	e.state.Phase = domain.PhaseIdle
	e.state.CurrentAttempt = 0
	e.state.Strategy = domain.StrategyExponential
	e.state.FallbackModeActive = false
	e.consecutiveFailures = 0
	e.fallbackIdx = 0
	e.counters.SuccessfulReconnections++

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.breakerTimer != nil {
		e.breakerTimer.Stop()
		e.breakerTimer = nil
	}

	fallbacks := e.onFallback
	successes := e.onSuccess
	e.mu.Unlock()

	metrics.ReconnectAttemptsTotal.WithLabelValues("success").Inc()
	e.log.Info("reconnection succeeded")

	if wasFallback {
		for _, fn := range fallbacks {
			e.safeCall(func() { fn(false) })
		}
	}
	for _, fn := range successes {
		e.safeCall(fn)
	}
}

func (e *Engine) handleFailure(id uint64) {
	e.mu.Lock()
	if !e.running || id != e.cycleID {
		e.mu.Unlock()
		return
	}

	e.counters.FailedAttempts++
	e.counters.TotalAttempts++
	e.consecutiveFailures++

	var fire []func()

	switch {
	case e.state.Phase == domain.PhaseFallbackActive:
		// Stay in fallback: rotate to the next strategy and keep the longer
		// cadence until something succeeds.
		fire = e.enterFallbackLocked()
		e.armLocked(2*e.cfg.MaxDelay, id)

	case e.cfg.CircuitBreakerThreshold > 0 && e.consecutiveFailures >= e.cfg.CircuitBreakerThreshold:
		// Breaker trips before attempts are exhausted.
		fire = e.enterFallbackLocked()
		e.armLocked(2*e.cfg.MaxDelay, id)

	case e.state.CurrentAttempt >= e.cfg.MaxAttempts:
		e.state.Phase = domain.PhaseMaxAttemptsReached
		for _, fn := range e.onMaxAttempts {
			fn := fn
			fire = append(fire, func() { e.safeCall(fn) })
		}
		fire = append(fire, e.enterFallbackLocked()...)
		e.armLocked(2*e.cfg.MaxDelay, id)

	default:
		e.state.CurrentAttempt++
		e.armLocked(e.delayLocked(), id)
	}

	e.mu.Unlock()

	metrics.ReconnectAttemptsTotal.WithLabelValues("failure").Inc()
	for _, fn := range fire {
		fn()
	}
}

// enterFallbackLocked switches to the next configured fallback strategy,
// wrapping when the list is exhausted, and arms the breaker reset timer.
// Returns the callbacks to fire after unlock.
func (e *Engine) enterFallbackLocked() []func() {
	e.state.Phase = domain.PhaseFallbackActive

	next := e.cfg.FallbackStrategies[e.fallbackIdx%len(e.cfg.FallbackStrategies)]
	e.fallbackIdx++
	e.state.Strategy = next

	var fire []func()
	if !e.state.FallbackModeActive {
		e.state.FallbackModeActive = true
		metrics.FallbackActivations.Inc()
		for _, fn := range e.onFallback {
			fn := fn
			fire = append(fire, func() { e.safeCall(func() { fn(true) }) })
		}
		e.log.Warn("fallback mode activated", "strategy", next)
	}

	if e.cfg.BreakerReset > 0 {
		if e.breakerTimer != nil {
			e.breakerTimer.Stop()
		}
		e.breakerTimer = time.AfterFunc(e.cfg.BreakerReset, e.breakerReset)
	}

	return fire
}

// breakerReset restores the primary strategy after a quiet period so a
// transient bad patch cannot lock the engine into fallback permanently.
func (e *Engine) breakerReset() {
	e.mu.Lock()
	if !e.running || !e.state.FallbackModeActive {
		e.mu.Unlock()
		return
	}
	e.state.FallbackModeActive = false
	e.state.Strategy = domain.StrategyExponential
	e.consecutiveFailures = 0
	fallbacks := e.onFallback
	e.mu.Unlock()

	e.log.Info("circuit breaker reset, primary strategy restored")
	for _, fn := range fallbacks {
		e.safeCall(func() { fn(false) })
	}
}

// ForceReconnection attempts an immediate probe. Returns false without side
// effects when a reconnection cycle is already in progress.
func (e *Engine) ForceReconnection(reason string) bool {
	e.mu.Lock()
	if !e.running || e.state.Phase != domain.PhaseIdle {
		e.mu.Unlock()
		return false
	}
	e.state.Phase = domain.PhaseReconnecting
	e.state.CurrentAttempt = 1
	e.consecutiveFailures = 0
	id := e.cycleID
	starts := e.onStart
	e.mu.Unlock()

	e.log.Info("forcing reconnection", "reason", reason)

	for _, fn := range starts {
		e.safeCall(func() { fn(1) })
	}

	// Immediate strategy: no timer, probe inline.
	if e.mon.PerformHealthCheck(context.Background()) {
		e.handleSuccess(id)
	} else {
		e.handleFailure(id)
	}
	return true
}

// AssessConnectionQuality returns the monitor's quality report and adjusts
// the adaptive delay multiplier: a sustained poor trend slows future retries
// to avoid hammering a degraded link; sustained good quality decays the
// multiplier back toward 1.0.
func (e *Engine) AssessConnectionQuality() domain.QualityReport {
	q := e.mon.GetConnectionQuality()
	if !e.cfg.AdaptiveBackoff {
		return q
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch q.Rating {
	case domain.QualityPoor:
		e.poorStreak++
		e.goodStreak = 0
		if e.poorStreak >= 2 {
			e.state.AdaptiveDelayMultiplier *= 1.5
			if e.state.AdaptiveDelayMultiplier > maxAdaptiveMultiplier {
				e.state.AdaptiveDelayMultiplier = maxAdaptiveMultiplier
			}
		}
	case domain.QualityGood, domain.QualityExcellent:
		e.goodStreak++
		e.poorStreak = 0
		if e.goodStreak >= 2 && e.state.AdaptiveDelayMultiplier > 1.0 {
			e.state.AdaptiveDelayMultiplier *= 0.75
			if e.state.AdaptiveDelayMultiplier < 1.0 {
				e.state.AdaptiveDelayMultiplier = 1.0
			}
		}
	}
	return q
}

func (e *Engine) assessLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.QualityInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.AssessConnectionQuality()
		}
	}
}

// safeCall isolates a panicking subscriber so delivery continues.
func (e *Engine) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("reconnection callback panicked", "panic", r)
		}
	}()
	fn()
}

// OnReconnectionStart registers a callback fired before each attempt.
func (e *Engine) OnReconnectionStart(fn func(attempt uint32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStart = append(e.onStart, fn)
}

// OnReconnectionSuccess registers a callback fired when a cycle ends in
// a restored connection.
func (e *Engine) OnReconnectionSuccess(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSuccess = append(e.onSuccess, fn)
}

// OnMaxAttemptsReached registers a callback fired when the primary strategy
// exhausts its attempts.
func (e *Engine) OnMaxAttemptsReached(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMaxAttempts = append(e.onMaxAttempts, fn)
}

// OnFallbackMode registers a callback fired when fallback mode toggles.
func (e *Engine) OnFallbackMode(fn func(active bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFallback = append(e.onFallback, fn)
}

// GetState returns a copy of the engine state.
func (e *Engine) GetState() domain.ReconnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// GetMetrics returns a copy of the cumulative counters.
func (e *Engine) GetMetrics() domain.ReconnectionMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// ResetMetrics zeroes the cumulative counters.
func (e *Engine) ResetMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters = domain.ReconnectionMetrics{}
}
