package reconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/uplink/internal/core/domain"
)

// fakeMonitor is a scriptable HealthMonitor: it fails a set number of
// health checks before succeeding, or fails forever.
type fakeMonitor struct {
	mu         sync.Mutex
	failuresN  int
	alwaysFail bool
	checks     int32
	quality    domain.QualityReport
	lost       []func()
}

func (f *fakeMonitor) PerformHealthCheck(ctx context.Context) bool {
	atomic.AddInt32(&f.checks, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alwaysFail {
		return false
	}
	if f.failuresN > 0 {
		f.failuresN--
		return false
	}
	return true
}

func (f *fakeMonitor) GetConnectionQuality() domain.QualityReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quality
}

func (f *fakeMonitor) OnConnectionLost(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lost = append(f.lost, fn)
}

func (f *fakeMonitor) IsOnline() bool { return false }

func (f *fakeMonitor) dropConnection() {
	f.mu.Lock()
	fns := f.lost
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func fastConfig() Config {
	return Config{
		MaxAttempts:             3,
		BaseDelay:               time.Millisecond,
		MaxDelay:                4 * time.Millisecond,
		BackoffMultiplier:       2.0,
		CircuitBreakerThreshold: 100, // effectively off
		BreakerReset:            time.Hour,
		FallbackStrategies:      []domain.Strategy{domain.StrategyLinear, domain.StrategyImmediate},
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func TestReconnectAfterFailures(t *testing.T) {
	mon := &fakeMonitor{failuresN: 2}
	e := New(fastConfig(), mon, nil)

	var successes int32
	e.OnReconnectionSuccess(func() { atomic.AddInt32(&successes, 1) })

	var attemptsMu sync.Mutex
	var attempts []uint32
	e.OnReconnectionStart(func(n uint32) {
		attemptsMu.Lock()
		attempts = append(attempts, n)
		attemptsMu.Unlock()
	})

	e.Start()
	defer e.Stop()

	mon.dropConnection()

	waitFor(t, 2*time.Second, func() bool {
		return atomic.LoadInt32(&successes) == 1
	})

	m := e.GetMetrics()
	if m.SuccessfulReconnections != 1 {
		t.Errorf("SuccessfulReconnections = %d, want 1", m.SuccessfulReconnections)
	}
	if m.FailedAttempts != 2 {
		t.Errorf("FailedAttempts = %d, want 2", m.FailedAttempts)
	}

	state := e.GetState()
	if state.Phase != domain.PhaseIdle {
		t.Errorf("Phase = %q, want %q", state.Phase, domain.PhaseIdle)
	}
	if state.CurrentAttempt != 0 {
		t.Errorf("CurrentAttempt = %d, want 0", state.CurrentAttempt)
	}

	attemptsMu.Lock()
	defer attemptsMu.Unlock()
	want := []uint32{1, 2, 3}
	if len(attempts) != len(want) {
		t.Fatalf("attempts = %v, want %v", attempts, want)
	}
	for i := range want {
		if attempts[i] != want[i] {
			t.Errorf("attempts[%d] = %d, want %d", i, attempts[i], want[i])
		}
	}
}

func TestCircuitBreakerTripsEarly(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 10
	cfg.CircuitBreakerThreshold = 2
	mon := &fakeMonitor{alwaysFail: true}
	e := New(cfg, mon, nil)

	var activated int32
	e.OnFallbackMode(func(active bool) {
		if active {
			atomic.AddInt32(&activated, 1)
		}
	})

	e.Start()
	defer e.Stop()

	mon.dropConnection()

	waitFor(t, 2*time.Second, func() bool {
		s := e.GetState()
		return s.FallbackModeActive
	})

	state := e.GetState()
	if state.Phase != domain.PhaseFallbackActive {
		t.Errorf("Phase = %q, want %q", state.Phase, domain.PhaseFallbackActive)
	}
	if state.Strategy == domain.StrategyExponential {
		t.Errorf("Strategy = %q, want a fallback strategy", state.Strategy)
	}
	// Tripped at the threshold, well before the attempt budget.
	if state.CurrentAttempt > 3 {
		t.Errorf("CurrentAttempt = %d, want breaker trip before attempt 4", state.CurrentAttempt)
	}
	if got := atomic.LoadInt32(&activated); got != 1 {
		t.Errorf("fallback activations = %d, want 1", got)
	}
}

func TestMaxAttemptsReached(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	mon := &fakeMonitor{alwaysFail: true}
	e := New(cfg, mon, nil)

	var maxReached int32
	e.OnMaxAttemptsReached(func() { atomic.AddInt32(&maxReached, 1) })

	e.Start()
	defer e.Stop()

	mon.dropConnection()

	waitFor(t, 2*time.Second, func() bool {
		return atomic.LoadInt32(&maxReached) == 1
	})

	waitFor(t, 2*time.Second, func() bool {
		s := e.GetState()
		return s.Phase == domain.PhaseFallbackActive && s.FallbackModeActive
	})
}

func TestForceReconnectionWhileIdle(t *testing.T) {
	mon := &fakeMonitor{}
	e := New(fastConfig(), mon, nil)
	e.Start()
	defer e.Stop()

	if got := e.ForceReconnection("test"); !got {
		t.Fatal("ForceReconnection() = false, want true while idle")
	}

	waitFor(t, time.Second, func() bool {
		return e.GetState().Phase == domain.PhaseIdle
	})

	if m := e.GetMetrics(); m.SuccessfulReconnections != 1 {
		t.Errorf("SuccessfulReconnections = %d, want 1", m.SuccessfulReconnections)
	}
}

func TestForceReconnectionRejectedWhileBusy(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = time.Hour // first attempt stays pending
	mon := &fakeMonitor{alwaysFail: true}
	e := New(cfg, mon, nil)
	e.Start()
	defer e.Stop()

	mon.dropConnection()

	waitFor(t, time.Second, func() bool {
		return e.GetState().Phase == domain.PhaseReconnecting
	})

	if got := e.ForceReconnection("test"); got {
		t.Error("ForceReconnection() = true, want false while a cycle is in flight")
	}
}

func TestStopCancelsCycle(t *testing.T) {
	mon := &fakeMonitor{alwaysFail: true}
	e := New(fastConfig(), mon, nil)
	e.Start()

	mon.dropConnection()

	waitFor(t, 2*time.Second, func() bool {
		return e.GetMetrics().FailedAttempts >= 1
	})

	e.Stop()
	e.Stop() // idempotent

	if got := e.GetState().Phase; got != domain.PhaseIdle {
		t.Errorf("Phase after Stop = %q, want %q", got, domain.PhaseIdle)
	}

	before := e.GetMetrics().FailedAttempts
	time.Sleep(30 * time.Millisecond)
	if after := e.GetMetrics().FailedAttempts; after != before {
		t.Errorf("FailedAttempts advanced from %d to %d after Stop", before, after)
	}
}

func TestSuccessClearsFallbackMode(t *testing.T) {
	cfg := fastConfig()
	cfg.CircuitBreakerThreshold = 1
	mon := &fakeMonitor{failuresN: 3}
	e := New(cfg, mon, nil)

	var transitions []bool
	var transMu sync.Mutex
	e.OnFallbackMode(func(active bool) {
		transMu.Lock()
		transitions = append(transitions, active)
		transMu.Unlock()
	})

	e.Start()
	defer e.Stop()

	mon.dropConnection()

	waitFor(t, 2*time.Second, func() bool {
		return e.GetMetrics().SuccessfulReconnections == 1
	})

	state := e.GetState()
	if state.FallbackModeActive {
		t.Error("FallbackModeActive = true after success, want false")
	}
	if state.Strategy != domain.StrategyExponential {
		t.Errorf("Strategy = %q, want %q restored", state.Strategy, domain.StrategyExponential)
	}

	transMu.Lock()
	defer transMu.Unlock()
	want := []bool{true, false}
	if len(transitions) != len(want) {
		t.Fatalf("fallback transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestAdaptiveMultiplier(t *testing.T) {
	cfg := fastConfig()
	cfg.AdaptiveBackoff = true
	mon := &fakeMonitor{quality: domain.QualityReport{Rating: domain.QualityPoor}}
	e := New(cfg, mon, nil)

	near := func(got, want float64) bool {
		diff := got - want
		return diff < 1e-9 && diff > -1e-9
	}

	// One poor report is noise; a streak slows retries down.
	e.AssessConnectionQuality()
	if got := e.GetState().AdaptiveDelayMultiplier; !near(got, 1.0) {
		t.Errorf("multiplier after 1 poor report = %v, want 1.0", got)
	}
	e.AssessConnectionQuality()
	if got := e.GetState().AdaptiveDelayMultiplier; !near(got, 1.5) {
		t.Errorf("multiplier after 2 poor reports = %v, want 1.5", got)
	}

	// Capped.
	for i := 0; i < 10; i++ {
		e.AssessConnectionQuality()
	}
	if got := e.GetState().AdaptiveDelayMultiplier; !near(got, maxAdaptiveMultiplier) {
		t.Errorf("multiplier after sustained poor quality = %v, want %v", got, maxAdaptiveMultiplier)
	}

	// Sustained good quality decays back toward 1.0.
	mon.mu.Lock()
	mon.quality = domain.QualityReport{Rating: domain.QualityExcellent}
	mon.mu.Unlock()

	e.AssessConnectionQuality()
	e.AssessConnectionQuality()
	if got := e.GetState().AdaptiveDelayMultiplier; !near(got, 2.25) {
		t.Errorf("multiplier after 2 good reports = %v, want 2.25", got)
	}
}
