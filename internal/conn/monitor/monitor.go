// Package monitor is the single source of truth for link state. It probes
// the remote service on two cadences, keeps a rolling window of probe
// outcomes, and notifies subscribers on online/offline transitions.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/uplink/internal/conn/metrics"
	"github.com/vietddude/uplink/internal/core/domain"
	"github.com/vietddude/uplink/internal/infra/netsignal"
	"github.com/vietddude/uplink/internal/infra/remote"
)

// Config holds monitor settings.
type Config struct {
	HealthCheckInterval time.Duration
	HeartbeatInterval   time.Duration
	ProbeTimeout        time.Duration
	WakeDebounce        time.Duration
	HistorySize         int
	LatencyGoodMs       int64
	LatencyPoorMs       int64
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 30 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		ProbeTimeout:        5 * time.Second,
		WakeDebounce:        time.Second,
		HistorySize:         50,
		LatencyGoodMs:       300,
		LatencyPoorMs:       1500,
	}
}

// inflightCheck lets concurrent callers await a check already running
// instead of issuing a duplicate probe.
type inflightCheck struct {
	done chan struct{}
	ok   bool
}

// Monitor owns ConnectionStatus and the probe sample history.
type Monitor struct {
	cfg    Config
	probe  remote.Probe
	signal netsignal.Source
	log    *slog.Logger

	mu       sync.Mutex
	status   domain.ConnectionStatus
	history  []domain.ProbeSample
	inFlight *inflightCheck
	running  bool
	stopped  bool
	cancel   context.CancelFunc
	unsub    func()
	lastWake time.Time

	onChange      []func(domain.ConnectionStatus)
	onReconnected []func()
	onLost        []func()
}

// New creates a monitor. It does not start probing until StartMonitoring.
func New(cfg Config, probe remote.Probe, signal netsignal.Source, log *slog.Logger) *Monitor {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		probe:  probe,
		signal: signal,
		log:    log,
		status: domain.ConnectionStatus{
			Quality:       domain.QualityOffline,
			LatencyMs:     -1,
			NetworkSignal: signal.Current(),
		},
	}
}

// StartMonitoring arms the health-check and heartbeat tickers and subscribes
// to link-layer signal changes. Idempotent.
func (m *Monitor) StartMonitoring() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopped = false
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.unsub = m.signal.Subscribe(func(up bool) {
		m.mu.Lock()
		m.status.NetworkSignal = up
		m.mu.Unlock()
		// Scheduled, not inline: the signal callback must not block on a probe.
		go m.PerformHealthCheck(ctx)
	})
	m.mu.Unlock()

	go m.loop(ctx, m.cfg.HealthCheckInterval, false)
	go m.loop(ctx, m.cfg.HeartbeatInterval, true)

	m.log.Info("monitoring started",
		"health_check_interval", m.cfg.HealthCheckInterval,
		"heartbeat_interval", m.cfg.HeartbeatInterval)
}

// StopMonitoring cancels the tickers and the signal subscription. After it
// returns no further callback fires. Idempotent.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stopped = true
	cancel := m.cancel
	m.cancel = nil
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
	m.log.Info("monitoring stopped")
}

// loop drives one probe cadence. The heartbeat only confirms an established
// link; loss recovery belongs to the reconnection engine.
func (m *Monitor) loop(ctx context.Context, interval time.Duration, onlineOnly bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if onlineOnly && !m.IsOnline() {
				continue
			}
			m.PerformHealthCheck(ctx)
		}
	}
}

// Wake triggers an immediate probe, debounced, for use when the client host
// returns to the foreground or resumes from sleep.
func (m *Monitor) Wake() {
	m.mu.Lock()
	if !m.running || time.Since(m.lastWake) < m.cfg.WakeDebounce {
		m.mu.Unlock()
		return
	}
	m.lastWake = time.Now()
	m.mu.Unlock()

	go m.PerformHealthCheck(context.Background())
}

// PerformHealthCheck issues one bounded probe and applies the state
// transition rules. Safe to call concurrently with itself: a check already
// in flight is awaited rather than duplicated. Returns probe success.
func (m *Monitor) PerformHealthCheck(ctx context.Context) bool {
	m.mu.Lock()
	if c := m.inFlight; c != nil {
		m.mu.Unlock()
		<-c.done
		return c.ok
	}
	c := &inflightCheck{done: make(chan struct{})}
	m.inFlight = c
	m.mu.Unlock()

	netUp := m.signal.Current()

	ok := false
	var latency int64 = -1
	if netUp {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		lat, err := m.probe.Check(probeCtx)
		cancel()
		if err != nil {
			metrics.ProbesTotal.WithLabelValues("failure").Inc()
			m.log.Debug("probe failed", "error", err)
		} else {
			ok = true
			latency = lat
			metrics.ProbesTotal.WithLabelValues("success").Inc()
			metrics.ProbeLatency.Observe(float64(lat) / 1000)
		}
		m.transition(ok, latency, netUp, true)
	} else {
		metrics.ProbesTotal.WithLabelValues("no_signal").Inc()
		m.transition(false, -1, false, false)
	}

	m.mu.Lock()
	c.ok = ok
	m.inFlight = nil
	m.mu.Unlock()
	close(c.done)

	return ok
}

// transition applies the state transition rules, optionally recording a
// probe sample, and fires the per-transition callbacks after unlocking.
func (m *Monitor) transition(success bool, latency int64, netUp, sample bool) {
	m.mu.Lock()

	if m.stopped {
		// Stopped between probe start and completion; drop the result so no
		// callback fires after StopMonitoring.
		m.mu.Unlock()
		return
	}

	if sample {
		m.history = append(m.history, domain.ProbeSample{
			At:        time.Now(),
			Success:   success,
			LatencyMs: latency,
		})
		if len(m.history) > m.cfg.HistorySize {
			m.history = m.history[1:]
		}
	}

	wasOnline := m.status.Online
	m.status.NetworkSignal = netUp

	var fire []func()
	if success {
		m.status.Online = true
		m.status.LatencyMs = latency
		if !wasOnline {
			m.status.ReconnectAttempts = 0
			m.status.LastConnectedAt = time.Now()
			fire = m.transitionCallbacks(true)
		}
	} else {
		m.status.Online = false
		m.status.LatencyMs = -1
		if wasOnline {
			fire = m.transitionCallbacks(false)
		} else {
			m.status.ReconnectAttempts++
		}
	}
	m.status.Quality = m.ratingLocked()

	metrics.QualityScore.Set(float64(m.scoreLocked().Score))
	if m.status.Online {
		metrics.ConnectionOnline.Set(1)
	} else {
		metrics.ConnectionOnline.Set(0)
	}

	m.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

// transitionCallbacks builds the callback list for an online/offline flip.
// Must be called with the mutex held; invocation happens after unlock.
func (m *Monitor) transitionCallbacks(online bool) []func() {
	snapshot := m.status
	snapshot.Online = online
	var fire []func()
	for _, fn := range m.onChange {
		fn := fn
		fire = append(fire, func() { m.safeCall(func() { fn(snapshot) }) })
	}
	if online {
		for _, fn := range m.onReconnected {
			fn := fn
			fire = append(fire, func() { m.safeCall(fn) })
		}
	} else {
		for _, fn := range m.onLost {
			fn := fn
			fire = append(fire, func() { m.safeCall(fn) })
		}
	}
	return fire
}

// safeCall isolates a panicking subscriber so delivery continues.
func (m *Monitor) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("connection callback panicked", "panic", r)
		}
	}()
	fn()
}

// OnConnectionChange registers a callback fired once per transition.
func (m *Monitor) OnConnectionChange(fn func(domain.ConnectionStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// OnReconnected registers a callback fired on each offline-to-online flip.
func (m *Monitor) OnReconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnected = append(m.onReconnected, fn)
}

// OnConnectionLost registers a callback fired on each online-to-offline flip.
func (m *Monitor) OnConnectionLost(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLost = append(m.onLost, fn)
}

// GetConnectionStatus returns a copy of the current status.
func (m *Monitor) GetConnectionStatus() domain.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsOnline reports whether the remote service is currently reachable.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Online
}
