// Package control assembles the monitor, reconnection engine, and offline
// queue into one application and manages their lifecycle.
package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/uplink/internal/conn/monitor"
	"github.com/vietddude/uplink/internal/conn/queue"
	"github.com/vietddude/uplink/internal/conn/reconnect"
	"github.com/vietddude/uplink/internal/core/config"
	"github.com/vietddude/uplink/internal/core/domain"
	"github.com/vietddude/uplink/internal/infra/netsignal"
	"github.com/vietddude/uplink/internal/infra/remote"
	"github.com/vietddude/uplink/internal/infra/storage"
	"github.com/vietddude/uplink/internal/infra/storage/memory"
	"github.com/vietddude/uplink/internal/infra/storage/postgres"
	redisstore "github.com/vietddude/uplink/internal/infra/storage/redis"
)

// Uplink is the main application struct wiring all components together.
type Uplink struct {
	cfg    config.AppConfig
	mon    *monitor.Monitor
	engine *reconnect.Engine
	queue  *queue.Queue
	server *Server
	signal *netsignal.PollingSource

	db         *postgres.DB
	redisStore *redisstore.Store
	closers    []io.Closer

	log *slog.Logger
}

// NewUplink creates the application with all dependencies initialized.
func NewUplink(cfg config.AppConfig) (*Uplink, error) {
	log := slog.Default()

	store, app, err := buildStore(cfg, log)
	if err != nil {
		return nil, err
	}

	probe, closer, err := buildProbe(cfg.Remote)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}

	mutateTimeout := msDuration(cfg.Queue.MutateTimeoutMs, 10*time.Second)
	mutate := remote.NewHTTPMutate(cfg.Remote.MutateURL, mutateTimeout)

	app.cfg = cfg
	app.log = log
	app.signal = netsignal.NewPollingSource(5 * time.Second)

	app.mon = monitor.New(monitor.Config{
		HealthCheckInterval: msDuration(cfg.Monitor.HealthCheckIntervalMs, 30*time.Second),
		HeartbeatInterval:   msDuration(cfg.Monitor.HeartbeatIntervalMs, 10*time.Second),
		ProbeTimeout:        msDuration(cfg.Monitor.ProbeTimeoutMs, 5*time.Second),
		WakeDebounce:        msDuration(cfg.Monitor.WakeDebounceMs, time.Second),
		HistorySize:         cfg.Monitor.HistorySize,
		LatencyGoodMs:       int64(cfg.Monitor.LatencyGoodMs),
		LatencyPoorMs:       int64(cfg.Monitor.LatencyPoorMs),
	}, probe, app.signal, log)

	app.engine = reconnect.New(reconnect.Config{
		MaxAttempts:             uint32(cfg.Reconnect.MaxAttempts),
		BaseDelay:               msDuration(cfg.Reconnect.BaseDelayMs, time.Second),
		MaxDelay:                msDuration(cfg.Reconnect.MaxDelayMs, 16*time.Second),
		BackoffMultiplier:       cfg.Reconnect.BackoffMultiplier,
		JitterEnabled:           cfg.Reconnect.JitterEnabled,
		AdaptiveBackoff:         cfg.Reconnect.AdaptiveBackoff,
		CircuitBreakerThreshold: uint32(cfg.Reconnect.CircuitBreakerThreshold),
		BreakerReset:            msDuration(cfg.Reconnect.BreakerResetMs, 2*time.Minute),
		QualityInterval:         msDuration(cfg.Reconnect.QualityIntervalMs, time.Minute),
		FallbackStrategies:      parseStrategies(cfg.Reconnect.FallbackStrategies),
	}, app.mon, log)

	app.queue = queue.New(queue.Config{
		DefaultMaxRetries: uint32(cfg.Queue.DefaultMaxRetries),
		MutateTimeout:     mutateTimeout,
	}, store, mutate, log)

	// Replay queued actions whenever the connection comes back.
	if !cfg.Queue.NoAutoReplay {
		app.mon.OnReconnected(func() {
			go func() {
				result, err := app.queue.Replay(context.Background())
				if err != nil {
					if err != queue.ErrReplayInProgress {
						log.Error("replay after reconnect failed", "err", err)
					}
					return
				}
				log.Info("replay after reconnect",
					"synced", result.SyncedActions, "failed", result.FailedActions)
			}()
		})
	}

	app.server = NewServer(app, cfg.Server.Port)
	return app, nil
}

// buildStore selects the queue backend: postgres when a database URL is
// configured, then redis, falling back to memory.
func buildStore(cfg config.AppConfig, log *slog.Logger) (storage.ActionStore, *Uplink, error) {
	app := &Uplink{}

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		app.db = db
		log.Info("using postgres queue storage")
		return postgres.NewActionRepo(db), app, nil
	}

	if cfg.Redis.URL != "" {
		rs, err := redisstore.NewStore(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init redis: %w", err)
		}
		app.redisStore = rs
		log.Info("using redis queue storage")
		return rs, app, nil
	}

	log.Info("using memory queue storage")
	return memory.NewStore(), app, nil
}

// buildProbe selects the health probe adapter by config.
func buildProbe(cfg config.RemoteConfig) (remote.Probe, io.Closer, error) {
	timeout := 5 * time.Second
	switch cfg.Probe {
	case "grpc":
		p, err := remote.NewGRPCProbe(cfg.GRPCEndpoint, cfg.GRPCService)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create grpc probe: %w", err)
		}
		return p, closerFunc(p.Close), nil
	case "websocket":
		return remote.NewWSProbe(cfg.ProbeURL, timeout), nil, nil
	default:
		return remote.NewHTTPProbe(cfg.ProbeURL, timeout), nil, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func parseStrategies(names []string) []domain.Strategy {
	out := make([]domain.Strategy, 0, len(names))
	for _, n := range names {
		switch domain.Strategy(n) {
		case domain.StrategyLinear, domain.StrategyImmediate, domain.StrategyExponential:
			out = append(out, domain.Strategy(n))
		}
	}
	return out
}

func msDuration(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Start brings up the signal watcher, monitor, engine, and status server.
func (u *Uplink) Start(ctx context.Context) error {
	u.signal.Start()
	u.mon.StartMonitoring()
	u.engine.Start()

	go func() {
		if err := u.server.Start(); err != nil && err != http.ErrServerClosed {
			u.log.Error("status server failed", "err", err)
		}
	}()

	u.log.Info("uplink started", "port", u.cfg.Server.Port)
	return nil
}

// Stop shuts everything down in reverse order.
func (u *Uplink) Stop(ctx context.Context) error {
	var firstErr error

	if err := u.server.Stop(ctx); err != nil {
		firstErr = err
	}
	u.engine.Stop()
	u.mon.StopMonitoring()
	u.signal.Stop()

	for _, c := range u.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if u.redisStore != nil {
		if err := u.redisStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if u.db != nil {
		if err := u.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	u.log.Info("uplink stopped")
	return firstErr
}

// Monitor exposes the health monitor.
func (u *Uplink) Monitor() *monitor.Monitor { return u.mon }

// Engine exposes the reconnection engine.
func (u *Uplink) Engine() *reconnect.Engine { return u.engine }

// Queue exposes the offline action queue.
func (u *Uplink) Queue() *queue.Queue { return u.queue }
