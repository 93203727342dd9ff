// Package queue buffers mutating actions while the connection is down and
// replays them against the remote once it comes back.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/uplink/internal/conn/metrics"
	"github.com/vietddude/uplink/internal/core/domain"
	"github.com/vietddude/uplink/internal/infra/remote"
	"github.com/vietddude/uplink/internal/infra/storage"
)

// ErrReplayInProgress is returned when a replay is requested while another
// replay is still running.
var ErrReplayInProgress = errors.New("replay already in progress")

// Config holds queue settings.
type Config struct {
	DefaultMaxRetries uint32
	MutateTimeout     time.Duration
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMaxRetries: 3,
		MutateTimeout:     10 * time.Second,
	}
}

// EnqueueInput describes an action to queue. MaxRetries of zero means the
// configured default.
type EnqueueInput struct {
	Type         domain.ActionType
	Target       string
	Payload      []byte
	Priority     domain.Priority
	Dependencies []string
	MaxRetries   uint32
}

// Queue persists actions through an ActionStore and replays them through a
// remote.Mutate. At most one replay runs at a time.
type Queue struct {
	cfg    Config
	store  storage.ActionStore
	mutate remote.Mutate
	log    *slog.Logger

	mu        sync.Mutex
	replaying bool

	onProgress []func(processed, total int)
	onConflict []func(domain.Conflict)
}

// New creates a queue backed by the given store and remote.
func New(cfg Config, store storage.ActionStore, mutate remote.Mutate, log *slog.Logger) *Queue {
	if cfg.DefaultMaxRetries == 0 {
		cfg.DefaultMaxRetries = 3
	}
	if cfg.MutateTimeout <= 0 {
		cfg.MutateTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{cfg: cfg, store: store, mutate: mutate, log: log}
}

// Enqueue persists a new action and returns it with its assigned id.
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (*domain.QueuedAction, error) {
	if in.Target == "" {
		return nil, fmt.Errorf("enqueue: target is required")
	}
	maxRetries := in.MaxRetries
	if maxRetries == 0 {
		maxRetries = q.cfg.DefaultMaxRetries
	}

	action := &domain.QueuedAction{
		ID:           uuid.NewString(),
		Type:         in.Type,
		Target:       in.Target,
		Payload:      in.Payload,
		EnqueuedAt:   time.Now().UTC(),
		MaxRetries:   maxRetries,
		Priority:     in.Priority,
		Dependencies: in.Dependencies,
	}
	if err := q.store.Put(ctx, action); err != nil {
		return nil, fmt.Errorf("enqueue %s on %q: %w", in.Type, in.Target, err)
	}

	q.updateDepthGauge(ctx)
	q.log.Debug("action queued",
		"id", action.ID, "type", action.Type, "target", action.Target, "priority", action.Priority)
	return action, nil
}

// RemoveQueuedAction deletes an action. Removing an absent id is a no-op.
func (q *Queue) RemoveQueuedAction(ctx context.Context, id string) error {
	if err := q.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove action %s: %w", id, err)
	}
	q.updateDepthGauge(ctx)
	return nil
}

// Count returns the number of queued actions.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return q.store.Count(ctx)
}

// GetQueuedActions returns all queued actions in replay order.
func (q *Queue) GetQueuedActions(ctx context.Context) ([]*domain.QueuedAction, error) {
	return q.ordered(ctx, domain.ActionFilter{})
}

// ordered loads matching actions sorted by priority (high first), then age
// (oldest first), with the constraint that an action never precedes one of
// its still-queued dependencies.
func (q *Queue) ordered(ctx context.Context, filter domain.ActionFilter) ([]*domain.QueuedAction, error) {
	all, err := q.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queued actions: %w", err)
	}

	actions := all[:0:0]
	for _, a := range all {
		if filter.Matches(a) {
			actions = append(actions, a)
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Priority != actions[j].Priority {
			return actions[i].Priority > actions[j].Priority
		}
		return actions[i].EnqueuedAt.Before(actions[j].EnqueuedAt)
	})

	return orderByDependencies(actions), nil
}

// orderByDependencies keeps the incoming sort order except that an action is
// emitted only after every dependency present in the batch. Unknown
// dependency ids do not block. A dependency cycle degrades to the plain sort
// order for the actions involved.
func orderByDependencies(actions []*domain.QueuedAction) []*domain.QueuedAction {
	inBatch := make(map[string]bool, len(actions))
	for _, a := range actions {
		inBatch[a.ID] = true
	}

	out := make([]*domain.QueuedAction, 0, len(actions))
	emitted := make(map[string]bool, len(actions))
	pending := actions

	for len(pending) > 0 {
		progressed := false
		var deferred []*domain.QueuedAction
		for _, a := range pending {
			ready := true
			for _, dep := range a.Dependencies {
				if inBatch[dep] && !emitted[dep] {
					ready = false
					break
				}
			}
			if ready {
				out = append(out, a)
				emitted[a.ID] = true
				progressed = true
			} else {
				deferred = append(deferred, a)
			}
		}
		if !progressed {
			out = append(out, deferred...)
			break
		}
		pending = deferred
	}
	return out
}

// Replay applies every queued action against the remote in replay order.
// Only one replay runs at a time; a concurrent call fails fast with
// ErrReplayInProgress and no side effects.
func (q *Queue) Replay(ctx context.Context) (*domain.ReplayResult, error) {
	return q.replay(ctx, domain.ActionFilter{})
}

// SyncTarget replays only the actions queued for one target.
func (q *Queue) SyncTarget(ctx context.Context, target string) (*domain.ReplayResult, error) {
	return q.replay(ctx, domain.ActionFilter{Target: target})
}

func (q *Queue) replay(ctx context.Context, filter domain.ActionFilter) (*domain.ReplayResult, error) {
	q.mu.Lock()
	if q.replaying {
		q.mu.Unlock()
		return nil, ErrReplayInProgress
	}
	q.replaying = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.replaying = false
		q.mu.Unlock()
	}()

	actions, err := q.ordered(ctx, filter)
	if err != nil {
		return nil, err
	}

	total := len(actions)
	result := &domain.ReplayResult{Success: true}
	if total == 0 {
		return result, nil
	}

	q.log.Info("replaying queued actions", "count", total)

	for i, action := range actions {
		if q.blockedByDependency(ctx, action) {
			// Dependency failed earlier in this pass; leave for next replay.
			q.fireProgress(i+1, total)
			continue
		}

		q.apply(ctx, action, result)
		q.fireProgress(i+1, total)
	}

	result.Success = result.FailedActions == 0 && len(result.Conflicts) == 0 && len(result.Errors) == 0
	q.updateDepthGauge(ctx)

	q.log.Info("replay finished",
		"synced", result.SyncedActions,
		"failed", result.FailedActions,
		"conflicts", len(result.Conflicts))
	return result, nil
}

// blockedByDependency reports whether any dependency is still queued, which
// means it has not been synced yet.
func (q *Queue) blockedByDependency(ctx context.Context, action *domain.QueuedAction) bool {
	for _, dep := range action.Dependencies {
		stored, err := q.store.Get(ctx, dep)
		if err != nil {
			q.log.Warn("dependency lookup failed", "action", action.ID, "dependency", dep, "err", err)
			return true
		}
		if stored != nil {
			return true
		}
	}
	return false
}

// apply sends one action to the remote and settles it according to the
// error class: synced actions and permanently failed ones leave the queue,
// transient failures stay queued with a bumped retry count until the retry
// budget runs out, conflicts are surfaced and dropped.
func (q *Queue) apply(ctx context.Context, action *domain.QueuedAction, result *domain.ReplayResult) {
	mctx, cancel := context.WithTimeout(ctx, q.cfg.MutateTimeout)
	err := q.mutate.Apply(mctx, action)
	cancel()

	if err == nil {
		if derr := q.store.Delete(ctx, action.ID); derr != nil {
			q.log.Warn("failed to dequeue synced action", "id", action.ID, "err", derr)
		}
		result.SyncedActions++
		metrics.ReplayActionsTotal.WithLabelValues("synced").Inc()
		return
	}

	switch remote.Classify(err) {
	case remote.KindConflict:
		conflict := domain.Conflict{Action: action, Detail: remote.Detail(err)}
		if derr := q.store.Delete(ctx, action.ID); derr != nil {
			q.log.Warn("failed to dequeue conflicted action", "id", action.ID, "err", derr)
		}
		result.Conflicts = append(result.Conflicts, conflict)
		metrics.ReplayActionsTotal.WithLabelValues("conflict").Inc()
		q.log.Warn("action conflicted", "id", action.ID, "target", action.Target, "detail", conflict.Detail)
		q.fireConflict(conflict)

	case remote.KindPermanent:
		if derr := q.store.Delete(ctx, action.ID); derr != nil {
			q.log.Warn("failed to dequeue rejected action", "id", action.ID, "err", derr)
		}
		result.FailedActions++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", action.ID, err))
		metrics.ReplayActionsTotal.WithLabelValues("failed").Inc()
		q.log.Error("action rejected", "id", action.ID, "target", action.Target, "err", err)

	default: // transient
		action.RetryCount++
		if action.RetryCount > action.MaxRetries {
			if derr := q.store.Delete(ctx, action.ID); derr != nil {
				q.log.Warn("failed to dequeue exhausted action", "id", action.ID, "err", derr)
			}
			result.FailedActions++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: retries exhausted: %v", action.ID, err))
			metrics.ReplayActionsTotal.WithLabelValues("failed").Inc()
			q.log.Error("action retries exhausted",
				"id", action.ID, "target", action.Target, "retries", action.RetryCount-1, "err", err)
			return
		}
		if perr := q.store.Put(ctx, action); perr != nil {
			q.log.Warn("failed to persist retry count", "id", action.ID, "err", perr)
		}
		// Still queued for the next pass; counted as an error, not a failure.
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", action.ID, err))
		metrics.ReplayActionsTotal.WithLabelValues("retried").Inc()
		q.log.Warn("action failed, will retry",
			"id", action.ID, "target", action.Target,
			"retry", action.RetryCount, "max_retries", action.MaxRetries, "err", err)
	}
}

// OnSyncProgress registers a callback fired after each action is processed
// during a replay.
func (q *Queue) OnSyncProgress(fn func(processed, total int)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onProgress = append(q.onProgress, fn)
}

// OnConflict registers a callback fired for each conflicted action.
func (q *Queue) OnConflict(fn func(domain.Conflict)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onConflict = append(q.onConflict, fn)
}

func (q *Queue) fireProgress(processed, total int) {
	q.mu.Lock()
	fns := q.onProgress
	q.mu.Unlock()
	for _, fn := range fns {
		q.safeCall(func() { fn(processed, total) })
	}
}

func (q *Queue) fireConflict(c domain.Conflict) {
	q.mu.Lock()
	fns := q.onConflict
	q.mu.Unlock()
	for _, fn := range fns {
		q.safeCall(func() { fn(c) })
	}
}

func (q *Queue) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("queue callback panicked", "panic", r)
		}
	}()
	fn()
}

func (q *Queue) updateDepthGauge(ctx context.Context) {
	if n, err := q.store.Count(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
