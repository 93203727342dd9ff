package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/uplink/internal/core/domain"
	"github.com/vietddude/uplink/internal/infra/remote"
	"github.com/vietddude/uplink/internal/infra/storage/memory"
)

// fakeMutate records applied actions and returns scripted errors by target.
type fakeMutate struct {
	mu    sync.Mutex
	errs  map[string]error // keyed by target
	calls map[string]int   // keyed by action id
	order []string         // targets in apply order
	block chan struct{}    // when set, Apply waits until closed
}

func newFakeMutate() *fakeMutate {
	return &fakeMutate{
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeMutate) Apply(ctx context.Context, action *domain.QueuedAction) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[action.ID]++
	f.order = append(f.order, action.Target)
	return f.errs[action.Target]
}

func (f *fakeMutate) callsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeMutate) appliedTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func newTestQueue(mutate *fakeMutate) *Queue {
	return New(DefaultConfig(), memory.NewStore(), mutate, nil)
}

func TestEnqueueAssignsDefaults(t *testing.T) {
	q := newTestQueue(newFakeMutate())
	ctx := context.Background()

	action, err := q.Enqueue(ctx, EnqueueInput{
		Type:    domain.ActionCreate,
		Target:  "notes/1",
		Payload: []byte(`{"title":"hello"}`),
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if action.ID == "" {
		t.Error("action.ID is empty, want generated id")
	}
	if action.EnqueuedAt.IsZero() {
		t.Error("action.EnqueuedAt is zero, want set")
	}
	if action.MaxRetries != 3 {
		t.Errorf("action.MaxRetries = %d, want default 3", action.MaxRetries)
	}

	n, err := q.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestEnqueueRequiresTarget(t *testing.T) {
	q := newTestQueue(newFakeMutate())
	if _, err := q.Enqueue(context.Background(), EnqueueInput{Type: domain.ActionCreate}); err == nil {
		t.Error("Enqueue() error = nil, want error for empty target")
	}
}

func TestOrderingPriorityThenAge(t *testing.T) {
	q := newTestQueue(newFakeMutate())
	ctx := context.Background()

	enqueue := func(target string, p domain.Priority) {
		t.Helper()
		if _, err := q.Enqueue(ctx, EnqueueInput{Type: domain.ActionUpdate, Target: target, Priority: p}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", target, err)
		}
		time.Sleep(time.Millisecond) // distinct enqueue times
	}

	enqueue("low-old", domain.PriorityLow)
	enqueue("high", domain.PriorityHigh)
	enqueue("low-new", domain.PriorityLow)
	enqueue("medium", domain.PriorityMedium)

	actions, err := q.GetQueuedActions(ctx)
	if err != nil {
		t.Fatalf("GetQueuedActions() error = %v", err)
	}

	want := []string{"high", "medium", "low-old", "low-new"}
	if len(actions) != len(want) {
		t.Fatalf("len(actions) = %d, want %d", len(actions), len(want))
	}
	for i, w := range want {
		if actions[i].Target != w {
			t.Errorf("actions[%d].Target = %q, want %q", i, actions[i].Target, w)
		}
	}
}

func TestDependencyOrdering(t *testing.T) {
	q := newTestQueue(newFakeMutate())
	ctx := context.Background()

	dep, err := q.Enqueue(ctx, EnqueueInput{
		Type: domain.ActionCreate, Target: "folders/1", Priority: domain.PriorityLow,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, EnqueueInput{
		Type:         domain.ActionCreate,
		Target:       "notes/1",
		Priority:     domain.PriorityHigh,
		Dependencies: []string{dep.ID},
	}); err != nil {
		t.Fatal(err)
	}

	actions, err := q.GetQueuedActions(ctx)
	if err != nil {
		t.Fatalf("GetQueuedActions() error = %v", err)
	}

	// The high-priority action must still come after the action it depends on.
	if actions[0].Target != "folders/1" || actions[1].Target != "notes/1" {
		t.Errorf("order = [%q, %q], want [folders/1, notes/1]",
			actions[0].Target, actions[1].Target)
	}
}

func TestReplaySuccess(t *testing.T) {
	mutate := newFakeMutate()
	q := newTestQueue(mutate)
	ctx := context.Background()

	q.Enqueue(ctx, EnqueueInput{Type: domain.ActionCreate, Target: "notes/1"})
	q.Enqueue(ctx, EnqueueInput{Type: domain.ActionUpdate, Target: "notes/2"})

	var progress [][2]int
	var progressMu sync.Mutex
	q.OnSyncProgress(func(done, total int) {
		progressMu.Lock()
		progress = append(progress, [2]int{done, total})
		progressMu.Unlock()
	})

	result, err := q.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if !result.Success {
		t.Error("result.Success = false, want true")
	}
	if result.SyncedActions != 2 {
		t.Errorf("result.SyncedActions = %d, want 2", result.SyncedActions)
	}

	if n, _ := q.Count(ctx); n != 0 {
		t.Errorf("Count() after replay = %d, want 0", n)
	}

	progressMu.Lock()
	defer progressMu.Unlock()
	want := [][2]int{{1, 2}, {2, 2}}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, progress[i], want[i])
		}
	}
}

func TestReplaySingleFlight(t *testing.T) {
	mutate := newFakeMutate()
	mutate.block = make(chan struct{})
	q := newTestQueue(mutate)
	ctx := context.Background()

	q.Enqueue(ctx, EnqueueInput{Type: domain.ActionCreate, Target: "notes/1"})

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		q.Replay(ctx)
		close(done)
	}()
	<-started
	time.Sleep(10 * time.Millisecond) // let the replay claim the flag

	if _, err := q.Replay(ctx); err != ErrReplayInProgress {
		t.Errorf("concurrent Replay() error = %v, want ErrReplayInProgress", err)
	}

	close(mutate.block)
	<-done

	// A later replay proceeds normally.
	if _, err := q.Replay(ctx); err != nil {
		t.Errorf("Replay() after completion error = %v, want nil", err)
	}
}

func TestTransientRetryBudget(t *testing.T) {
	mutate := newFakeMutate()
	mutate.errs["notes/1"] = errors.New("connection reset by peer")
	q := newTestQueue(mutate)
	ctx := context.Background()

	action, err := q.Enqueue(ctx, EnqueueInput{
		Type: domain.ActionUpdate, Target: "notes/1", MaxRetries: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Stays queued while the retry budget holds: maxRetries 2 allows the
	// initial attempt plus two retries.
	for i := 1; i <= 2; i++ {
		result, err := q.Replay(ctx)
		if err != nil {
			t.Fatalf("Replay %d error = %v", i, err)
		}
		if result.Success {
			t.Errorf("replay %d Success = true, want false", i)
		}
		if result.FailedActions != 0 {
			t.Errorf("replay %d FailedActions = %d, want 0 while budget holds", i, result.FailedActions)
		}
		if n, _ := q.Count(ctx); n != 1 {
			t.Fatalf("Count() after replay %d = %d, want 1", i, n)
		}
	}

	// Third failure exhausts the budget and drops the action.
	result, err := q.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if result.FailedActions != 1 {
		t.Errorf("result.FailedActions = %d, want 1", result.FailedActions)
	}
	if n, _ := q.Count(ctx); n != 0 {
		t.Errorf("Count() = %d, want 0 after retries exhausted", n)
	}
	if got := mutate.callsFor(action.ID); got != 3 {
		t.Errorf("apply calls = %d, want exactly 3", got)
	}
}

func TestConflictDropsAction(t *testing.T) {
	mutate := newFakeMutate()
	mutate.errs["notes/1"] = remote.NewMutateError(
		remote.KindConflict, "version mismatch", errors.New("409 Conflict"))
	q := newTestQueue(mutate)
	ctx := context.Background()

	q.Enqueue(ctx, EnqueueInput{Type: domain.ActionUpdate, Target: "notes/1"})

	var conflicts []domain.Conflict
	var mu sync.Mutex
	q.OnConflict(func(c domain.Conflict) {
		mu.Lock()
		conflicts = append(conflicts, c)
		mu.Unlock()
	})

	result, err := q.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	if len(result.Conflicts) != 1 {
		t.Fatalf("len(result.Conflicts) = %d, want 1", len(result.Conflicts))
	}
	if result.Conflicts[0].Detail != "version mismatch" {
		t.Errorf("Conflicts[0].Detail = %q, want %q", result.Conflicts[0].Detail, "version mismatch")
	}
	if result.FailedActions != 0 {
		t.Errorf("result.FailedActions = %d, want 0 (conflicts are not failures)", result.FailedActions)
	}
	if result.Success {
		t.Error("result.Success = true, want false when a conflict occurred")
	}
	if n, _ := q.Count(ctx); n != 0 {
		t.Errorf("Count() = %d, want 0 (conflicted action dropped)", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(conflicts) != 1 {
		t.Errorf("conflict callbacks = %d, want 1", len(conflicts))
	}
}

func TestPermanentFailureDropsAction(t *testing.T) {
	mutate := newFakeMutate()
	mutate.errs["notes/1"] = remote.NewMutateError(
		remote.KindPermanent, "invalid payload", errors.New("422 Unprocessable Entity"))
	q := newTestQueue(mutate)
	ctx := context.Background()

	action, _ := q.Enqueue(ctx, EnqueueInput{Type: domain.ActionCreate, Target: "notes/1"})

	result, err := q.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if result.FailedActions != 1 {
		t.Errorf("result.FailedActions = %d, want 1", result.FailedActions)
	}
	if n, _ := q.Count(ctx); n != 0 {
		t.Errorf("Count() = %d, want 0 (rejected action not retried)", n)
	}
	if got := mutate.callsFor(action.ID); got != 1 {
		t.Errorf("apply calls = %d, want 1", got)
	}
}

func TestDependentSkippedWhenDependencyFails(t *testing.T) {
	mutate := newFakeMutate()
	mutate.errs["folders/1"] = errors.New("timeout")
	q := newTestQueue(mutate)
	ctx := context.Background()

	dep, _ := q.Enqueue(ctx, EnqueueInput{Type: domain.ActionCreate, Target: "folders/1"})
	child, _ := q.Enqueue(ctx, EnqueueInput{
		Type: domain.ActionCreate, Target: "notes/1", Dependencies: []string{dep.ID},
	})

	result, err := q.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if result.Success {
		t.Error("result.Success = true, want false")
	}
	if got := mutate.callsFor(child.ID); got != 0 {
		t.Errorf("dependent apply calls = %d, want 0 while dependency is unsynced", got)
	}
	if n, _ := q.Count(ctx); n != 2 {
		t.Errorf("Count() = %d, want 2 (both actions still queued)", n)
	}
}

func TestSyncTargetIsScoped(t *testing.T) {
	mutate := newFakeMutate()
	q := newTestQueue(mutate)
	ctx := context.Background()

	q.Enqueue(ctx, EnqueueInput{Type: domain.ActionUpdate, Target: "notes/1"})
	q.Enqueue(ctx, EnqueueInput{Type: domain.ActionUpdate, Target: "notes/2"})

	result, err := q.SyncTarget(ctx, "notes/1")
	if err != nil {
		t.Fatalf("SyncTarget() error = %v", err)
	}
	if result.SyncedActions != 1 {
		t.Errorf("result.SyncedActions = %d, want 1", result.SyncedActions)
	}

	if got := mutate.appliedTargets(); len(got) != 1 || got[0] != "notes/1" {
		t.Errorf("applied targets = %v, want [notes/1]", got)
	}
	if n, _ := q.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1 (other target untouched)", n)
	}
}

func TestRemoveAbsentActionIsNoOp(t *testing.T) {
	q := newTestQueue(newFakeMutate())
	if err := q.RemoveQueuedAction(context.Background(), "no-such-id"); err != nil {
		t.Errorf("RemoveQueuedAction() error = %v, want nil", err)
	}
}

func TestReplayEmptyQueue(t *testing.T) {
	q := newTestQueue(newFakeMutate())
	result, err := q.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if !result.Success {
		t.Error("result.Success = false, want true for empty queue")
	}
	if result.SyncedActions != 0 {
		t.Errorf("result.SyncedActions = %d, want 0", result.SyncedActions)
	}
}
