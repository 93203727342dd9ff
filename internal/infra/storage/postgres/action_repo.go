package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/uplink/internal/core/domain"
)

// ActionRepo is a PostgreSQL-backed ActionStore.
type ActionRepo struct {
	db *DB
}

func NewActionRepo(db *DB) *ActionRepo {
	return &ActionRepo{db: db}
}

// actionRow maps the queued_actions table; dependencies travel as JSON.
type actionRow struct {
	ID           string    `db:"id"`
	Type         string    `db:"type"`
	Target       string    `db:"target"`
	Payload      []byte    `db:"payload"`
	EnqueuedAt   time.Time `db:"enqueued_at"`
	RetryCount   int32     `db:"retry_count"`
	MaxRetries   int32     `db:"max_retries"`
	Priority     int32     `db:"priority"`
	Dependencies []byte    `db:"dependencies"`
}

func (r actionRow) toDomain() (*domain.QueuedAction, error) {
	var deps []string
	if len(r.Dependencies) > 0 {
		if err := json.Unmarshal(r.Dependencies, &deps); err != nil {
			return nil, fmt.Errorf("unmarshal dependencies: %w", err)
		}
	}
	return &domain.QueuedAction{
		ID:           r.ID,
		Type:         domain.ActionType(r.Type),
		Target:       r.Target,
		Payload:      json.RawMessage(r.Payload),
		EnqueuedAt:   r.EnqueuedAt,
		RetryCount:   uint32(r.RetryCount),
		MaxRetries:   uint32(r.MaxRetries),
		Priority:     domain.Priority(r.Priority),
		Dependencies: deps,
	}, nil
}

func (r *ActionRepo) Put(ctx context.Context, action *domain.QueuedAction) error {
	deps, err := json.Marshal(action.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	query := `
		INSERT INTO queued_actions (id, type, target, payload, enqueued_at, retry_count, max_retries, priority, dependencies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			retry_count = EXCLUDED.retry_count,
			payload = EXCLUDED.payload
	`
	_, err = r.db.ExecContext(ctx, query,
		action.ID, string(action.Type), action.Target, []byte(action.Payload),
		action.EnqueuedAt, action.RetryCount, action.MaxRetries, int32(action.Priority), deps,
	)
	if err != nil {
		return fmt.Errorf("put action: %w", err)
	}
	return nil
}

func (r *ActionRepo) Get(ctx context.Context, id string) (*domain.QueuedAction, error) {
	var row actionRow
	query := `SELECT id, type, target, payload, enqueued_at, retry_count, max_retries, priority, dependencies
		FROM queued_actions WHERE id = $1`
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return row.toDomain()
}

func (r *ActionRepo) GetAll(ctx context.Context) ([]*domain.QueuedAction, error) {
	var rows []actionRow
	query := `SELECT id, type, target, payload, enqueued_at, retry_count, max_retries, priority, dependencies
		FROM queued_actions ORDER BY enqueued_at ASC`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}

	actions := make([]*domain.QueuedAction, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func (r *ActionRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM queued_actions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	return nil
}

func (r *ActionRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM queued_actions`); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}
