// Package storage defines the durable keyed persistence the queue relies on.
// The concrete engine is interchangeable; implementations live in the
// redis, postgres, and memory subpackages.
package storage

import (
	"context"

	"github.com/vietddude/uplink/internal/core/domain"
)

// ActionStore persists queued actions until they are replayed or removed.
// Get returns (nil, nil) when the id is absent.
type ActionStore interface {
	Put(ctx context.Context, action *domain.QueuedAction) error
	Get(ctx context.Context, id string) (*domain.QueuedAction, error)
	GetAll(ctx context.Context) ([]*domain.QueuedAction, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}
