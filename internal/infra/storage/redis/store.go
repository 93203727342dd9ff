// Package redis persists queued actions in Redis: one JSON value per action
// plus a sorted set ordered by enqueue time for stable iteration.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/uplink/internal/core/domain"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Store is a Redis-backed ActionStore.
type Store struct {
	rdb *redis.Client
}

const (
	orderKey  = "uplink:actions:order"
	actionKey = "uplink:action:%s"
)

// NewStore connects to Redis and verifies the connection.
func NewStore(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) Put(ctx context.Context, action *domain.QueuedAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(actionKey, action.ID), data, 0)
	pipe.ZAdd(ctx, orderKey, redis.Z{
		Score:  float64(action.EnqueuedAt.UnixNano()),
		Member: action.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put action: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.QueuedAction, error) {
	val, err := s.rdb.Get(ctx, fmt.Sprintf(actionKey, id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}

	var action domain.QueuedAction
	if err := json.Unmarshal([]byte(val), &action); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	return &action, nil
}

func (s *Store) GetAll(ctx context.Context) ([]*domain.QueuedAction, error) {
	ids, err := s.rdb.ZRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf(actionKey, id)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	actions := make([]*domain.QueuedAction, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Value expired or removed between ZRange and MGet.
			continue
		}
		var action domain.QueuedAction
		if err := json.Unmarshal([]byte(str), &action); err != nil {
			return nil, fmt.Errorf("unmarshal action: %w", err)
		}
		actions = append(actions, &action)
	}
	return actions, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(actionKey, id))
	pipe.ZRem(ctx, orderKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, orderKey).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(n), nil
}
