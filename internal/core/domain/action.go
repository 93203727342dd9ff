package domain

import (
	"encoding/json"
	"time"
)

// ActionType classifies a queued mutation.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Priority orders replay: High before Medium before Low.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// QueuedAction is a mutating operation buffered for replay. It stays in
// durable storage until it is applied remotely, removed explicitly, or its
// retries are exhausted.
type QueuedAction struct {
	ID           string          `json:"id"           db:"id"`
	Type         ActionType      `json:"type"         db:"type"`
	Target       string          `json:"target"       db:"target"`
	Payload      json.RawMessage `json:"payload"      db:"payload"`
	EnqueuedAt   time.Time       `json:"enqueued_at"  db:"enqueued_at"`
	RetryCount   uint32          `json:"retry_count"  db:"retry_count"`
	MaxRetries   uint32          `json:"max_retries"  db:"max_retries"`
	Priority     Priority        `json:"priority"     db:"priority"`
	Dependencies []string        `json:"dependencies" db:"-"`
}

// ActionFilter narrows GetQueuedActions results. Zero values match all.
type ActionFilter struct {
	Target string
	Type   ActionType
}

// Matches reports whether the action passes the filter.
func (f ActionFilter) Matches(a *QueuedAction) bool {
	if f.Target != "" && a.Target != f.Target {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	return true
}

// Conflict pairs a rejected action with the remote error detail. Conflicts
// are never retried automatically; resolution is up to the caller.
type Conflict struct {
	Action *QueuedAction `json:"action"`
	Detail string        `json:"detail"`
}

// ReplayResult aggregates the outcome of one replay pass.
type ReplayResult struct {
	Success       bool       `json:"success"`
	SyncedActions int        `json:"synced_actions"`
	FailedActions int        `json:"failed_actions"`
	Conflicts     []Conflict `json:"conflicts"`
	Errors        []string   `json:"errors"`
}
