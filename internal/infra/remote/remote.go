// Package remote abstracts the backing service behind probe and mutate
// capabilities. The core never sees the wire protocol; adapters in this
// package translate transport errors into the shared failure taxonomy.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/uplink/internal/core/domain"
)

// Probe is a cheap, side-effect-free reachability check.
type Probe interface {
	// Check returns the measured round-trip latency in milliseconds.
	// The caller bounds the call with a context timeout.
	Check(ctx context.Context) (int64, error)
}

// Mutate applies a buffered action to the remote system.
type Mutate interface {
	Apply(ctx context.Context, action *domain.QueuedAction) error
}

// ErrorKind classifies a mutate failure.
type ErrorKind int

const (
	KindTransient ErrorKind = iota // timeout, network, 5xx: retried
	KindConflict                   // uniqueness/precondition: never retried
	KindPermanent                  // malformed request: never retried
)

func (k ErrorKind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// MutateError tags a remote rejection with its failure kind.
type MutateError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *MutateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *MutateError) Unwrap() error { return e.Err }

// NewMutateError builds a tagged mutate error.
func NewMutateError(kind ErrorKind, detail string, err error) *MutateError {
	return &MutateError{Kind: kind, Detail: detail, Err: err}
}

// conflictPatterns mark remote rejections that mean the mutation cannot be
// applied as-is. Which backend errors count as conflicts is backend-specific;
// these cover the common uniqueness/precondition shapes.
var conflictPatterns = []string{
	"409",
	"conflict",
	"duplicate key",
	"already exists",
	"uniqueness violation",
	"precondition failed",
	"stale",
	"version mismatch",
}

var permanentPatterns = []string{
	"400",
	"422",
	"invalid payload",
	"unprocessable",
	"malformed",
	"unsupported action",
}

// Classify determines the failure kind of a mutate error. Tagged errors win;
// untagged ones are matched by message, defaulting to transient so that
// network blips are retried rather than dropped.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}

	var me *MutateError
	if errors.As(err, &me) {
		return me.Kind
	}

	s := strings.ToLower(err.Error())
	for _, p := range conflictPatterns {
		if strings.Contains(s, p) {
			return KindConflict
		}
	}
	for _, p := range permanentPatterns {
		if strings.Contains(s, p) {
			return KindPermanent
		}
	}

	return KindTransient
}

// Detail extracts the remote error detail for conflict reporting.
func Detail(err error) string {
	var me *MutateError
	if errors.As(err, &me) {
		return me.Detail
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
