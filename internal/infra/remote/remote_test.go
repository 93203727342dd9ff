package remote

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		expect ErrorKind
	}{
		{errors.New("409 Conflict"), KindConflict},
		{errors.New("duplicate key value"), KindConflict},
		{errors.New("note already exists"), KindConflict},
		{errors.New("precondition failed"), KindConflict},
		{errors.New("stale object"), KindConflict},
		{errors.New("version mismatch"), KindConflict},
		{errors.New("400 Bad Request"), KindPermanent},
		{errors.New("422 Unprocessable Entity"), KindPermanent},
		{errors.New("invalid payload"), KindPermanent},
		{errors.New("malformed body"), KindPermanent},
		{errors.New("connection reset by peer"), KindTransient},
		{errors.New("timeout"), KindTransient},
		{errors.New("503 Service Unavailable"), KindTransient},
		{nil, KindTransient},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.expect {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

func TestClassifyTaggedErrorWins(t *testing.T) {
	// A tagged conflict whose message looks transient stays a conflict.
	err := NewMutateError(KindConflict, "etag moved", errors.New("timeout"))
	if got := Classify(err); got != KindConflict {
		t.Errorf("Classify(tagged) = %v, want %v", got, KindConflict)
	}

	// Tagged errors survive wrapping.
	wrapped := fmt.Errorf("apply: %w", NewMutateError(KindPermanent, "bad field", nil))
	if got := Classify(wrapped); got != KindPermanent {
		t.Errorf("Classify(wrapped) = %v, want %v", got, KindPermanent)
	}
}

func TestDetail(t *testing.T) {
	if got := Detail(NewMutateError(KindConflict, "version mismatch", nil)); got != "version mismatch" {
		t.Errorf("Detail() = %q, want %q", got, "version mismatch")
	}
	if got := Detail(errors.New("plain")); got != "plain" {
		t.Errorf("Detail(plain) = %q, want %q", got, "plain")
	}
	if got := Detail(nil); got != "" {
		t.Errorf("Detail(nil) = %q, want empty", got)
	}
}
