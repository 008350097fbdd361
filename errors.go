package auditlog

import (
	"errors"
	"fmt"
)

var (
	// ErrContextMiss reports that no metadata was registered for a transaction.
	// It is never returned to callers; the mutation is recorded with an unknown actor.
	ErrContextMiss = errors.New("auditlog: no context for transaction")

	// ErrUnsupportedEvent is returned for mutation kinds other than insert, update and delete.
	ErrUnsupportedEvent = errors.New("auditlog: unsupported event")

	// ErrDiff is returned when the row images of a mutation cannot be diffed.
	ErrDiff = errors.New("auditlog: cannot compute changes")

	// ErrMissingPreImage is returned when an update has no row image from before the change.
	ErrMissingPreImage = fmt.Errorf("%w: missing pre-image for update", ErrDiff)

	// ErrPersist is returned when the audit record could not be stored.
	ErrPersist = errors.New("auditlog: failed to persist record")

	// ErrTxAborted is returned once an audit failure made a transaction uncommittable.
	ErrTxAborted = errors.New("auditlog: transaction aborted by audit failure")
)

// Stage is a step in the life of a single audited mutation.
type Stage int

const (
	StagePending Stage = iota
	StageContextResolved
	StageDiffed
	StageWritten
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageContextResolved:
		return "context_resolved"
	case StageDiffed:
		return "diffed"
	case StageWritten:
		return "written"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageError is returned by the dispatcher. Stage is always StageFailed;
// Last is the last stage completed before the failure.
type StageError struct {
	Stage Stage
	Last  Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v (%s after %s)", e.Err, e.Stage, e.Last)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
