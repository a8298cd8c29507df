package pipeline

import (
	"errors"
	"fmt"

	"github.com/jonathan/jobhunter/internal/generation"
	"github.com/jonathan/jobhunter/internal/scoring"
	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/types"
)

// Errors surfaced by Engine operations. Adapter failures are translated into these
// before they reach callers.
var (
	// ErrScoringUnavailable means the scorer failed after its retry budget. The
	// posting stays discovered and is retried on the next scoring cycle.
	ErrScoringUnavailable = scoring.ErrUnavailable
	// ErrSubmitFailed means the submission call failed after its retry budget.
	ErrSubmitFailed = errors.New("submission failed")
	// ErrCapReached means the daily application cap refused entry into submitting.
	ErrCapReached = errors.New("daily application cap reached")
	// ErrNotFound means the application, posting or profile does not exist.
	ErrNotFound = store.ErrNotFound
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("stage conflict")
	// ErrInvalid matches malformed requests such as unknown decisions.
	ErrInvalid = errors.New("invalid request")
)

// GenerationError reports which document failed to generate and why.
type GenerationError = generation.Error

// ConflictError reports an operation that is not legal in the application's current stage.
type ConflictError struct {
	ApplicationID int64
	Stage         types.Stage
	Op            string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("application %d is %s: cannot %s", e.ApplicationID, e.Stage, e.Op)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// InvariantError is a broken engine invariant, such as a posting scored twice.
// It indicates a bug or concurrent writers outside the engine and is logged at error level.
type InvariantError struct {
	Op     string
	Detail string
	Cause  error
}

func (e *InvariantError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invariant violated in %s: %s: %v", e.Op, e.Detail, e.Cause)
	}
	return fmt.Sprintf("invariant violated in %s: %s", e.Op, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return e.Cause
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
