// Package submission sends approved applications to the outside world.
package submission

import (
	"context"
	"errors"

	"github.com/jonathan/jobhunter/internal/types"
)

// ErrTransient marks failures that may succeed on retry (network errors, 5xx, 429).
// Any other error from a Submitter is permanent for the attempt's inputs.
var ErrTransient = errors.New("transient submission failure")

// Submitter performs the single side-effecting submission call for an application.
type Submitter interface {
	Submit(ctx context.Context, app *types.Application, posting *types.JobPosting, profile *types.CandidateProfile) (types.SubmissionReceipt, error)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
