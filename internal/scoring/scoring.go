// Package scoring rates how well a candidate fits a job posting.
package scoring

import (
	"context"
	"errors"

	"github.com/jonathan/jobhunter/internal/types"
)

// ErrUnavailable is returned by every Scorer when a score could not be produced.
// Transport, provider and decoding failures are all reported through it.
var ErrUnavailable = errors.New("scoring unavailable")

// Scorer produces a 0-100 match score and rationale. From the caller's point of view
// it is a pure function of its inputs.
type Scorer interface {
	Score(ctx context.Context, profile *types.CandidateProfile, posting *types.JobPosting) (types.Score, error)
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
