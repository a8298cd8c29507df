// Package generation produces tailored CVs and cover letters for a posting.
package generation

import (
	"context"
	"fmt"

	"github.com/jonathan/jobhunter/internal/types"
)

// Error reports a failed generation for one content type. Adapters return it for
// every failure so the engine never sees provider errors.
type Error struct {
	ContentType types.ContentType
	Reason      string
	Cause       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation of %s failed: %s", e.ContentType, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Generator produces one document. Implementations must be safe for concurrent use;
// the engine requests the CV and the cover letter in parallel.
type Generator interface {
	Generate(ctx context.Context, profile *types.CandidateProfile, posting *types.JobPosting, contentType types.ContentType, tone types.ToneConfig) (types.Draft, error)
}

func fail(ct types.ContentType, reason string, cause error) *Error {
	return &Error{ContentType: ct, Reason: reason, Cause: cause}
}

// letterWords maps the configured cover letter length to a target word count.
func letterWords(length string) string {
	switch length {
	case "short":
		return "150-200"
	case "long":
		return "400-500"
	default:
		return "250-350"
	}
}
