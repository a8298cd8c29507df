package submission

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/jobhunter/internal/types"
)

// DryRunSubmitter records what would have been sent and always succeeds.
type DryRunSubmitter struct {
	logger *slog.Logger
}

// NewDryRunSubmitter creates a submitter that only logs. A nil logger uses slog.Default.
func NewDryRunSubmitter(logger *slog.Logger) *DryRunSubmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunSubmitter{logger: logger}
}

// Submit implements Submitter
func (s *DryRunSubmitter) Submit(ctx context.Context, app *types.Application, posting *types.JobPosting, _ *types.CandidateProfile) (types.SubmissionReceipt, error) {
	if err := ctx.Err(); err != nil {
		return types.SubmissionReceipt{}, err
	}
	receipt := types.SubmissionReceipt{
		ID:          uuid.New().String(),
		Channel:     "dry-run",
		SubmittedAt: time.Now(),
	}
	s.logger.Info("dry-run submission",
		"application_id", app.ID,
		"posting_id", posting.ID,
		"company", posting.Company,
		"receipt_id", receipt.ID,
		"cv_chars", len(app.CVText),
		"cover_letter_chars", len(app.CoverLetterText),
	)
	return receipt, nil
}
