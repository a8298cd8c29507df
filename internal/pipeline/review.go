package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/jonathan/jobhunter/internal/types"
)

// ReviewResult is the outcome of a review decision. CapReached reports an approval
// that was recorded but could not start submitting because of the daily cap.
type ReviewResult struct {
	Application *types.Application `json:"application"`
	CapReached  bool               `json:"cap_reached"`
}

// Review applies a human decision to a ReadyForReview application. Approval starts
// submission immediately when the daily cap allows it.
func (e *Engine) Review(ctx context.Context, d types.ReviewDecision) (*ReviewResult, error) {
	if !d.Decision.Valid() {
		return nil, invalidf("unknown decision %q", d.Decision)
	}
	if d.Actor == "" {
		d.Actor = "reviewer"
	}
	if d.At.IsZero() {
		d.At = e.opts.Now()
	}

	switch d.Decision {
	case types.DecisionApprove:
		return e.approve(ctx, d)
	case types.DecisionReject:
		app, err := e.mutate(ctx, d.ApplicationID, "reject", func(t *txn) error {
			return t.append(types.EventRejected, d.Actor, "", d.At)
		})
		if err != nil {
			return nil, err
		}
		return &ReviewResult{Application: app}, nil
	default:
		return e.edit(ctx, d)
	}
}

func (e *Engine) approve(ctx context.Context, d types.ReviewDecision) (*ReviewResult, error) {
	app, err := e.mutate(ctx, d.ApplicationID, "approve", func(t *txn) error {
		return t.append(types.EventApproved, d.Actor, "", d.At)
	})
	if err != nil {
		return nil, err
	}

	submitting, err := e.startSubmission(ctx, d.ApplicationID, d.Actor)
	switch {
	case err == nil:
		return &ReviewResult{Application: submitting}, nil
	case errors.Is(err, ErrCapReached):
		e.logger.Info("approved application waiting for cap", "application_id", d.ApplicationID)
		return &ReviewResult{Application: app, CapReached: true}, nil
	default:
		// The approval stands; a concurrent caller already moved it on.
		e.logger.Warn("approved application not submitted", "application_id", d.ApplicationID, "error", err)
		current, getErr := e.Get(ctx, d.ApplicationID)
		if getErr != nil {
			return &ReviewResult{Application: app}, nil
		}
		return &ReviewResult{Application: current}, nil
	}
}

func (e *Engine) edit(ctx context.Context, d types.ReviewDecision) (*ReviewResult, error) {
	if strings.TrimSpace(d.CVText) == "" && strings.TrimSpace(d.CoverLetterText) == "" {
		return nil, invalidf("edit needs cv_text or cover_letter_text")
	}
	app, err := e.mutate(ctx, d.ApplicationID, "edit", func(t *txn) error {
		var changed []string
		if strings.TrimSpace(d.CVText) != "" {
			t.app.CVText = d.CVText
			changed = append(changed, string(types.ContentCV))
		}
		if strings.TrimSpace(d.CoverLetterText) != "" {
			t.app.CoverLetterText = d.CoverLetterText
			changed = append(changed, string(types.ContentCoverLetter))
		}
		return t.append(types.EventEdited, d.Actor, strings.Join(changed, ","), d.At)
	})
	if err != nil {
		return nil, err
	}
	return &ReviewResult{Application: app}, nil
}

// ReviewBatch approves or rejects each item independently and reports a result per
// item. Items are applied in order so earlier approvals claim the daily cap first.
func (e *Engine) ReviewBatch(ctx context.Context, items []types.BatchItem, actor string) []types.BatchResult {
	results := make([]types.BatchResult, 0, len(items))
	for _, item := range items {
		res := types.BatchResult{ApplicationID: item.ApplicationID}
		if item.Decision != types.DecisionApprove && item.Decision != types.DecisionReject {
			res.Outcome = types.BatchConflict
			res.Message = invalidf("batch decision must be approve or reject, got %q", item.Decision).Error()
			results = append(results, res)
			continue
		}

		out, err := e.Review(ctx, types.ReviewDecision{
			ApplicationID: item.ApplicationID,
			Decision:      item.Decision,
			Actor:         actor,
		})
		var conflict *ConflictError
		switch {
		case err == nil:
			res.Outcome = types.BatchApplied
			res.Stage = out.Application.Stage()
			if out.CapReached {
				res.Message = ErrCapReached.Error()
			}
		case errors.Is(err, ErrNotFound):
			res.Outcome = types.BatchNotFound
			res.Message = err.Error()
		case errors.As(err, &conflict):
			res.Outcome = types.BatchConflict
			res.Stage = conflict.Stage
			res.Message = err.Error()
		default:
			res.Outcome = types.BatchConflict
			res.Message = err.Error()
		}
		results = append(results, res)
	}
	return results
}
