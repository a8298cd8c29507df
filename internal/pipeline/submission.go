package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/submission"
	"github.com/jonathan/jobhunter/internal/types"
)

// dayKey identifies the local calendar day the cap applies to.
func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// loadCapLocked makes capCount reflect today. It must be called with capMu held.
// Today's count is submissions recorded today plus submissions still in flight.
func (e *Engine) loadCapLocked(ctx context.Context) error {
	now := e.opts.Now()
	if e.capLoaded && e.capDay == dayKey(now) {
		return nil
	}
	submitted, err := e.store.CountEventsSince(ctx, e.opts.CandidateID, types.EventSubmitted, startOfDay(now))
	if err != nil {
		return fmt.Errorf("failed to load daily submissions: %w", err)
	}
	inFlight, err := e.store.ListApplications(ctx, store.ApplicationFilter{
		CandidateID: e.opts.CandidateID,
		Stages:      []types.Stage{types.StageSubmitting},
	})
	if err != nil {
		return fmt.Errorf("failed to load in-flight submissions: %w", err)
	}
	e.capDay = dayKey(now)
	e.capCount = submitted + len(inFlight)
	e.capLoaded = true
	return nil
}

// autoApproves applies the auto-approval policy. A threshold of 0 disables it.
func autoApproves(profile *types.CandidateProfile, confidence int) bool {
	return profile.AutoApproveThreshold > 0 && confidence >= profile.AutoApproveThreshold
}

// reserveSlot takes one of today's submission slots, reporting false when the cap
// is reached. A caller whose save then fails must call invalidateCap.
func (e *Engine) reserveSlot(ctx context.Context, profile *types.CandidateProfile) (bool, error) {
	e.capMu.Lock()
	defer e.capMu.Unlock()
	if err := e.loadCapLocked(ctx); err != nil {
		return false, err
	}
	if e.capCount >= profile.DailyApplicationCap {
		return false, nil
	}
	e.capCount++
	return true, nil
}

// startSubmission moves an Approved application into Submitting if today's cap
// allows it and runs the submission call in the background. ErrCapReached leaves
// the application Approved.
func (e *Engine) startSubmission(ctx context.Context, id int64, actor string) (*types.Application, error) {
	profile, err := e.Profile(ctx)
	if err != nil {
		return nil, err
	}

	counted := false
	app, err := e.mutate(ctx, id, "submit", func(t *txn) error {
		if stage := t.app.Stage(); stage != types.StageApproved {
			return &ConflictError{ApplicationID: id, Stage: stage, Op: "submit"}
		}
		ok, err := e.reserveSlot(ctx, profile)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("application %d: %w (limit %d per day)", id, ErrCapReached, profile.DailyApplicationCap)
		}
		counted = true
		return t.append(types.EventSubmitting, actor, "", e.opts.Now())
	})
	if err != nil {
		if counted {
			// The slot was taken but not recorded; recount from the store.
			e.invalidateCap()
		}
		return nil, err
	}

	e.goBackground(func(ctx context.Context) {
		e.submit(ctx, id)
	})
	return app, nil
}

func (e *Engine) invalidateCap() {
	e.capMu.Lock()
	e.capLoaded = false
	e.capMu.Unlock()
}

// submit performs the submission call with bounded retries and records the outcome.
func (e *Engine) submit(ctx context.Context, id int64) {
	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		e.logger.Error("submission lost its application", "application_id", id, "error", err)
		return
	}
	profile, posting, err := e.context(ctx, app)
	if err != nil {
		e.failSubmission(ctx, id, 0, err)
		return
	}

	var receipt types.SubmissionReceipt
	attempts, err := retry(ctx, e.opts.SubmitMaxAttempts, e.opts.BackoffBase, submission.IsTransient, func(ctx context.Context) error {
		var err error
		receipt, err = e.submitter.Submit(ctx, app, posting, profile)
		return err
	})
	if err != nil {
		e.failSubmission(ctx, id, attempts, err)
		return
	}

	_, err = e.mutate(context.WithoutCancel(ctx), id, "record submission", func(t *txn) error {
		t.app.SubmitAttempts += attempts
		t.app.Receipt = &receipt
		t.app.NeedsAttention = false
		return t.append(types.EventSubmitted, ActorEngine, receipt.Channel+" "+receipt.ID, e.opts.Now())
	})
	if err != nil {
		e.logger.Error("submission succeeded but was not recorded", "application_id", id, "receipt_id", receipt.ID, "error", err)
	}
}

func (e *Engine) failSubmission(ctx context.Context, id int64, attempts int, cause error) {
	released := false
	_, err := e.mutate(context.WithoutCancel(ctx), id, "fail submission", func(t *txn) error {
		t.app.SubmitAttempts += attempts
		t.app.NeedsAttention = true
		detail := fmt.Sprintf("%v after %d attempt(s): %v", ErrSubmitFailed, attempts, cause)
		if err := t.append(types.EventSubmitFailed, ActorEngine, detail, e.opts.Now()); err != nil {
			return err
		}
		// A failed submission does not count against today's cap.
		e.capMu.Lock()
		if e.capCount > 0 {
			e.capCount--
		}
		e.capMu.Unlock()
		released = true
		return nil
	})
	if err != nil {
		if released {
			e.invalidateCap()
		}
		e.logger.Error("failed to record submission failure", "application_id", id, "error", err)
	}
}

// RetrySubmission resubmits a SubmitFailed application, or an Approved one that was
// previously refused by the daily cap.
func (e *Engine) RetrySubmission(ctx context.Context, id int64, actor string) (*types.Application, error) {
	current, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Stage() == types.StageSubmitFailed {
		if _, err := e.mutate(ctx, id, "retry submission", func(t *txn) error {
			t.app.NeedsAttention = false
			return t.append(types.EventSubmitRetry, actor, "", e.opts.Now())
		}); err != nil {
			return nil, err
		}
	}
	return e.startSubmission(ctx, id, actor)
}
