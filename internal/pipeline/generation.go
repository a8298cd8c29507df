package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/jobhunter/internal/types"
)

// enqueue puts an application at the back of the generation queue.
func (e *Engine) enqueue(id int64) {
	e.wg.Add(1)
	e.queueMu.Lock()
	e.queue = append(e.queue, id)
	e.queueMu.Unlock()
	select {
	case e.queueSig <- struct{}{}:
	default:
	}
}

func (e *Engine) dequeue() (int64, bool) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if len(e.queue) == 0 {
		return 0, false
	}
	id := e.queue[0]
	e.queue = e.queue[1:]
	return id, true
}

// dispatch admits queued applications into the generation pool in arrival order.
// A single dispatcher acquiring the semaphore keeps admission FIFO.
func (e *Engine) dispatch() {
	for {
		id, ok := e.dequeue()
		if !ok {
			select {
			case <-e.ctx.Done():
				e.drainQueue()
				return
			case <-e.queueSig:
				continue
			}
		}

		if err := e.genSem.Acquire(e.ctx, 1); err != nil {
			e.wg.Done()
			e.drainQueue()
			return
		}
		go func() {
			defer e.wg.Done()
			defer e.genSem.Release(1)
			e.generate(e.ctx, id)
		}()
	}
}

// drainQueue releases the wait group slots of applications that will not be
// generated in this process. They remain queued in the store.
func (e *Engine) drainQueue() {
	e.queueMu.Lock()
	n := len(e.queue)
	e.queue = nil
	e.queueMu.Unlock()
	for i := 0; i < n; i++ {
		e.wg.Done()
	}
}

// generate runs one application from Generating to ReadyForReview or GenerationFailed.
func (e *Engine) generate(ctx context.Context, id int64) {
	app, err := e.mutate(ctx, id, "start generation", func(t *txn) error {
		return t.append(types.EventGenerating, ActorEngine, "", e.opts.Now())
	})
	if err != nil {
		// Archived or otherwise moved on while waiting in the queue.
		e.logger.Warn("generation skipped", "application_id", id, "error", err)
		return
	}

	profile, posting, err := e.context(ctx, app)
	if err != nil {
		e.failGeneration(ctx, id, err)
		return
	}

	cv, letter, err := e.generateDrafts(ctx, profile, posting)
	if err != nil {
		e.failGeneration(ctx, id, err)
		return
	}

	confidence := min(cv.Confidence, letter.Confidence)
	// An auto-approval takes its cap slot in the same save, so it never waits in Approved.
	reserved := false
	_, err = e.mutate(ctx, id, "finish generation", func(t *txn) error {
		t.app.CVText = cv.Text
		t.app.CoverLetterText = letter.Text
		t.app.GenerationConfidence = &confidence
		t.app.NeedsAttention = false
		now := e.opts.Now()
		if err := t.append(types.EventReady, ActorEngine, fmt.Sprintf("confidence %d", confidence), now); err != nil {
			return err
		}
		if !autoApproves(profile, confidence) {
			return nil
		}
		ok, err := e.reserveSlot(ctx, profile)
		if err != nil {
			e.logger.Warn("auto-approval skipped", "application_id", id, "error", err)
			return nil
		}
		if !ok {
			return nil
		}
		reserved = true
		if err := t.append(types.EventAutoApproved, ActorPolicy,
			fmt.Sprintf("confidence %d >= %d", confidence, profile.AutoApproveThreshold), now); err != nil {
			return err
		}
		return t.append(types.EventSubmitting, ActorPolicy, "", now)
	})
	if err != nil {
		if reserved {
			e.invalidateCap()
		}
		e.logger.Error("failed to record generated drafts", "application_id", id, "error", err)
		return
	}

	if reserved {
		e.goBackground(func(ctx context.Context) {
			e.submit(ctx, id)
		})
	}
}

// generateDrafts produces the CV and cover letter in parallel. Neither call cancels
// the other; the first failure (CV before letter) is returned.
func (e *Engine) generateDrafts(ctx context.Context, profile *types.CandidateProfile, posting *types.JobPosting) (types.Draft, types.Draft, error) {
	var cv, letter types.Draft
	var cvErr, letterErr error
	var g errgroup.Group

	attempts := 1 + e.opts.GenerationRetries
	g.Go(func() error {
		_, cvErr = retry(ctx, attempts, e.opts.BackoffBase, always, func(ctx context.Context) error {
			var err error
			cv, err = e.generator.Generate(ctx, profile, posting, types.ContentCV, profile.Tone)
			return err
		})
		return nil
	})
	g.Go(func() error {
		_, letterErr = retry(ctx, attempts, e.opts.BackoffBase, always, func(ctx context.Context) error {
			var err error
			letter, err = e.generator.Generate(ctx, profile, posting, types.ContentCoverLetter, profile.Tone)
			return err
		})
		return nil
	})
	_ = g.Wait()

	if cvErr != nil {
		return cv, letter, asGenerationError(types.ContentCV, cvErr)
	}
	if letterErr != nil {
		return cv, letter, asGenerationError(types.ContentCoverLetter, letterErr)
	}
	return cv, letter, nil
}

func asGenerationError(ct types.ContentType, err error) error {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr
	}
	return &GenerationError{ContentType: ct, Reason: err.Error(), Cause: err}
}

func (e *Engine) failGeneration(ctx context.Context, id int64, cause error) {
	// The engine context may be cancelled on shutdown; the failure must still be recorded.
	ctx = context.WithoutCancel(ctx)
	_, err := e.mutate(ctx, id, "fail generation", func(t *txn) error {
		t.app.NeedsAttention = true
		return t.append(types.EventGenerationFailed, ActorEngine, cause.Error(), e.opts.Now())
	})
	if err != nil {
		e.logger.Error("failed to record generation failure", "application_id", id, "error", err)
	}
}

// RetryGeneration moves a GenerationFailed application back into the queue.
func (e *Engine) RetryGeneration(ctx context.Context, id int64, actor string) (*types.Application, error) {
	app, err := e.mutate(ctx, id, "retry generation", func(t *txn) error {
		t.app.NeedsAttention = false
		return t.append(types.EventRequeued, actor, "", e.opts.Now())
	})
	if err != nil {
		return nil, err
	}
	e.enqueue(id)
	return app, nil
}

// context loads the profile and posting an application needs for collaborator calls.
func (e *Engine) context(ctx context.Context, app *types.Application) (*types.CandidateProfile, *types.JobPosting, error) {
	profile, err := e.Profile(ctx)
	if err != nil {
		return nil, nil, err
	}
	posting, err := e.store.GetPosting(ctx, app.PostingID)
	if err != nil {
		return nil, nil, e.invariant("load posting", fmt.Sprintf("application %d references posting %s", app.ID, app.PostingID), err)
	}
	return profile, posting, nil
}
