package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/types"
)

// ActorInbound is recorded on outcome events that arrive from outside.
const ActorInbound = "inbound"

// RecordOutcome appends an employer-side event to a submitted application. A zero
// timestamp means now.
func (e *Engine) RecordOutcome(ctx context.Context, id int64, kind types.OutcomeKind, at time.Time, detail string) (*types.Application, error) {
	event, ok := kind.EventKind()
	if !ok {
		return nil, invalidf("unknown outcome %q", kind)
	}
	return e.mutate(ctx, id, "record "+string(kind), func(t *txn) error {
		return t.append(event, ActorInbound, detail, at)
	})
}

// SweepStale marks Submitted applications with no event for StaleAfter as NoResponse.
// It returns how many were marked.
func (e *Engine) SweepStale(ctx context.Context) (int, error) {
	submitted, err := e.List(ctx, store.ApplicationFilter{Stages: []types.Stage{types.StageSubmitted}})
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, app := range submitted {
		if !e.stale(&app) {
			continue
		}
		_, err := e.mutate(ctx, app.ID, "mark no response", func(t *txn) error {
			// Re-check under the lock: an outcome may have arrived since listing.
			if !e.stale(t.app) {
				return errNotStale
			}
			return t.append(types.EventNoResponse, ActorSweeper,
				fmt.Sprintf("no event for %s", e.opts.StaleAfter), e.opts.Now())
		})
		switch {
		case err == nil:
			marked++
		case errors.Is(err, errNotStale), isConflict(err):
		default:
			return marked, err
		}
	}
	if marked > 0 {
		e.logger.Info("stale applications marked", "count", marked)
	}
	return marked, nil
}

var errNotStale = errors.New("application is not stale")

func (e *Engine) stale(app *types.Application) bool {
	last, ok := app.LastEvent()
	if !ok || app.Stage() != types.StageSubmitted {
		return false
	}
	return e.opts.Now().Sub(last.At) >= e.opts.StaleAfter
}

// Archive soft-deletes an application and its posting. In-flight applications
// cannot be archived until their external call finishes.
func (e *Engine) Archive(ctx context.Context, id int64, actor string) (*types.Application, error) {
	app, err := e.mutate(ctx, id, "archive", func(t *txn) error {
		return t.append(types.EventArchived, actor, "", e.opts.Now())
	})
	if err != nil {
		return nil, err
	}

	posting, err := e.store.GetPosting(ctx, app.PostingID)
	if err != nil {
		return app, fmt.Errorf("failed to archive posting %s: %w", app.PostingID, err)
	}
	if err := e.store.UpdatePostingStatus(ctx, posting.ID, types.PostingArchived, posting.ScoreAttempts, false); err != nil {
		return app, fmt.Errorf("failed to archive posting %s: %w", app.PostingID, err)
	}
	return app, nil
}

// AddNote appends free text to an application's notes without changing its stage.
func (e *Engine) AddNote(ctx context.Context, id int64, note string) (*types.Application, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, invalidf("note is empty")
	}
	return e.mutate(ctx, id, "add note", func(t *txn) error {
		if t.app.Notes != "" {
			t.app.Notes += "\n"
		}
		t.app.Notes += note
		t.app.UpdatedAt = e.opts.Now()
		return nil
	})
}

// ResumeReport summarizes what Resume recovered after a restart.
type ResumeReport struct {
	Requeued    int `json:"requeued"`
	Interrupted int `json:"interrupted"`
}

// Resume recovers work left behind by a previous process. Queued applications are
// put back in the generation queue in id order. Generations and submissions that
// were in flight are failed and flagged, since their outcome is unknown.
func (e *Engine) Resume(ctx context.Context) (ResumeReport, error) {
	var report ResumeReport
	apps, err := e.List(ctx, store.ApplicationFilter{Stages: []types.Stage{
		types.StageQueuedForGeneration,
		types.StageGenerating,
		types.StageSubmitting,
	}})
	if err != nil {
		return report, err
	}

	for _, app := range apps {
		switch app.Stage() {
		case types.StageQueuedForGeneration:
			e.enqueue(app.ID)
			report.Requeued++
		case types.StageGenerating:
			if err := e.interrupt(ctx, app.ID, types.EventGenerationFailed); err != nil {
				return report, err
			}
			report.Interrupted++
		case types.StageSubmitting:
			if err := e.interrupt(ctx, app.ID, types.EventSubmitFailed); err != nil {
				return report, err
			}
			report.Interrupted++
		}
	}
	e.invalidateCap()
	e.logger.Info("pipeline resumed", "requeued", report.Requeued, "interrupted", report.Interrupted)
	return report, nil
}

func (e *Engine) interrupt(ctx context.Context, id int64, kind types.EventKind) error {
	_, err := e.mutate(ctx, id, "resume", func(t *txn) error {
		t.app.NeedsAttention = true
		return t.append(kind, ActorEngine, "interrupted by restart", e.opts.Now())
	})
	if isConflict(err) {
		return nil
	}
	return err
}
