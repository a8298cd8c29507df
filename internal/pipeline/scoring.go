package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/types"
)

// scoringCycleConcurrency bounds concurrent scorer calls within one cycle.
const scoringCycleConcurrency = 4

// DiscoverResult reports what Discover stored.
type DiscoverResult struct {
	Created    []string `json:"created"`
	Duplicates int      `json:"duplicates"`
}

// ScoreOutcome reports the result of scoring one posting.
type ScoreOutcome struct {
	PostingID     string `json:"posting_id"`
	MatchScore    int    `json:"match_score"`
	Rationale     string `json:"rationale"`
	Cached        bool   `json:"cached"`
	Matched       bool   `json:"matched"`
	ApplicationID int64  `json:"application_id,omitempty"`
}

// CycleReport summarizes one RunScoringCycle.
type CycleReport struct {
	Considered int            `json:"considered"`
	Matched    int            `json:"matched"`
	Rejected   int            `json:"rejected"`
	Failed     int            `json:"failed"`
	Flagged    int            `json:"flagged"`
	Outcomes   []ScoreOutcome `json:"outcomes"`
}

// Discover stores new postings in the Discovered stage. Postings whose id already
// exists are counted as duplicates and left untouched. Postings without an id get one.
func (e *Engine) Discover(ctx context.Context, postings []types.JobPosting) (DiscoverResult, error) {
	var result DiscoverResult
	now := e.opts.Now()
	for i := range postings {
		p := postings[i]
		if strings.TrimSpace(p.ID) == "" {
			p.ID = uuid.New().String()
		}
		p.Stage = types.PostingDiscovered
		p.ScoreAttempts = 0
		p.NeedsAttention = false
		if p.DiscoveredAt.IsZero() {
			p.DiscoveredAt = now
		}

		err := e.store.CreatePosting(ctx, &p)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			result.Duplicates++
		case err != nil:
			return result, fmt.Errorf("failed to store posting %s: %w", p.ID, err)
		default:
			result.Created = append(result.Created, p.ID)
		}
	}
	e.logger.Info("postings discovered", "created", len(result.Created), "duplicates", result.Duplicates)
	return result, nil
}

// ScorePosting scores a posting for the candidate at most once. Later calls read the
// cached score. Concurrent calls for the same posting share one scorer invocation.
// A posting that clears the profile's threshold gets an Application, queued for generation.
func (e *Engine) ScorePosting(ctx context.Context, postingID string) (ScoreOutcome, error) {
	v, err, _ := e.scoreFlight.Do(postingID, func() (any, error) {
		return e.scorePosting(ctx, postingID)
	})
	if err != nil {
		return ScoreOutcome{}, err
	}
	return v.(ScoreOutcome), nil
}

func (e *Engine) scorePosting(ctx context.Context, postingID string) (ScoreOutcome, error) {
	profile, err := e.Profile(ctx)
	if err != nil {
		return ScoreOutcome{}, err
	}
	posting, err := e.store.GetPosting(ctx, postingID)
	if err != nil {
		return ScoreOutcome{}, fmt.Errorf("score posting %s: %w", postingID, err)
	}

	cached, err := e.store.GetScore(ctx, profile.ID, postingID)
	switch {
	case err == nil:
		outcome, err := e.applyScore(ctx, profile, posting, *cached)
		outcome.Cached = true
		return outcome, err
	case !errors.Is(err, store.ErrNotFound):
		return ScoreOutcome{}, fmt.Errorf("score posting %s: %w", postingID, err)
	}

	if posting.Stage != types.PostingDiscovered {
		return ScoreOutcome{}, e.invariant("score posting", fmt.Sprintf("posting %s is %s without a stored score", postingID, posting.Stage), nil)
	}

	var score types.Score
	_, err = retry(ctx, e.opts.ScoringRetries, e.opts.BackoffBase, always, func(ctx context.Context) error {
		var err error
		score, err = e.scorer.Score(ctx, profile, posting)
		return err
	})
	if err != nil {
		return ScoreOutcome{}, e.recordScoringFailure(ctx, posting, err)
	}

	score.CandidateID = profile.ID
	score.PostingID = postingID
	if score.ScoredAt.IsZero() {
		score.ScoredAt = e.opts.Now()
	}
	if err := e.store.SaveScore(ctx, score); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return ScoreOutcome{}, e.invariant("score posting", fmt.Sprintf("posting %s scored twice for %s", postingID, profile.ID), err)
		}
		return ScoreOutcome{}, fmt.Errorf("failed to save score for %s: %w", postingID, err)
	}
	if err := e.store.UpdatePostingStatus(ctx, postingID, types.PostingScored, posting.ScoreAttempts+1, false); err != nil {
		return ScoreOutcome{}, fmt.Errorf("failed to mark posting %s scored: %w", postingID, err)
	}
	posting.Stage = types.PostingScored
	posting.ScoreAttempts++

	return e.applyScore(ctx, profile, posting, score)
}

// recordScoringFailure counts a failed cycle and flags the posting once the budget is spent.
func (e *Engine) recordScoringFailure(ctx context.Context, posting *types.JobPosting, cause error) error {
	attempts := posting.ScoreAttempts + 1
	flagged := attempts >= e.opts.ScoringMaxCycles
	if err := e.store.UpdatePostingStatus(ctx, posting.ID, types.PostingDiscovered, attempts, flagged); err != nil {
		e.logger.Error("failed to record scoring failure", "posting_id", posting.ID, "error", err)
	}
	e.logger.Warn("scoring failed", "posting_id", posting.ID, "cycle", attempts, "flagged", flagged, "error", cause)
	if errors.Is(cause, ErrScoringUnavailable) {
		return fmt.Errorf("score posting %s: %w", posting.ID, cause)
	}
	return fmt.Errorf("score posting %s: %w: %v", posting.ID, ErrScoringUnavailable, cause)
}

// applyScore moves a scored posting to Rejected or Matched, creating the Application
// for a match. It is idempotent so a crash between steps is repaired on the next cycle.
func (e *Engine) applyScore(ctx context.Context, profile *types.CandidateProfile, posting *types.JobPosting, score types.Score) (ScoreOutcome, error) {
	outcome := ScoreOutcome{
		PostingID:  posting.ID,
		MatchScore: score.MatchScore,
		Rationale:  score.Rationale,
		Matched:    score.MatchScore >= profile.MinMatchThreshold,
	}

	if !outcome.Matched {
		if unresolved(posting.Stage) {
			if err := e.store.UpdatePostingStatus(ctx, posting.ID, types.PostingRejected, posting.ScoreAttempts, false); err != nil {
				return outcome, fmt.Errorf("failed to reject posting %s: %w", posting.ID, err)
			}
			e.logger.Info("posting below threshold", "posting_id", posting.ID, "score", score.MatchScore, "threshold", profile.MinMatchThreshold)
		}
		return outcome, nil
	}

	existing, err := e.store.GetApplicationByPosting(ctx, profile.ID, posting.ID)
	switch {
	case err == nil:
		outcome.ApplicationID = existing.ID
	case errors.Is(err, store.ErrNotFound):
		id, err := e.createApplication(ctx, profile, posting, score)
		if err != nil {
			return outcome, err
		}
		outcome.ApplicationID = id
	default:
		return outcome, fmt.Errorf("failed to look up application for %s: %w", posting.ID, err)
	}

	if unresolved(posting.Stage) {
		if err := e.store.UpdatePostingStatus(ctx, posting.ID, types.PostingMatched, posting.ScoreAttempts, false); err != nil {
			return outcome, fmt.Errorf("failed to mark posting %s matched: %w", posting.ID, err)
		}
	}
	return outcome, nil
}

func (e *Engine) createApplication(ctx context.Context, profile *types.CandidateProfile, posting *types.JobPosting, score types.Score) (int64, error) {
	now := e.opts.Now()
	app := &types.Application{
		CandidateID: profile.ID,
		PostingID:   posting.ID,
		MatchScore:  score.MatchScore,
		Timeline: []types.TimelineEvent{{
			At:     now,
			Kind:   types.EventQueued,
			Actor:  ActorEngine,
			Detail: fmt.Sprintf("match score %d", score.MatchScore),
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateApplication(ctx, app); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return 0, e.invariant("create application", fmt.Sprintf("duplicate application for posting %s", posting.ID), err)
		}
		return 0, fmt.Errorf("failed to create application for %s: %w", posting.ID, err)
	}

	e.logger.Info("application created", "application_id", app.ID, "posting_id", posting.ID, "score", score.MatchScore)
	e.publish([]Transition{{
		ApplicationID: app.ID,
		PostingID:     posting.ID,
		To:            types.StageQueuedForGeneration,
		Event:         types.EventQueued,
		Actor:         ActorEngine,
		At:            now,
	}})
	e.enqueue(app.ID)
	return app.ID, nil
}

// RunScoringCycle scores every discovered posting that is not flagged, and finishes
// postings left scored but unresolved by an interrupted earlier cycle.
func (e *Engine) RunScoringCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	discovered, err := e.store.ListPostings(ctx, store.PostingFilter{Stage: types.PostingDiscovered})
	if err != nil {
		return report, fmt.Errorf("failed to list discovered postings: %w", err)
	}
	scored, err := e.store.ListPostings(ctx, store.PostingFilter{Stage: types.PostingScored})
	if err != nil {
		return report, fmt.Errorf("failed to list scored postings: %w", err)
	}

	var ids []string
	for _, p := range append(discovered, scored...) {
		if !p.NeedsAttention {
			ids = append(ids, p.ID)
		}
	}
	report.Considered = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoringCycleConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			outcome, err := e.ScorePosting(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var inv *InvariantError
				if errors.As(err, &inv) {
					return err
				}
				report.Failed++
				if p, perr := e.store.GetPosting(gctx, id); perr == nil && p.NeedsAttention {
					report.Flagged++
				}
				return nil
			}
			report.Outcomes = append(report.Outcomes, outcome)
			if outcome.Matched {
				report.Matched++
			} else {
				report.Rejected++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	e.logger.Info("scoring cycle finished",
		"considered", report.Considered,
		"matched", report.Matched,
		"rejected", report.Rejected,
		"failed", report.Failed,
		"flagged", report.Flagged,
	)
	return report, nil
}

// unresolved reports whether a posting still awaits its matched or rejected verdict.
func unresolved(stage types.PostingStage) bool {
	return stage == types.PostingDiscovered || stage == types.PostingScored
}
