package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/types"
)

// Match pairs an application with its posting for listings.
type Match struct {
	Application types.Application `json:"application"`
	Posting     types.JobPosting  `json:"posting"`
}

// Get returns one application.
func (e *Engine) Get(ctx context.Context, id int64) (*types.Application, error) {
	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("application %d: %w", id, err)
	}
	return app, nil
}

// List returns the candidate's applications matching filter.
func (e *Engine) List(ctx context.Context, filter store.ApplicationFilter) ([]types.Application, error) {
	filter.CandidateID = e.opts.CandidateID
	apps, err := e.store.ListApplications(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return apps, nil
}

// ReviewQueue returns applications awaiting a human decision, oldest first.
func (e *Engine) ReviewQueue(ctx context.Context) ([]types.Application, error) {
	return e.List(ctx, store.ApplicationFilter{Stages: []types.Stage{types.StageReadyForReview}})
}

// TopMatches returns active applications ordered by match score, highest first.
// A limit of 0 returns all of them.
func (e *Engine) TopMatches(ctx context.Context, limit int) ([]Match, error) {
	apps, err := e.List(ctx, store.ApplicationFilter{})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(apps))
	for _, app := range apps {
		if stage := app.Stage(); stage.Terminal() {
			continue
		}
		posting, err := e.store.GetPosting(ctx, app.PostingID)
		if err != nil {
			return nil, e.invariant("top matches", fmt.Sprintf("application %d references posting %s", app.ID, app.PostingID), err)
		}
		matches = append(matches, Match{Application: app, Posting: *posting})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Application.MatchScore > matches[j].Application.MatchScore
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Stats computes pipeline counters from stored data.
func (e *Engine) Stats(ctx context.Context) (*types.Stats, error) {
	postings, err := e.store.ListPostings(ctx, store.PostingFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list postings: %w", err)
	}
	apps, err := e.List(ctx, store.ApplicationFilter{})
	if err != nil {
		return nil, err
	}
	today, err := e.store.CountEventsSince(ctx, e.opts.CandidateID, types.EventSubmitted, startOfDay(e.opts.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to count today's submissions: %w", err)
	}

	stats := &types.Stats{
		PostingsDiscovered: len(postings),
		ByStage:            make(map[types.Stage]int),
		SubmittedToday:     today,
	}
	for _, p := range postings {
		switch p.Stage {
		case types.PostingMatched:
			stats.PostingsMatched++
		case types.PostingRejected:
			stats.PostingsRejected++
		case types.PostingDiscovered, types.PostingScored:
			stats.PostingsPending++
		}
	}

	totalScore := 0
	for _, app := range apps {
		stats.ByStage[app.Stage()]++
		totalScore += app.MatchScore
		if app.NeedsAttention {
			stats.NeedsAttention++
		}
		if !app.HasEvent(types.EventSubmitted) {
			continue
		}
		stats.Submitted++
		switch {
		case app.HasEvent(types.EventInterviewScheduled):
			stats.Interviews++
			stats.Responses++
		case app.HasEvent(types.EventOutcomeRejected):
			stats.Rejections++
			stats.Responses++
		case app.HasEvent(types.EventResponded):
			stats.Responses++
		}
	}
	if len(apps) > 0 {
		stats.AverageMatchScore = float64(totalScore) / float64(len(apps))
	}
	if stats.Submitted > 0 {
		stats.ResponseRate = 100 * float64(stats.Responses) / float64(stats.Submitted)
	}
	return stats, nil
}

// Profile returns the candidate profile, creating the default one on first use.
func (e *Engine) Profile(ctx context.Context) (*types.CandidateProfile, error) {
	profile, err := e.store.GetProfile(ctx, e.opts.CandidateID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	def := types.DefaultProfile(e.opts.CandidateID)
	def.MinMatchThreshold = e.opts.MinMatchThreshold
	if err := e.store.SaveProfile(ctx, &def); err != nil {
		return nil, fmt.Errorf("failed to create default profile: %w", err)
	}
	e.logger.Info("created default profile", "candidate_id", def.ID)
	return &def, nil
}

// UpdateProfile validates and stores a settings update. The id is always the engine's candidate.
func (e *Engine) UpdateProfile(ctx context.Context, profile types.CandidateProfile) (*types.CandidateProfile, error) {
	profile.ID = e.opts.CandidateID
	profile.NormalizeSkills()
	if err := profile.Validate(); err != nil {
		return nil, invalidf("profile: %v", err)
	}
	if err := e.store.SaveProfile(ctx, &profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	e.invalidateCap()
	e.logger.Info("profile updated",
		"candidate_id", profile.ID,
		"min_match_threshold", profile.MinMatchThreshold,
		"auto_approve_threshold", profile.AutoApproveThreshold,
		"daily_application_cap", profile.DailyApplicationCap,
	)
	return &profile, nil
}

// Posting returns one stored posting.
func (e *Engine) Posting(ctx context.Context, id string) (*types.JobPosting, error) {
	p, err := e.store.GetPosting(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("posting %s: %w", id, err)
	}
	return p, nil
}

// Postings lists stored postings, optionally by stage.
func (e *Engine) Postings(ctx context.Context, filter store.PostingFilter) ([]types.JobPosting, error) {
	postings, err := e.store.ListPostings(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list postings: %w", err)
	}
	return postings, nil
}
