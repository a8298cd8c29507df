// Package store defines the persistence boundaries of the pipeline and an in-memory
// implementation of them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jonathan/jobhunter/internal/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a uniqueness constraint would be violated.
var ErrDuplicate = errors.New("duplicate record")

// PostingFilter narrows ListPostings.
type PostingFilter struct {
	Stage types.PostingStage
	Limit int
}

// ApplicationFilter narrows ListApplications. Zero values match everything.
type ApplicationFilter struct {
	CandidateID    string
	Stages         []types.Stage
	NeedsAttention *bool
	Limit          int
}

// JobStore persists discovered postings.
type JobStore interface {
	// CreatePosting inserts a new posting and returns ErrDuplicate if the id exists.
	CreatePosting(ctx context.Context, posting *types.JobPosting) error
	GetPosting(ctx context.Context, id string) (*types.JobPosting, error)
	ListPostings(ctx context.Context, filter PostingFilter) ([]types.JobPosting, error)
	// UpdatePostingStatus writes only the mutable stage and scoring bookkeeping fields.
	UpdatePostingStatus(ctx context.Context, id string, stage types.PostingStage, scoreAttempts int, needsAttention bool) error
}

// ScoreStore caches scoring results per (candidate, posting).
type ScoreStore interface {
	// SaveScore returns ErrDuplicate if a score is already recorded for the pair.
	SaveScore(ctx context.Context, score types.Score) error
	GetScore(ctx context.Context, candidateID, postingID string) (*types.Score, error)
}

// ApplicationStore persists applications and their append-only timelines.
type ApplicationStore interface {
	// CreateApplication assigns the id and returns ErrDuplicate for an existing
	// (candidate, posting) pair.
	CreateApplication(ctx context.Context, app *types.Application) error
	GetApplication(ctx context.Context, id int64) (*types.Application, error)
	GetApplicationByPosting(ctx context.Context, candidateID, postingID string) (*types.Application, error)
	ListApplications(ctx context.Context, filter ApplicationFilter) ([]types.Application, error)
	// SaveApplication persists mutable fields and appends timeline events beyond
	// those already stored. Stored events are never rewritten.
	SaveApplication(ctx context.Context, app *types.Application) error
	// CountEventsSince counts applications with an event of kind at or after since.
	CountEventsSince(ctx context.Context, candidateID string, kind types.EventKind, since time.Time) (int, error)
}

// ProfileStore persists the candidate profile.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*types.CandidateProfile, error)
	SaveProfile(ctx context.Context, profile *types.CandidateProfile) error
}

// Store aggregates every persistence boundary the engine needs.
type Store interface {
	JobStore
	ScoreStore
	ApplicationStore
	ProfileStore
}
