package types

import "time"

// PostingStage is the discovery/matching state of a JobPosting.
type PostingStage string

// Posting stages
const (
	PostingDiscovered PostingStage = "discovered"
	PostingScored     PostingStage = "scored"
	PostingRejected   PostingStage = "rejected"
	PostingMatched    PostingStage = "matched"
	PostingArchived   PostingStage = "archived"
)

// SalaryRange is an inclusive yearly salary band.
type SalaryRange struct {
	Min      int    `json:"min" validate:"gte=0"`
	Max      int    `json:"max" validate:"gte=0"`
	Currency string `json:"currency,omitempty"`
}

// Overlaps reports whether the two ranges overlap. An open-ended range (Max 0) overlaps everything.
func (r SalaryRange) Overlaps(other SalaryRange) bool {
	if r.Max == 0 || other.Max == 0 {
		return true
	}
	return r.Min <= other.Max && other.Min <= r.Max
}

// JobPosting is a discovered job opening. Only Stage and the scoring bookkeeping
// fields change after discovery.
type JobPosting struct {
	ID           string       `json:"id"`
	Title        string       `json:"title" validate:"required"`
	Company      string       `json:"company" validate:"required"`
	Location     string       `json:"location"`
	Remote       bool         `json:"remote"`
	Salary       *SalaryRange `json:"salary,omitempty"`
	PostedAt     time.Time    `json:"posted_at"`
	Requirements []string     `json:"requirements"`
	Description  string       `json:"description"`
	URL          string       `json:"url,omitempty" validate:"omitempty,url"`
	Source       string       `json:"source,omitempty"`
	ContactEmail string       `json:"contact_email,omitempty" validate:"omitempty,email"`

	Stage          PostingStage `json:"stage"`
	ScoreAttempts  int          `json:"score_attempts"`
	NeedsAttention bool         `json:"needs_attention"`
	DiscoveredAt   time.Time    `json:"discovered_at"`
}

// Score is the cached result of scoring one posting for one candidate.
type Score struct {
	CandidateID string    `json:"candidate_id"`
	PostingID   string    `json:"posting_id"`
	MatchScore  int       `json:"match_score"`
	Rationale   string    `json:"rationale"`
	ScoredAt    time.Time `json:"scored_at"`
}
