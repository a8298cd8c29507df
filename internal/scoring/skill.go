package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonathan/jobhunter/internal/types"
)

// Weights for the deterministic score components
const (
	requirementWeight = 0.6
	locationWeight    = 0.2
	salaryWeight      = 0.2
)

// SkillScorer scores offline from skill overlap and location/remote/salary fit.
// It never fails and is the fallback when no LLM is configured.
type SkillScorer struct {
	now func() time.Time
}

// NewSkillScorer creates a deterministic scorer
func NewSkillScorer() *SkillScorer {
	return &SkillScorer{now: time.Now}
}

// Score implements Scorer
func (s *SkillScorer) Score(ctx context.Context, profile *types.CandidateProfile, posting *types.JobPosting) (types.Score, error) {
	if err := ctx.Err(); err != nil {
		return types.Score{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reqScore, matched := requirementScore(profile, posting)
	locScore, locNote := locationScore(profile, posting)
	salScore, salNote := salaryScore(profile, posting)

	total := requirementWeight*reqScore + locationWeight*locScore + salaryWeight*salScore
	rationale := fmt.Sprintf("matched %d/%d requirements", len(matched), len(posting.Requirements))
	if len(matched) > 0 {
		rationale += " (" + strings.Join(matched, ", ") + ")"
	}
	rationale += "; " + locNote + "; " + salNote

	return types.Score{
		CandidateID: profile.ID,
		PostingID:   posting.ID,
		MatchScore:  clamp(int(math.Round(total * 100))),
		Rationale:   rationale,
		ScoredAt:    s.now(),
	}, nil
}

// requirementScore is the fraction of requirement lines that mention a profile skill.
// A posting without requirements is treated as a coin flip.
func requirementScore(profile *types.CandidateProfile, posting *types.JobPosting) (float64, []string) {
	if len(posting.Requirements) == 0 {
		return 0.5, nil
	}

	var matched []string
	seen := make(map[string]bool)
	hits := 0
	for _, req := range posting.Requirements {
		hit := false
		for _, skill := range profile.Skills {
			if !mentions(req, skill) {
				continue
			}
			hit = true
			if key := canonicalSkill(skill); !seen[key] {
				seen[key] = true
				matched = append(matched, strings.TrimSpace(skill))
			}
		}
		if hit {
			hits++
		}
	}
	return float64(hits) / float64(len(posting.Requirements)), matched
}

func locationScore(profile *types.CandidateProfile, posting *types.JobPosting) (float64, string) {
	switch {
	case posting.Remote:
		return 1, "remote"
	case profile.RemoteOnly:
		return 0, "on-site but candidate is remote only"
	case len(profile.Locations) == 0:
		return 1, "no location preference"
	}
	loc := strings.ToLower(posting.Location)
	for _, want := range profile.Locations {
		if want = strings.ToLower(strings.TrimSpace(want)); want != "" && strings.Contains(loc, want) {
			return 1, "location matches " + want
		}
	}
	return 0, "location " + posting.Location + " not preferred"
}

func salaryScore(profile *types.CandidateProfile, posting *types.JobPosting) (float64, string) {
	switch {
	case posting.Salary == nil:
		return 0.5, "salary unknown"
	case profile.Salary.Min == 0 && profile.Salary.Max == 0:
		return 1, "no salary expectation"
	case profile.Salary.Overlaps(*posting.Salary):
		return 1, "salary in range"
	default:
		return 0, "salary out of range"
	}
}
