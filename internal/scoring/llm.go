package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/jobhunter/internal/llm"
	"github.com/jonathan/jobhunter/internal/prompts"
	"github.com/jonathan/jobhunter/internal/schemas"
	"github.com/jonathan/jobhunter/internal/types"
)

// llmScoreResponse represents the expected JSON response from the LLM.
type llmScoreResponse struct {
	MatchScore    int      `json:"match_score"`
	Rationale     string   `json:"rationale"`
	MatchedSkills []string `json:"matched_skills"`
	MissingSkills []string `json:"missing_skills"`
}

// LLMScorer asks the model to judge the fit and validates its JSON answer.
type LLMScorer struct {
	client llm.Client
	now    func() time.Time
}

// NewLLMScorer creates a scorer backed by client
func NewLLMScorer(client llm.Client) *LLMScorer {
	return &LLMScorer{client: client, now: time.Now}
}

// Score implements Scorer
func (s *LLMScorer) Score(ctx context.Context, profile *types.CandidateProfile, posting *types.JobPosting) (types.Score, error) {
	prompt, err := buildScorePrompt(profile, posting)
	if err != nil {
		return types.Score{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	jsonResp, err := s.client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return types.Score{}, fmt.Errorf("%w: LLM generation failed: %v", ErrUnavailable, err)
	}
	jsonResp = llm.CleanJSONBlock(jsonResp)

	if err := schemas.ValidateBytes(schemas.Score, []byte(jsonResp)); err != nil {
		return types.Score{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var response llmScoreResponse
	if err := json.Unmarshal([]byte(jsonResp), &response); err != nil {
		return types.Score{}, fmt.Errorf("%w: failed to parse LLM response: %v", ErrUnavailable, err)
	}

	rationale := strings.TrimSpace(response.Rationale)
	if len(response.MissingSkills) > 0 {
		rationale += " Missing: " + strings.Join(response.MissingSkills, ", ") + "."
	}

	return types.Score{
		CandidateID: profile.ID,
		PostingID:   posting.ID,
		MatchScore:  clamp(response.MatchScore),
		Rationale:   rationale,
		ScoredAt:    s.now(),
	}, nil
}

// buildScorePrompt constructs the prompt for match scoring.
func buildScorePrompt(profile *types.CandidateProfile, posting *types.JobPosting) (string, error) {
	var reqLines []string
	for _, req := range posting.Requirements {
		reqLines = append(reqLines, "  - "+req)
	}

	return prompts.Render("scoring.json", "score-match", map[string]string{
		"Summary":       orNotSpecified(profile.Summary),
		"Skills":        orNotSpecified(strings.Join(profile.Skills, ", ")),
		"Locations":     orNotSpecified(strings.Join(profile.Locations, ", ")),
		"RemoteOnly":    strconv.FormatBool(profile.RemoteOnly),
		"Salary":        formatSalary(&profile.Salary),
		"Title":         orNotSpecified(posting.Title),
		"Company":       orNotSpecified(posting.Company),
		"Location":      orNotSpecified(posting.Location),
		"Remote":        strconv.FormatBool(posting.Remote),
		"PostingSalary": formatSalary(posting.Salary),
		"Requirements":  orNotSpecified(strings.Join(reqLines, "\n")),
		"Description":   orNotSpecified(posting.Description),
	})
}

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not specified"
	}
	return s
}

func formatSalary(r *types.SalaryRange) string {
	if r == nil || (r.Min == 0 && r.Max == 0) {
		return "Not specified"
	}
	currency := r.Currency
	if currency == "" {
		currency = "USD"
	}
	if r.Max == 0 {
		return fmt.Sprintf("%d+ %s", r.Min, currency)
	}
	return fmt.Sprintf("%d-%d %s", r.Min, r.Max, currency)
}
