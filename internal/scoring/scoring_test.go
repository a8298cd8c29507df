package scoring

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/jobhunter/internal/llm"
	"github.com/jonathan/jobhunter/internal/types"
)

// MockLLMClient implements llm.Client for testing
type MockLLMClient struct {
	GenerateJSONFunc func(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
	prompts          []string
}

func (m *MockLLMClient) GenerateContent(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	return m.GenerateJSON(ctx, prompt, tier)
}

func (m *MockLLMClient) GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.GenerateJSONFunc != nil {
		return m.GenerateJSONFunc(ctx, prompt, tier)
	}
	return `{"match_score": 75, "rationale": "Mock rationale"}`, nil
}

func (m *MockLLMClient) Close() error { return nil }

func testProfile() *types.CandidateProfile {
	p := types.DefaultProfile("cand-1")
	p.Summary = "Backend engineer, 6 years of Go"
	p.Skills = []string{"Golang", "PostgreSQL", "Kubernetes", "gRPC"}
	p.Locations = []string{"Berlin"}
	p.Salary = types.SalaryRange{Min: 80000, Max: 110000, Currency: "EUR"}
	return &p
}

func testPosting() *types.JobPosting {
	return &types.JobPosting{
		ID:       "post-1",
		Title:    "Senior Backend Engineer",
		Company:  "Acme",
		Location: "Berlin, Germany",
		Salary:   &types.SalaryRange{Min: 90000, Max: 120000, Currency: "EUR"},
		Requirements: []string{
			"5+ years writing Go in production",
			"Experience with Postgres",
			"Familiarity with k8s",
			"Ruby on Rails",
		},
	}
}

func TestMentions(t *testing.T) {
	tests := []struct {
		text, skill string
		want        bool
	}{
		{"5+ years writing Go in production", "golang", true},
		{"Experience with Postgres", "PostgreSQL", true},
		{"Familiarity with k8s.", "Kubernetes", true},
		{"We use Django", "go", false},
		{"Strong C++ skills", "c++", true},
		{"Node.js services", "nodejs", true},
		{"Google Cloud or AWS", "gcp", true},
		{"anything", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text+"/"+tt.skill, func(t *testing.T) {
			assert.Equal(t, tt.want, mentions(tt.text, tt.skill))
		})
	}
}

func TestSkillScorer_Deterministic(t *testing.T) {
	s := NewSkillScorer()
	ctx := context.Background()

	first, err := s.Score(ctx, testProfile(), testPosting())
	require.NoError(t, err)
	second, err := s.Score(ctx, testProfile(), testPosting())
	require.NoError(t, err)

	// 3/4 requirements, location and salary match: 0.6*0.75 + 0.2 + 0.2
	assert.Equal(t, 85, first.MatchScore)
	assert.Equal(t, first.MatchScore, second.MatchScore)
	assert.Equal(t, first.Rationale, second.Rationale)
	assert.Equal(t, "cand-1", first.CandidateID)
	assert.Equal(t, "post-1", first.PostingID)
	assert.Contains(t, first.Rationale, "matched 3/4 requirements")
}

func TestSkillScorer_Components(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.CandidateProfile, *types.JobPosting)
		want   int
	}{
		{"remote only against on-site", func(p *types.CandidateProfile, _ *types.JobPosting) { p.RemoteOnly = true }, 65},
		{"remote posting always fits", func(p *types.CandidateProfile, j *types.JobPosting) {
			p.RemoteOnly = true
			j.Remote = true
			j.Location = "Anywhere"
		}, 85},
		{"salary below expectation", func(_ *types.CandidateProfile, j *types.JobPosting) {
			j.Salary = &types.SalaryRange{Min: 40000, Max: 60000}
		}, 65},
		{"unknown salary", func(_ *types.CandidateProfile, j *types.JobPosting) { j.Salary = nil }, 75},
		{"no requirements", func(_ *types.CandidateProfile, j *types.JobPosting) { j.Requirements = nil }, 70},
		{"no skills", func(p *types.CandidateProfile, _ *types.JobPosting) { p.Skills = nil }, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, j := testProfile(), testPosting()
			tt.mutate(p, j)
			got, err := NewSkillScorer().Score(context.Background(), p, j)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.MatchScore)
		})
	}
}

func TestSkillScorer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSkillScorer().Score(ctx, testProfile(), testPosting())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLLMScorer_Success(t *testing.T) {
	client := &MockLLMClient{
		GenerateJSONFunc: func(_ context.Context, _ string, tier llm.ModelTier) (string, error) {
			assert.Equal(t, llm.TierStandard, tier)
			return "```json\n{\"match_score\": 82, \"rationale\": \"Strong Go background.\", \"missing_skills\": [\"Rails\"]}\n```", nil
		},
	}

	got, err := NewLLMScorer(client).Score(context.Background(), testProfile(), testPosting())
	require.NoError(t, err)
	assert.Equal(t, 82, got.MatchScore)
	assert.Equal(t, "Strong Go background. Missing: Rails.", got.Rationale)

	require.Len(t, client.prompts, 1)
	prompt := client.prompts[0]
	assert.Contains(t, prompt, "Senior Backend Engineer")
	assert.Contains(t, prompt, "  - Ruby on Rails")
	assert.Contains(t, prompt, "80000-110000 EUR")
	assert.NotContains(t, prompt, "{{.")
}

func TestLLMScorer_FailuresAreUnavailable(t *testing.T) {
	tests := []struct {
		name string
		resp string
		err  error
	}{
		{"transport error", "", errors.New("connection reset")},
		{"not json", "I think this is a good fit", nil},
		{"schema violation", `{"match_score": 180, "rationale": "x"}`, nil},
		{"missing field", `{"rationale": "x"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockLLMClient{
				GenerateJSONFunc: func(context.Context, string, llm.ModelTier) (string, error) {
					return tt.resp, tt.err
				},
			}
			_, err := NewLLMScorer(client).Score(context.Background(), testProfile(), testPosting())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestFormatSalary(t *testing.T) {
	assert.Equal(t, "Not specified", formatSalary(nil))
	assert.Equal(t, "Not specified", formatSalary(&types.SalaryRange{}))
	assert.Equal(t, "90000+ USD", formatSalary(&types.SalaryRange{Min: 90000}))
	assert.True(t, strings.HasSuffix(formatSalary(&types.SalaryRange{Min: 1, Max: 2, Currency: "GBP"}), "GBP"))
}
