package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *CandidateProfile)
		wantErr bool
	}{
		{"defaults are valid", func(_ *CandidateProfile) {}, false},
		{"missing name", func(p *CandidateProfile) { p.Name = "" }, true},
		{"bad email", func(p *CandidateProfile) { p.Email = "not-an-email" }, true},
		{"threshold above 100", func(p *CandidateProfile) { p.AutoApproveThreshold = 101 }, true},
		{"negative match threshold", func(p *CandidateProfile) { p.MinMatchThreshold = -1 }, true},
		{"zero daily cap", func(p *CandidateProfile) { p.DailyApplicationCap = 0 }, true},
		{"unknown tone", func(p *CandidateProfile) { p.Tone.Tone = "sarcastic" }, true},
		{"inverted salary", func(p *CandidateProfile) { p.Salary = SalaryRange{Min: 200000, Max: 100000} }, true},
		{"open ended salary", func(p *CandidateProfile) { p.Salary = SalaryRange{Min: 90000} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProfile("cand-1")
			p.Email = "john.doe@example.com"
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCandidateProfile_NormalizeSkills(t *testing.T) {
	p := CandidateProfile{Skills: []string{" React", "react", "", "Go ", "TypeScript", "go"}}
	p.NormalizeSkills()
	assert.Equal(t, []string{"React", "Go", "TypeScript"}, p.Skills)
	assert.True(t, p.HasSkill("typescript"))
	assert.False(t, p.HasSkill("Rust"))
}

func TestSalaryRange_Overlaps(t *testing.T) {
	want := SalaryRange{Min: 100000, Max: 180000}
	assert.True(t, want.Overlaps(SalaryRange{Min: 120000, Max: 160000}))
	assert.True(t, want.Overlaps(SalaryRange{Min: 170000, Max: 250000}))
	assert.False(t, want.Overlaps(SalaryRange{Min: 50000, Max: 90000}))
	assert.True(t, want.Overlaps(SalaryRange{}))
}
