package types

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Writing tones accepted by the generation service.
const (
	ToneProfessional = "professional"
	ToneFriendly     = "friendly"
	ToneEnthusiastic = "enthusiastic"
	ToneFormal       = "formal"
)

// ToneConfig controls the voice of generated content.
type ToneConfig struct {
	Tone              string `json:"tone" validate:"omitempty,oneof=professional friendly enthusiastic formal"`
	CoverLetterLength string `json:"cover_letter_length" validate:"omitempty,oneof=short medium long"`
}

// CandidateProfile holds the single user's contact details, preferences and automation policy.
type CandidateProfile struct {
	ID                   string      `json:"id" validate:"required"`
	Name                 string      `json:"name" validate:"required"`
	Email                string      `json:"email" validate:"omitempty,email"`
	Phone                string      `json:"phone,omitempty"`
	LinkedIn             string      `json:"linkedin,omitempty" validate:"omitempty,url"`
	Summary              string      `json:"summary,omitempty"`
	Skills               []string    `json:"skills"`
	Salary               SalaryRange `json:"salary"`
	Locations            []string    `json:"locations"`
	RemoteOnly           bool        `json:"remote_only"`
	Tone                 ToneConfig  `json:"tone"`
	MinMatchThreshold    int         `json:"min_match_threshold" validate:"gte=0,lte=100"`
	AutoApproveThreshold int         `json:"auto_approve_threshold" validate:"gte=0,lte=100"`
	DailyApplicationCap  int         `json:"daily_application_cap" validate:"gte=1"`
}

// DefaultProfile returns a profile with the policy defaults applied.
func DefaultProfile(id string) CandidateProfile {
	return CandidateProfile{
		ID:                   id,
		Name:                 "Candidate",
		Tone:                 ToneConfig{Tone: ToneProfessional, CoverLetterLength: "medium"},
		MinMatchThreshold:    70,
		AutoApproveThreshold: 95,
		DailyApplicationCap:  5,
	}
}

var validate = validator.New()

// Validate checks field constraints and the salary band ordering.
func (p *CandidateProfile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	if p.Salary.Max > 0 && p.Salary.Min > p.Salary.Max {
		return fmt.Errorf("salary min %d exceeds max %d", p.Salary.Min, p.Salary.Max)
	}
	return nil
}

// HasSkill reports whether the profile lists skill, ignoring case.
func (p *CandidateProfile) HasSkill(skill string) bool {
	for _, s := range p.Skills {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(skill)) {
			return true
		}
	}
	return false
}

// NormalizeSkills trims, de-duplicates (case-insensitively) and drops empty skills, keeping order.
func (p *CandidateProfile) NormalizeSkills() {
	seen := make(map[string]bool, len(p.Skills))
	out := p.Skills[:0]
	for _, s := range p.Skills {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	p.Skills = out
}
