package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/jobhunter/internal/types"
)

// TemplateGenerator fills fixed templates from the profile. It needs no model and
// its confidence reflects how many requirements the profile's skills cover.
type TemplateGenerator struct{}

// NewTemplateGenerator creates an offline generator
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Generate implements Generator
func (g *TemplateGenerator) Generate(ctx context.Context, profile *types.CandidateProfile, posting *types.JobPosting, contentType types.ContentType, tone types.ToneConfig) (types.Draft, error) {
	if err := ctx.Err(); err != nil {
		return types.Draft{}, fail(contentType, "cancelled", err)
	}

	covered, missing := coverage(profile, posting)
	confidence := 50
	if total := len(covered) + len(missing); total > 0 {
		confidence = 40 + 60*len(covered)/total
	}

	var text string
	switch contentType {
	case types.ContentCV:
		text = renderCV(profile, posting, covered)
	case types.ContentCoverLetter:
		text = renderLetter(profile, posting, tone, covered)
	default:
		return types.Draft{}, fail(contentType, "unknown content type", nil)
	}

	return types.Draft{ContentType: contentType, Text: text, Confidence: confidence}, nil
}

// coverage splits the posting's requirements by whether a profile skill appears in them
func coverage(profile *types.CandidateProfile, posting *types.JobPosting) (covered, missing []string) {
	for _, req := range posting.Requirements {
		lower := strings.ToLower(req)
		hit := false
		for _, skill := range profile.Skills {
			if s := strings.ToLower(strings.TrimSpace(skill)); s != "" && strings.Contains(lower, s) {
				hit = true
				break
			}
		}
		if hit {
			covered = append(covered, req)
		} else {
			missing = append(missing, req)
		}
	}
	return covered, missing
}

func renderCV(profile *types.CandidateProfile, posting *types.JobPosting, covered []string) string {
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(profile.Name) + "\n")
	contact := nonEmpty(profile.Email, profile.Phone, profile.LinkedIn)
	if len(contact) > 0 {
		sb.WriteString(strings.Join(contact, " | ") + "\n")
	}
	sb.WriteString("\nTARGET ROLE\n" + posting.Title + " at " + posting.Company + "\n")
	if profile.Summary != "" {
		sb.WriteString("\nSUMMARY\n" + profile.Summary + "\n")
	}
	if len(profile.Skills) > 0 {
		sb.WriteString("\nSKILLS\n" + strings.Join(profile.Skills, ", ") + "\n")
	}
	if len(covered) > 0 {
		sb.WriteString("\nRELEVANT TO THIS ROLE\n")
		for _, req := range covered {
			sb.WriteString("- " + req + "\n")
		}
	}
	return sb.String()
}

var greetings = map[string]string{
	types.ToneFriendly:     "Hi %s team,",
	types.ToneEnthusiastic: "Hello %s team!",
	types.ToneFormal:       "Dear Hiring Committee at %s,",
}

func renderLetter(profile *types.CandidateProfile, posting *types.JobPosting, tone types.ToneConfig, covered []string) string {
	greeting, ok := greetings[tone.Tone]
	if !ok {
		greeting = "Dear %s Hiring Team,"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(greeting, posting.Company) + "\n\n")
	sb.WriteString(fmt.Sprintf("I am applying for the %s position at %s.", posting.Title, posting.Company))
	if profile.Summary != "" {
		sb.WriteString(" " + strings.TrimSuffix(profile.Summary, ".") + ".")
	}
	sb.WriteString("\n\n")

	limit := 3
	if tone.CoverLetterLength == "short" {
		limit = 1
	} else if tone.CoverLetterLength == "long" {
		limit = 5
	}
	if len(covered) > limit {
		covered = covered[:limit]
	}
	if len(covered) > 0 {
		sb.WriteString("Your posting asks for:\n")
		for _, req := range covered {
			sb.WriteString("- " + req + "\n")
		}
		sb.WriteString("Each of these is part of my day-to-day work.\n\n")
	}
	sb.WriteString("I would welcome the chance to talk about how I can help your team.\n\n")
	sb.WriteString("Best regards,\n" + profile.Name + "\n")
	return sb.String()
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
