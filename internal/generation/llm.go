package generation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jonathan/jobhunter/internal/llm"
	"github.com/jonathan/jobhunter/internal/prompts"
	"github.com/jonathan/jobhunter/internal/schemas"
	"github.com/jonathan/jobhunter/internal/types"
)

type llmDraftResponse struct {
	Text       string `json:"text"`
	Confidence int    `json:"confidence"`
}

// LLMGenerator writes drafts with the advanced model tier.
type LLMGenerator struct {
	client llm.Client
}

// NewLLMGenerator creates a generator backed by client
func NewLLMGenerator(client llm.Client) *LLMGenerator {
	return &LLMGenerator{client: client}
}

// Generate implements Generator
func (g *LLMGenerator) Generate(ctx context.Context, profile *types.CandidateProfile, posting *types.JobPosting, contentType types.ContentType, tone types.ToneConfig) (types.Draft, error) {
	key, ok := promptKeys[contentType]
	if !ok {
		return types.Draft{}, fail(contentType, "unknown content type", nil)
	}

	prompt, err := prompts.Render("generation.json", key, promptData(profile, posting, tone))
	if err != nil {
		return types.Draft{}, fail(contentType, "prompt", err)
	}

	jsonResp, err := g.client.GenerateJSON(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return types.Draft{}, fail(contentType, "model call failed", err)
	}
	jsonResp = llm.CleanJSONBlock(jsonResp)

	if err := schemas.ValidateBytes(schemas.Draft, []byte(jsonResp)); err != nil {
		return types.Draft{}, fail(contentType, "malformed draft", err)
	}
	var resp llmDraftResponse
	if err := json.Unmarshal([]byte(jsonResp), &resp); err != nil {
		return types.Draft{}, fail(contentType, "malformed draft", err)
	}

	return types.Draft{
		ContentType: contentType,
		Text:        strings.TrimSpace(resp.Text),
		Confidence:  resp.Confidence,
	}, nil
}

var promptKeys = map[types.ContentType]string{
	types.ContentCV:          "tailored-cv",
	types.ContentCoverLetter: "cover-letter",
}

func promptData(profile *types.CandidateProfile, posting *types.JobPosting, tone types.ToneConfig) map[string]string {
	var reqLines []string
	for _, req := range posting.Requirements {
		reqLines = append(reqLines, "  - "+req)
	}
	toneName := tone.Tone
	if toneName == "" {
		toneName = types.ToneProfessional
	}
	length := tone.CoverLetterLength
	if length == "" {
		length = "medium"
	}

	return map[string]string{
		"Name":         profile.Name,
		"Email":        orNone(profile.Email),
		"Phone":        orNone(profile.Phone),
		"LinkedIn":     orNone(profile.LinkedIn),
		"Summary":      orNone(profile.Summary),
		"Skills":       orNone(strings.Join(profile.Skills, ", ")),
		"Title":        posting.Title,
		"Company":      posting.Company,
		"Location":     orNone(posting.Location),
		"Requirements": orNone(strings.Join(reqLines, "\n")),
		"Description":  orNone(posting.Description),
		"Tone":         toneName,
		"Length":       length,
		"Words":        letterWords(length),
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}
