// Package inbound turns employer email into application outcome events.
package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/jobhunter/internal/llm"
	"github.com/jonathan/jobhunter/internal/prompts"
	"github.com/jonathan/jobhunter/internal/schemas"
	"github.com/jonathan/jobhunter/internal/types"
)

// Email is the part of a message the classifier looks at.
type Email struct {
	ID       string
	From     string
	Subject  string
	Snippet  string
	Received time.Time
}

// Classification is the verdict for one email. Related is false for mail that
// is not about the application.
type Classification struct {
	Kind    types.OutcomeKind
	Related bool
	Reason  string
}

// Classifier decides which outcome, if any, an email reports.
type Classifier interface {
	Classify(ctx context.Context, company string, email Email) (Classification, error)
}

type rule struct {
	kind     types.OutcomeKind
	keywords []string
}

// Rules are checked in order. Rejections come first because they often
// mention interviews ("we will not be moving forward with an interview").
var rules = []rule{
	{types.OutcomeRejected, []string{
		"unfortunately", "not moving forward", "not be moving forward", "decided to pursue other",
		"move forward with other candidates", "position has been filled", "regret to inform",
	}},
	{types.OutcomeInterviewScheduled, []string{
		"interview", "schedule a call", "phone screen", "availability for a", "calendar invite", "meet with the team",
	}},
	{types.OutcomeViewed, []string{
		"received your application", "application was viewed", "thank you for applying", "thanks for applying",
		"application has been received", "we have received",
	}},
	{types.OutcomeResponded, []string{
		"re:", "following up", "next steps", "would like to", "get back to you", "your application",
	}},
}

// KeywordClassifier matches subject and snippet against fixed phrase lists.
type KeywordClassifier struct{}

// Classify implements Classifier
func (KeywordClassifier) Classify(_ context.Context, _ string, email Email) (Classification, error) {
	text := strings.ToLower(email.Subject + " " + email.Snippet)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return Classification{Kind: r.kind, Related: true, Reason: fmt.Sprintf("matched %q", kw)}, nil
			}
		}
	}
	return Classification{Reason: "no keyword matched"}, nil
}

type llmOutcomeResponse struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason"`
}

// LLMClassifier asks the model and falls back to keywords when the answer is
// unusable.
type LLMClassifier struct {
	client   llm.Client
	fallback KeywordClassifier
}

// NewLLMClassifier creates a classifier backed by client
func NewLLMClassifier(client llm.Client) *LLMClassifier {
	return &LLMClassifier{client: client}
}

// Classify implements Classifier
func (c *LLMClassifier) Classify(ctx context.Context, company string, email Email) (Classification, error) {
	prompt, err := prompts.Render("outcome.json", "classify-email", map[string]string{
		"Company": company,
		"From":    email.From,
		"Subject": email.Subject,
		"Snippet": email.Snippet,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("failed to render outcome prompt: %w", err)
	}

	resp, err := c.client.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		return c.fallback.Classify(ctx, company, email)
	}
	resp = llm.CleanJSONBlock(resp)
	if err := schemas.ValidateBytes(schemas.Outcome, []byte(resp)); err != nil {
		return c.fallback.Classify(ctx, company, email)
	}

	var out llmOutcomeResponse
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		return c.fallback.Classify(ctx, company, email)
	}
	if out.Outcome == "unrelated" {
		return Classification{Reason: out.Reason}, nil
	}
	return Classification{Kind: types.OutcomeKind(out.Outcome), Related: true, Reason: out.Reason}, nil
}
