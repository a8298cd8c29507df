package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/jobhunter/internal/types"
)

// DefaultTimeout bounds one webhook call.
const DefaultTimeout = 30 * time.Second

// payload is the JSON body posted to the webhook.
type payload struct {
	IdempotencyKey  string            `json:"idempotency_key"`
	ApplicationID   int64             `json:"application_id"`
	Posting         payloadPosting    `json:"posting"`
	Candidate       payloadCandidate  `json:"candidate"`
	CVText          string            `json:"cv_text"`
	CoverLetterText string            `json:"cover_letter_text"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type payloadPosting struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Company      string `json:"company"`
	URL          string `json:"url,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

type payloadCandidate struct {
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

type webhookResponse struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
}

// WebhookSubmitter posts the application to an HTTP endpoint that performs the
// actual delivery (ATS integration, mailer, etc.).
type WebhookSubmitter struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookSubmitter creates a submitter for url. A nil client gets DefaultTimeout.
func NewWebhookSubmitter(url string, client *http.Client) *WebhookSubmitter {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &WebhookSubmitter{url: url, client: client, now: time.Now}
}

// Submit implements Submitter
func (s *WebhookSubmitter) Submit(ctx context.Context, app *types.Application, posting *types.JobPosting, profile *types.CandidateProfile) (types.SubmissionReceipt, error) {
	body, err := json.Marshal(payload{
		// Stable per application so a retried delivery can be de-duplicated downstream
		IdempotencyKey:  fmt.Sprintf("%s-%d", profile.ID, app.ID),
		ApplicationID:   app.ID,
		Posting:         payloadPosting{ID: posting.ID, Title: posting.Title, Company: posting.Company, URL: posting.URL, ContactEmail: posting.ContactEmail},
		Candidate:       payloadCandidate{Name: profile.Name, Email: profile.Email, Phone: profile.Phone, LinkedIn: profile.LinkedIn},
		CVText:          app.CVText,
		CoverLetterText: app.CoverLetterText,
		Metadata:        map[string]string{"source": posting.Source},
	})
	if err != nil {
		return types.SubmissionReceipt{}, fmt.Errorf("failed to marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return types.SubmissionReceipt{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return types.SubmissionReceipt{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return types.SubmissionReceipt{}, fmt.Errorf("%w: webhook returned HTTP %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		return types.SubmissionReceipt{}, fmt.Errorf("webhook rejected submission: HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	receipt := types.SubmissionReceipt{
		ID:          uuid.New().String(),
		Channel:     "webhook",
		SubmittedAt: s.now(),
	}
	var parsed webhookResponse
	if json.Unmarshal(respBody, &parsed) == nil {
		if parsed.ID != "" {
			receipt.ID = parsed.ID
		}
		receipt.Reference = parsed.Reference
	}
	return receipt, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
