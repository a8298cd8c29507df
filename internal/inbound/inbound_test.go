package inbound

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jonathan/jobhunter/internal/llm"
	"github.com/jonathan/jobhunter/internal/pipeline"
	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/types"
)

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		snippet string
		want    types.OutcomeKind
		related bool
	}{
		{"rejection", "Your application to Acme", "Unfortunately we have decided to move forward with other candidates", types.OutcomeRejected, true},
		{"rejection mentioning interview", "Update", "We will not be moving forward with an interview at this time", types.OutcomeRejected, true},
		{"interview", "Interview invitation", "Could you share your availability for a 30 minute call?", types.OutcomeInterviewScheduled, true},
		{"received", "Thank you for applying", "We have received your application", types.OutcomeViewed, true},
		{"personal reply", "Re: Backend Engineer", "Hi, I'd like to ask a few questions", types.OutcomeResponded, true},
		{"newsletter", "Weekly digest", "Top stories this week", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KeywordClassifier{}.Classify(context.Background(), "acme", Email{Subject: tt.subject, Snippet: tt.snippet})
			require.NoError(t, err)
			assert.Equal(t, tt.related, got.Related)
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

type mockLLM struct {
	response string
	err      error
	prompts  []string
}

func (m *mockLLM) GenerateContent(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	return m.GenerateJSON(ctx, prompt, tier)
}

func (m *mockLLM) GenerateJSON(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.response, m.err
}

func (m *mockLLM) Close() error { return nil }

func TestLLMClassifier(t *testing.T) {
	email := Email{From: "jobs@acme.io", Subject: "Interview invitation", Snippet: "Let's talk"}

	tests := []struct {
		name     string
		response string
		err      error
		want     types.OutcomeKind
		related  bool
	}{
		{"model verdict", "```json\n{\"outcome\": \"responded\", \"reason\": \"recruiter reply\"}\n```", nil, types.OutcomeResponded, true},
		{"unrelated", `{"outcome": "unrelated"}`, nil, "", false},
		{"schema violation falls back to keywords", `{"outcome": "maybe"}`, nil, types.OutcomeInterviewScheduled, true},
		{"provider error falls back to keywords", "", errors.New("quota"), types.OutcomeInterviewScheduled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockLLM{response: tt.response, err: tt.err}
			got, err := NewLLMClassifier(client).Classify(context.Background(), "Acme", email)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.related, got.Related)
			require.Len(t, client.prompts, 1)
			assert.Contains(t, client.prompts[0], "Acme")
			assert.Contains(t, client.prompts[0], "Interview invitation")
		})
	}
}

type recorded struct {
	id   int64
	kind types.OutcomeKind
	at   time.Time
}

type fakeEngine struct {
	mu        sync.Mutex
	apps      []types.Application
	postings  map[string]*types.JobPosting
	conflicts map[int64]bool
	failNext  error
	calls     []recorded
}

func (f *fakeEngine) List(_ context.Context, filter store.ApplicationFilter) ([]types.Application, error) {
	if len(filter.Stages) != len(awaiting) {
		return nil, errors.New("unexpected stage filter")
	}
	return f.apps, nil
}

func (f *fakeEngine) Posting(_ context.Context, id string) (*types.JobPosting, error) {
	p, ok := f.postings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeEngine) RecordOutcome(_ context.Context, id int64, kind types.OutcomeKind, at time.Time, _ string) (*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	if f.conflicts[id] {
		return nil, &pipeline.ConflictError{ApplicationID: id, Stage: types.StageRejected, Op: "record " + string(kind)}
	}
	f.calls = append(f.calls, recorded{id: id, kind: kind, at: at})
	return &types.Application{ID: id}, nil
}

type fakeMailbox struct {
	emails []Email
	err    error
	calls  int
}

func (f *fakeMailbox) Recent(context.Context, string, int64) ([]Email, error) {
	f.calls++
	return f.emails, f.err
}

func newFakeEngine() *fakeEngine {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &fakeEngine{
		apps: []types.Application{
			{ID: 1, PostingID: "p-acme", UpdatedAt: base},
			{ID: 2, PostingID: "p-globex", UpdatedAt: base},
			{ID: 3, PostingID: "p-acme-2", UpdatedAt: base.Add(time.Hour)},
			{ID: 4, PostingID: "p-gone", UpdatedAt: base},
		},
		postings: map[string]*types.JobPosting{
			"p-acme":   {ID: "p-acme", Company: "Acme"},
			"p-acme-2": {ID: "p-acme-2", Company: "Acme"},
			"p-globex": {ID: "p-globex", Company: "Globex Corp"},
		},
		conflicts: map[int64]bool{},
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoller_Poll(t *testing.T) {
	at := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	engine := newFakeEngine()
	mailbox := &fakeMailbox{emails: []Email{
		{ID: "m2", From: "Talent <talent@globexcorp.com>", Subject: "Interview invitation", Received: at.Add(time.Hour)},
		{ID: "m1", From: "jobs@acme.io", Subject: "Your application", Snippet: "Unfortunately...", Received: at},
		{ID: "m3", From: "news@example.com", Subject: "Application tips", Received: at},
		{ID: "m4", From: "noreply@acme.io", Subject: "Acme newsletter", Snippet: "Product launch", Received: at},
	}}

	p := NewPoller(engine, mailbox, nil, discard())
	report, err := p.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PollReport{Fetched: 4, Matched: 3, Recorded: 2, Unrelated: 2}, report)
	require.Len(t, engine.calls, 2)
	// oldest first; the latest Acme application wins
	assert.Equal(t, recorded{id: 3, kind: types.OutcomeRejected, at: at}, engine.calls[0])
	assert.Equal(t, recorded{id: 2, kind: types.OutcomeInterviewScheduled, at: at.Add(time.Hour)}, engine.calls[1])

	report, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Fetched, "processed messages are not handled twice")
	assert.Len(t, engine.calls, 2)
}

func TestPoller_ConflictIsNotFatal(t *testing.T) {
	engine := newFakeEngine()
	engine.conflicts[3] = true
	mailbox := &fakeMailbox{emails: []Email{{ID: "m1", From: "jobs@acme.io", Subject: "Interview next week"}}}

	report, err := NewPoller(engine, mailbox, nil, discard()).Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)
	assert.Empty(t, engine.calls)
}

func TestPoller_StoreErrorRetriesMessage(t *testing.T) {
	engine := newFakeEngine()
	engine.failNext = errors.New("connection reset")
	mailbox := &fakeMailbox{emails: []Email{{ID: "m1", From: "jobs@acme.io", Subject: "Interview next week"}}}
	p := NewPoller(engine, mailbox, nil, discard())

	_, err := p.Poll(context.Background())
	require.Error(t, err)

	report, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recorded)
}

func TestPoller_NothingTracked(t *testing.T) {
	engine := newFakeEngine()
	engine.apps = nil
	mailbox := &fakeMailbox{}

	report, err := NewPoller(engine, mailbox, nil, discard()).Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report)
	assert.Zero(t, mailbox.calls, "mailbox is not read when nothing awaits a reply")
}

func TestPoller_MailboxError(t *testing.T) {
	mailbox := &fakeMailbox{err: errors.New("401 unauthorized")}
	_, err := NewPoller(newFakeEngine(), mailbox, nil, discard()).Poll(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "401"))
}

func TestTokenRoundTrip(t *testing.T) {
	path := t.TempDir() + "/token.json"
	_, err := TokenFromFile(path)
	require.Error(t, err)

	require.NoError(t, SaveToken(path, &oauth2.Token{AccessToken: "access", RefreshToken: "refresh"}))
	tok, err := TokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "access", tok.AccessToken)
	assert.Equal(t, "refresh", tok.RefreshToken)
}
