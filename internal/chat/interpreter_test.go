package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/jobhunter/internal/discovery"
	"github.com/jonathan/jobhunter/internal/generation"
	"github.com/jonathan/jobhunter/internal/pipeline"
	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/submission"
	"github.com/jonathan/jobhunter/internal/types"
)

type fixedScorer struct{ score int }

func (s fixedScorer) Score(context.Context, *types.CandidateProfile, *types.JobPosting) (types.Score, error) {
	return types.Score{MatchScore: s.score, Rationale: "fixed"}, nil
}

type stubDiscoverer struct {
	report *discovery.Report
	err    error
}

func (d stubDiscoverer) Run(context.Context) (*discovery.Report, error) {
	return d.report, d.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEngine returns an engine holding two applications ready for review, ids 1 and 2.
func newEngine(t *testing.T) *pipeline.Engine {
	t.Helper()
	ctx := context.Background()
	e := pipeline.New(store.NewMemory(), fixedScorer{score: 85}, generation.NewTemplateGenerator(),
		submission.NewDryRunSubmitter(discard()), pipeline.Options{Logger: discard(), BackoffBase: time.Millisecond})
	t.Cleanup(e.Close)

	p := types.DefaultProfile("default")
	p.Name = "Ada Lovelace"
	p.Skills = []string{"Go", "PostgreSQL"}
	p.AutoApproveThreshold = 0
	_, err := e.UpdateProfile(ctx, p)
	require.NoError(t, err)

	_, err = e.Discover(ctx, []types.JobPosting{
		{ID: "p1", Title: "Backend Engineer", Company: "TechCorp", Location: "Berlin", Requirements: []string{"Go"}},
		{ID: "p2", Title: "Platform Engineer", Company: "StartupXYZ", Remote: true, Requirements: []string{"PostgreSQL"},
			Salary: &types.SalaryRange{Min: 100000, Max: 140000}},
	})
	require.NoError(t, err)
	for _, id := range []string{"p1", "p2"} {
		_, err := e.ScorePosting(ctx, id)
		require.NoError(t, err)
	}
	e.Wait()
	return e
}

func TestInterpreter_Commands(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	in := NewInterpreter(e, nil, nil, Options{}, discard())
	s := Session{ID: "s1", Actor: "ada"}

	assert.Contains(t, in.Handle(ctx, s, "/help"), "/findjobs")
	assert.Contains(t, in.Handle(ctx, s, "thanks"), "welcome")

	review := in.Handle(ctx, s, "/review")
	assert.Contains(t, review, "2 application(s) ready")
	assert.Contains(t, review, "#1 Backend Engineer - TechCorp")
	assert.Contains(t, review, "#2 Platform Engineer - StartupXYZ")

	assert.Contains(t, in.Handle(ctx, s, "/generate 1"), "are ready")

	assert.Contains(t, in.Handle(ctx, s, "✅ 1"), "Application #1 approved")
	e.Wait()
	app, err := e.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.StageSubmitted, app.Stage())
	assert.Equal(t, "ada", app.Timeline[len(app.Timeline)-3].Actor)

	assert.Equal(t, "Can't approve application #1: it is submitted.", in.Handle(ctx, s, "/approve 1"))
	// no id falls back to #1
	assert.Equal(t, "Can't reject application #1: it is submitted.", in.Handle(ctx, s, "reject"))

	assert.Equal(t, "Application #2 rejected. It won't be submitted.", in.Handle(ctx, s, "/reject 2"))
	assert.Contains(t, in.Handle(ctx, s, "/generate 2"), "nothing to generate")
	assert.Contains(t, in.Handle(ctx, s, "/approve 42"), "No application #42")
	// a digit run past int64 is never truncated onto another id
	assert.Equal(t, "No application #1000000000000000000002. Type /review to see the queue.",
		in.Handle(ctx, s, "/reject 1000000000000000000002"))

	stats := in.Handle(ctx, s, "/stats")
	assert.Contains(t, stats, "Jobs found: 2 (2 matched, 0 pending)")
	assert.Contains(t, stats, "Applications sent: 1 (1 today)")

	profile := in.Handle(ctx, s, "/profile")
	assert.Contains(t, profile, "Ada Lovelace")
	assert.Contains(t, profile, "Skills: Go, PostgreSQL")
	assert.Contains(t, profile, "Auto-approve: off")

	assert.Equal(t, "Review queue is empty.", in.Handle(ctx, s, "/review"))
}

func TestInterpreter_StrictIDs(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	in := NewInterpreter(e, nil, nil, Options{StrictIDs: true}, discard())

	reply := in.Handle(ctx, Session{ID: "s1"}, "approve")
	assert.Equal(t, "Which application? Try /approve <id>, for example /approve 2.", reply)
	e.Wait()
	app, err := e.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.StageReadyForReview, app.Stage())
}

func TestInterpreter_FindJobs(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	in := NewInterpreter(e, stubDiscoverer{report: &discovery.Report{Discovered: 3, Matched: 1}}, nil, Options{TopN: 1}, discard())
	reply := in.Handle(ctx, Session{ID: "s1"}, "/findjobs")
	assert.Contains(t, reply, "Found 3 new job(s), 1 matched your profile.")
	assert.Contains(t, reply, "match 85%")
	assert.Equal(t, 1, strings.Count(reply, "\n#"))

	in = NewInterpreter(e, nil, nil, Options{}, discard())
	reply = in.Handle(ctx, Session{ID: "s1"}, "find jobs")
	assert.Contains(t, reply, "Discovery is not configured")
	assert.Contains(t, reply, "$100k - $140k | Remote")

	in = NewInterpreter(e, stubDiscoverer{err: assert.AnError}, nil, Options{}, discard())
	assert.Contains(t, in.Handle(ctx, Session{ID: "s1"}, "/findjobs"), "Job search failed")
}

func TestInterpreter_Totality(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	in := NewInterpreter(e, nil, nil, Options{}, discard())

	inputs := []string{
		"",
		" ",
		"\n\t",
		"/",
		"//",
		"/aprove 1",
		"/approve -1",
		"/approve 0",
		"approve 18446744073709551616",
		"日本語のメッセージ",
		"🙂🙂🙂",
		"\xff\xfe\xfd",
		"\x00",
		strings.Repeat("a", 10000),
		"/generate 999999999999999999",
		"DROP TABLE applications;",
		"%s %d %v",
	}
	for _, input := range inputs {
		reply := in.Handle(ctx, Session{ID: "s1"}, input)
		assert.NotEmpty(t, reply, "input %q", input)
		assert.True(t, len(reply) < 2000, "input %q produced an oversized reply", input)
	}

	assert.Contains(t, in.Handle(ctx, Session{}, "hello"), `I didn't understand "hello"`)
}

type panickingEngine struct{ Engine }

func TestInterpreter_RecoversFromPanic(t *testing.T) {
	in := NewInterpreter(panickingEngine{}, nil, nil, Options{}, discard())
	reply := in.Handle(context.Background(), Session{ID: "s1"}, "/stats")
	assert.Contains(t, reply, "Available commands")
}

func TestInterpreter_RateLimited(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	in := NewInterpreter(e, nil, NewWindowLimiter(2, time.Minute), Options{}, discard())

	assert.Contains(t, in.Handle(ctx, Session{ID: "a"}, "/help"), "Available commands")
	assert.Contains(t, in.Handle(ctx, Session{ID: "a"}, "/help"), "Available commands")
	assert.Equal(t, replyRateLimited, in.Handle(ctx, Session{ID: "a"}, "/help"))
	// sessions are limited independently
	assert.Contains(t, in.Handle(ctx, Session{ID: "b"}, "/help"), "Available commands")
}

func TestWindowLimiter_ResetsAfterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewWindowLimiter(1, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "k"))
	assert.False(t, l.Allow(ctx, "k"))
	now = now.Add(time.Minute)
	assert.True(t, l.Allow(ctx, "k"))
	assert.True(t, l.Allow(ctx, ""))
}

func TestWindowLimiter_EvictsExpiredKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewWindowLimiter(1, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		l.Allow(ctx, fmt.Sprintf("session-%d", i))
	}
	assert.Len(t, l.hits, 100)

	now = now.Add(time.Minute)
	assert.True(t, l.Allow(ctx, "fresh"))
	assert.Len(t, l.hits, 1)
	assert.False(t, l.Allow(ctx, "fresh"))
}

func TestRedisLimiter_NilClientAllows(t *testing.T) {
	l := NewRedisLimiter(nil, 1, time.Minute, "chat")
	assert.Nil(t, l)
	assert.True(t, l.Allow(context.Background(), "k"))
}
