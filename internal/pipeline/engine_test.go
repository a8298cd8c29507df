package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/jobhunter/internal/generation"
	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/submission"
	"github.com/jonathan/jobhunter/internal/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeScorer struct {
	mu     sync.Mutex
	scores map[string]int
	err    error
	gate   chan struct{}
	calls  atomic.Int32
}

func (s *fakeScorer) Score(ctx context.Context, _ *types.CandidateProfile, posting *types.JobPosting) (types.Score, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return types.Score{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return types.Score{}, s.err
	}
	score, ok := s.scores[posting.ID]
	if !ok {
		score = 80
	}
	return types.Score{MatchScore: score, Rationale: "fake"}, nil
}

func (s *fakeScorer) set(postingID string, score int) {
	s.mu.Lock()
	s.scores[postingID] = score
	s.mu.Unlock()
}

type fakeGenerator struct {
	mu         sync.Mutex
	confidence map[types.ContentType]int
	fail       map[types.ContentType]error
	delay      time.Duration
	started    []string
	active     int
	maxActive  int
}

func (g *fakeGenerator) Generate(ctx context.Context, _ *types.CandidateProfile, posting *types.JobPosting, ct types.ContentType, _ types.ToneConfig) (types.Draft, error) {
	g.mu.Lock()
	if ct == types.ContentCV {
		g.started = append(g.started, posting.ID)
		g.active++
		g.maxActive = max(g.maxActive, g.active)
	}
	delay := g.delay
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if ct == types.ContentCV {
		g.active--
	}
	if err := g.fail[ct]; err != nil {
		return types.Draft{}, err
	}
	conf, ok := g.confidence[ct]
	if !ok {
		conf = 80
	}
	return types.Draft{ContentType: ct, Text: fmt.Sprintf("%s for %s", ct, posting.Title), Confidence: conf}, nil
}

func (g *fakeGenerator) setConfidence(conf int) {
	g.mu.Lock()
	g.confidence[types.ContentCV] = conf
	g.confidence[types.ContentCoverLetter] = conf
	g.mu.Unlock()
}

func (g *fakeGenerator) setFailure(ct types.ContentType, err error) {
	g.mu.Lock()
	g.fail[ct] = err
	g.mu.Unlock()
}

type fakeSubmitter struct {
	mu     sync.Mutex
	errs   []error
	always error
	calls  int
}

func (s *fakeSubmitter) Submit(_ context.Context, app *types.Application, _ *types.JobPosting, _ *types.CandidateProfile) (types.SubmissionReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.always != nil {
		return types.SubmissionReceipt{}, s.always
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return types.SubmissionReceipt{}, err
	}
	return types.SubmissionReceipt{ID: fmt.Sprintf("r-%d", app.ID), Channel: "test"}, nil
}

func (s *fakeSubmitter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	e      *Engine
	st     *store.Memory
	scorer *fakeScorer
	gen    *fakeGenerator
	sub    *fakeSubmitter
	clock  *testClock
}

func newHarness(t *testing.T, configure func(*Options)) *harness {
	t.Helper()
	h := &harness{
		st:     store.NewMemory(),
		scorer: &fakeScorer{scores: map[string]int{}},
		gen:    &fakeGenerator{confidence: map[types.ContentType]int{}, fail: map[types.ContentType]error{}},
		sub:    &fakeSubmitter{},
		clock:  &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
	}
	opts := Options{
		BackoffBase: time.Millisecond,
		Now:         h.clock.Now,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if configure != nil {
		configure(&opts)
	}
	h.e = New(h.st, h.scorer, h.gen, h.sub, opts)
	t.Cleanup(h.e.Close)

	// Auto-approval off unless a test turns it on.
	h.setProfile(t, func(p *types.CandidateProfile) { p.AutoApproveThreshold = 0 })
	return h
}

func (h *harness) setProfile(t *testing.T, mutate func(*types.CandidateProfile)) {
	t.Helper()
	p := types.DefaultProfile("ignored")
	p.Name = "Ada"
	p.Skills = []string{"go", "postgres"}
	mutate(&p)
	_, err := h.e.UpdateProfile(context.Background(), p)
	require.NoError(t, err)
}

func testPosting(id string) types.JobPosting {
	return types.JobPosting{
		ID:           id,
		Title:        "Engineer " + id,
		Company:      "Acme " + id,
		Requirements: []string{"go"},
	}
}

// matched discovers and scores postings above threshold and waits for generation.
func (h *harness) matched(t *testing.T, ids ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	var postings []types.JobPosting
	for _, id := range ids {
		postings = append(postings, testPosting(id))
	}
	_, err := h.e.Discover(ctx, postings)
	require.NoError(t, err)

	var appIDs []int64
	for _, id := range ids {
		out, err := h.e.ScorePosting(ctx, id)
		require.NoError(t, err)
		require.True(t, out.Matched)
		appIDs = append(appIDs, out.ApplicationID)
	}
	h.e.Wait()
	return appIDs
}

func (h *harness) stage(t *testing.T, id int64) types.Stage {
	t.Helper()
	app, err := h.e.Get(context.Background(), id)
	require.NoError(t, err)
	return app.Stage()
}

func assertTimelineConsistent(t *testing.T, app *types.Application) {
	t.Helper()
	for i := 1; i < len(app.Timeline); i++ {
		assert.False(t, app.Timeline[i].At.Before(app.Timeline[i-1].At), "timeline goes backwards at %d", i)
	}
	last, ok := app.LastEvent()
	require.True(t, ok)
	want, ok := types.StageOf(last.Kind)
	require.True(t, ok)
	assert.Equal(t, want, app.Stage())
}

func TestDiscover(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.e.Discover(ctx, []types.JobPosting{testPosting("p1"), {Title: "no id"}})
	require.NoError(t, err)
	assert.Len(t, res.Created, 2)
	assert.Equal(t, "p1", res.Created[0])
	assert.NotEmpty(t, res.Created[1])

	res, err = h.e.Discover(ctx, []types.JobPosting{testPosting("p1")})
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Equal(t, 1, res.Duplicates)

	p, err := h.st.GetPosting(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PostingDiscovered, p.Stage)
	assert.Equal(t, h.clock.Now(), p.DiscoveredAt)
}

func TestScorePosting_ApplicationExistsIffAboveThreshold(t *testing.T) {
	tests := []struct {
		name        string
		score       int
		wantApp     bool
		wantPosting types.PostingStage
	}{
		{name: "below threshold", score: 69, wantApp: false, wantPosting: types.PostingRejected},
		{name: "at threshold", score: 70, wantApp: true, wantPosting: types.PostingMatched},
		{name: "above threshold", score: 95, wantApp: true, wantPosting: types.PostingMatched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()
			h.scorer.set("p1", tt.score)
			_, err := h.e.Discover(ctx, []types.JobPosting{testPosting("p1")})
			require.NoError(t, err)

			out, err := h.e.ScorePosting(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, tt.score, out.MatchScore)
			assert.Equal(t, tt.wantApp, out.Matched)
			h.e.Wait()

			app, err := h.st.GetApplicationByPosting(ctx, "default", "p1")
			if tt.wantApp {
				require.NoError(t, err)
				assert.Equal(t, out.ApplicationID, app.ID)
				assert.Equal(t, tt.score, app.MatchScore)
				assert.Equal(t, types.StageReadyForReview, app.Stage())
			} else {
				assert.ErrorIs(t, err, store.ErrNotFound)
			}

			posting, err := h.st.GetPosting(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPosting, posting.Stage)
		})
	}
}

func TestScorePosting_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.e.Discover(ctx, []types.JobPosting{testPosting("p1")})
	require.NoError(t, err)

	first, err := h.e.ScorePosting(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := h.e.ScorePosting(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.MatchScore, second.MatchScore)
	assert.Equal(t, first.ApplicationID, second.ApplicationID)
	assert.Equal(t, int32(1), h.scorer.calls.Load())

	h.e.Wait()
	apps, err := h.e.List(ctx, store.ApplicationFilter{})
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestScorePosting_ConcurrentCallsScoreOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.scorer.gate = make(chan struct{})
	_, err := h.e.Discover(ctx, []types.JobPosting{testPosting("p1")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.e.ScorePosting(ctx, "p1")
			assert.NoError(t, err)
			ids[i] = out.ApplicationID
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(h.scorer.gate)
	wg.Wait()
	h.e.Wait()

	assert.Equal(t, int32(1), h.scorer.calls.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestScorePosting_UnavailableIsRetriedThenFlagged(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.ScoringRetries = 2
		o.ScoringMaxCycles = 2
	})
	ctx := context.Background()
	h.scorer.err = errors.New("connection reset")
	_, err := h.e.Discover(ctx, []types.JobPosting{testPosting("p1")})
	require.NoError(t, err)

	_, err = h.e.ScorePosting(ctx, "p1")
	assert.ErrorIs(t, err, ErrScoringUnavailable)
	assert.Equal(t, int32(2), h.scorer.calls.Load())

	p, err := h.st.GetPosting(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PostingDiscovered, p.Stage)
	assert.Equal(t, 1, p.ScoreAttempts)
	assert.False(t, p.NeedsAttention)

	report, err := h.e.RunScoringCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Considered)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Flagged)

	report, err = h.e.RunScoringCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Considered)

	_, err = h.st.GetApplicationByPosting(ctx, "default", "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunScoringCycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.scorer.set("low", 40)
	h.scorer.set("high", 90)
	_, err := h.e.Discover(ctx, []types.JobPosting{testPosting("low"), testPosting("high")})
	require.NoError(t, err)

	report, err := h.e.RunScoringCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Considered)
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Rejected)

	report, err = h.e.RunScoringCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Considered)
	assert.Equal(t, int32(2), h.scorer.calls.Load())
}

func TestGeneration_ConfidenceIsMinimum(t *testing.T) {
	h := newHarness(t, nil)
	h.gen.confidence[types.ContentCV] = 88
	h.gen.confidence[types.ContentCoverLetter] = 72
	ids := h.matched(t, "p1")

	app, err := h.e.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.StageReadyForReview, app.Stage())
	require.NotNil(t, app.GenerationConfidence)
	assert.Equal(t, 72, *app.GenerationConfidence)
	assert.Contains(t, app.CVText, "cv for")
	assert.Contains(t, app.CoverLetterText, "cover_letter for")
	assertTimelineConsistent(t, app)
}

func TestGeneration_FailureWaitsForManualRetry(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.GenerationRetries = 1 })
	ctx := context.Background()
	h.gen.setFailure(types.ContentCoverLetter, &generation.Error{ContentType: types.ContentCoverLetter, Reason: "model call failed"})
	ids := h.matched(t, "p1")

	app, err := h.e.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.StageGenerationFailed, app.Stage())
	assert.True(t, app.NeedsAttention)
	last, _ := app.LastEvent()
	assert.Contains(t, last.Detail, "cover_letter")

	// the engine never retries on its own
	h.e.Wait()
	assert.Equal(t, types.StageGenerationFailed, h.stage(t, ids[0]))

	h.gen.setFailure(types.ContentCoverLetter, nil)
	_, err = h.e.RetryGeneration(ctx, ids[0], "ada")
	require.NoError(t, err)
	h.e.Wait()

	app, err = h.e.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.StageReadyForReview, app.Stage())
	assert.False(t, app.NeedsAttention)
	assert.True(t, app.HasEvent(types.EventRequeued))

	_, err = h.e.RetryGeneration(ctx, ids[0], "ada")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGeneration_FIFOAdmission(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.GenerationPoolSize = 1 })
	h.matched(t, "p1", "p2", "p3", "p4", "p5")

	h.gen.mu.Lock()
	defer h.gen.mu.Unlock()
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, h.gen.started)
}

func TestGeneration_PoolBound(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.GenerationPoolSize = 2 })
	h.gen.delay = 20 * time.Millisecond
	ids := h.matched(t, "p1", "p2", "p3", "p4", "p5", "p6")

	h.gen.mu.Lock()
	assert.LessOrEqual(t, h.gen.maxActive, 2)
	assert.Len(t, h.gen.started, 6)
	h.gen.mu.Unlock()
	for _, id := range ids {
		assert.Equal(t, types.StageReadyForReview, h.stage(t, id))
	}
}

func TestClose_LeavesQueuedApplicationsForResume(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.GenerationPoolSize = 1 })
	h.gen.delay = time.Second
	ctx := context.Background()

	var ids []int64
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		_, err := h.e.Discover(ctx, []types.JobPosting{testPosting(id)})
		require.NoError(t, err)
		out, err := h.e.ScorePosting(ctx, id)
		require.NoError(t, err)
		require.True(t, out.Matched)
		ids = append(ids, out.ApplicationID)
	}

	start := time.Now()
	h.e.Close()
	assert.Less(t, time.Since(start), h.gen.delay/2)

	queued := 0
	for _, id := range ids {
		if h.stage(t, id) == types.StageQueuedForGeneration {
			queued++
		}
	}
	assert.GreaterOrEqual(t, queued, 3)
}

func TestAutoApproval(t *testing.T) {
	tests := []struct {
		name       string
		confidence int
		want       types.Stage
	}{
		{name: "below threshold stays in review", confidence: 94, want: types.StageReadyForReview},
		{name: "at threshold is approved", confidence: 95, want: types.StageSubmitted},
		{name: "above threshold is approved", confidence: 96, want: types.StageSubmitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.setProfile(t, func(p *types.CandidateProfile) { p.AutoApproveThreshold = 95 })
			h.gen.setConfidence(tt.confidence)
			ids := h.matched(t, "p1")

			app, err := h.e.Get(context.Background(), ids[0])
			require.NoError(t, err)
			assert.Equal(t, tt.want, app.Stage())
			if tt.want == types.StageSubmitted {
				assert.True(t, app.HasEvent(types.EventAutoApproved))
				require.NotNil(t, app.Receipt)
			}
			assertTimelineConsistent(t, app)
		})
	}
}

func TestAutoApproval_RespectsCap(t *testing.T) {
	h := newHarness(t, nil)
	h.setProfile(t, func(p *types.CandidateProfile) {
		p.AutoApproveThreshold = 90
		p.DailyApplicationCap = 1
	})
	h.gen.setConfidence(99)
	ids := h.matched(t, "p1")
	require.Equal(t, types.StageSubmitted, h.stage(t, ids[0]))

	more := h.matched(t, "p2")
	assert.Equal(t, types.StageReadyForReview, h.stage(t, more[0]))
}

func TestAutoApproval_ConcurrentGenerationsShareLastSlot(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.GenerationPoolSize = 4 })
	h.setProfile(t, func(p *types.CandidateProfile) {
		p.AutoApproveThreshold = 90
		p.DailyApplicationCap = 1
	})
	h.gen.setConfidence(99)
	h.gen.delay = 20 * time.Millisecond
	ids := h.matched(t, "p1", "p2", "p3", "p4")

	stages := map[types.Stage]int{}
	for _, id := range ids {
		app, err := h.e.Get(context.Background(), id)
		require.NoError(t, err)
		stages[app.Stage()]++
		if app.HasEvent(types.EventAutoApproved) {
			assert.Equal(t, types.StageSubmitted, app.Stage())
		}
	}
	assert.Equal(t, 1, stages[types.StageSubmitted])
	assert.Equal(t, 3, stages[types.StageReadyForReview])
	assert.Zero(t, stages[types.StageApproved])
	assert.Equal(t, 1, h.sub.callCount())
}

func TestReview_SecondApprovalConflicts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := h.matched(t, "p1")

	res, err := h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[0], Decision: types.DecisionApprove, Actor: "ada"})
	require.NoError(t, err)
	assert.False(t, res.CapReached)

	_, err = h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[0], Decision: types.DecisionApprove, Actor: "ada"})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ids[0], conflict.ApplicationID)

	h.e.Wait()
	assert.Equal(t, 1, h.sub.callCount())
	assert.Equal(t, types.StageSubmitted, h.stage(t, ids[0]))
}

func TestReview_ConcurrentApprovalsSubmitOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := h.matched(t, "p1")

	var applied, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[0], Decision: types.DecisionApprove})
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	h.e.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int32(9), conflicts.Load())
	assert.Equal(t, 1, h.sub.callCount())
}

func TestReview_RejectAndEdit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := h.matched(t, "p1", "p2")

	res, err := h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[0], Decision: types.DecisionEdit, CVText: "hand-tuned cv"})
	require.NoError(t, err)
	assert.Equal(t, types.StageReadyForReview, res.Application.Stage())
	assert.Equal(t, "hand-tuned cv", res.Application.CVText)
	assert.Contains(t, res.Application.CoverLetterText, "cover_letter")

	_, err = h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[0], Decision: types.DecisionEdit})
	assert.ErrorIs(t, err, ErrInvalid)

	res, err = h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[1], Decision: types.DecisionReject})
	require.NoError(t, err)
	assert.Equal(t, types.StageRejected, res.Application.Stage())

	_, err = h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[1], Decision: types.DecisionApprove})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[0], Decision: "maybe"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = h.e.Review(ctx, types.ReviewDecision{ApplicationID: 999, Decision: types.DecisionApprove})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReviewBatch_PartialSuccess(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := h.matched(t, "p1", "p2", "p3")

	_, err := h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[1], Decision: types.DecisionReject})
	require.NoError(t, err)

	var items []types.BatchItem
	for _, id := range ids {
		items = append(items, types.BatchItem{ApplicationID: id, Decision: types.DecisionApprove})
	}
	items = append(items, types.BatchItem{ApplicationID: 404, Decision: types.DecisionApprove})

	results := h.e.ReviewBatch(ctx, items, "ada")
	require.Len(t, results, 4)
	assert.Equal(t, types.BatchApplied, results[0].Outcome)
	assert.Equal(t, types.BatchConflict, results[1].Outcome)
	assert.Equal(t, types.StageRejected, results[1].Stage)
	assert.Equal(t, types.BatchApplied, results[2].Outcome)
	assert.Equal(t, types.BatchNotFound, results[3].Outcome)

	h.e.Wait()
	assert.Equal(t, types.StageSubmitted, h.stage(t, ids[0]))
	assert.Equal(t, types.StageRejected, h.stage(t, ids[1]))
	assert.Equal(t, types.StageSubmitted, h.stage(t, ids[2]))
}

func TestDailyCap(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := h.matched(t, "p1", "p2", "p3", "p4", "p5", "p6")

	for _, id := range ids[:5] {
		res, err := h.e.Review(ctx, types.ReviewDecision{ApplicationID: id, Decision: types.DecisionApprove})
		require.NoError(t, err)
		assert.False(t, res.CapReached)
	}
	h.e.Wait()
	for _, id := range ids[:5] {
		require.Equal(t, types.StageSubmitted, h.stage(t, id))
	}

	res, err := h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[5], Decision: types.DecisionApprove})
	require.NoError(t, err)
	assert.True(t, res.CapReached)
	assert.Equal(t, types.StageApproved, h.stage(t, ids[5]))

	_, err = h.e.RetrySubmission(ctx, ids[5], "ada")
	assert.ErrorIs(t, err, ErrCapReached)
	assert.Equal(t, types.StageApproved, h.stage(t, ids[5]))

	h.clock.Advance(24 * time.Hour)
	_, err = h.e.RetrySubmission(ctx, ids[5], "ada")
	require.NoError(t, err)
	h.e.Wait()
	assert.Equal(t, types.StageSubmitted, h.stage(t, ids[5]))
}

func TestDailyCap_LoadedFromStore(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := h.matched(t, "p1", "p2", "p3", "p4", "p5", "p6")
	for _, id := range ids[:5] {
		_, err := h.e.Review(ctx, types.ReviewDecision{ApplicationID: id, Decision: types.DecisionApprove})
		require.NoError(t, err)
	}
	h.e.Wait()

	// a fresh engine over the same store sees today's submissions
	restarted := New(h.st, h.scorer, h.gen, h.sub, Options{Now: h.clock.Now, Logger: h.e.opts.Logger})
	t.Cleanup(restarted.Close)
	res, err := restarted.Review(ctx, types.ReviewDecision{ApplicationID: ids[5], Decision: types.DecisionApprove})
	require.NoError(t, err)
	assert.True(t, res.CapReached)
}

func TestSubmission_TransientFailuresExhaustBudget(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.SubmitMaxAttempts = 3 })
	ctx := context.Background()
	h.sub.always = fmt.Errorf("%w: status 503", submission.ErrTransient)
	ids := h.matched(t, "p1")

	_, err := h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[0], Decision: types.DecisionApprove})
	require.NoError(t, err)
	h.e.Wait()

	app, err := h.e.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.StageSubmitFailed, app.Stage())
	assert.True(t, app.NeedsAttention)
	assert.Equal(t, 3, app.SubmitAttempts)
	assert.Equal(t, 3, h.sub.callCount())

	h.sub.mu.Lock()
	h.sub.always = nil
	h.sub.mu.Unlock()
	_, err = h.e.RetrySubmission(ctx, ids[0], "ada")
	require.NoError(t, err)
	h.e.Wait()

	app, err = h.e.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.StageSubmitted, app.Stage())
	assert.False(t, app.NeedsAttention)
	assert.True(t, app.HasEvent(types.EventSubmitRetry))
	assertTimelineConsistent(t, app)
}

func TestSubmission_PermanentFailureNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.sub.errs = []error{errors.New("status 400: bad request")}
	ids := h.matched(t, "p1")

	_, err := h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[0], Decision: types.DecisionApprove})
	require.NoError(t, err)
	h.e.Wait()

	assert.Equal(t, types.StageSubmitFailed, h.stage(t, ids[0]))
	assert.Equal(t, 1, h.sub.callCount())
}

func TestSubmission_FailureReleasesCap(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.setProfile(t, func(p *types.CandidateProfile) {
		p.AutoApproveThreshold = 0
		p.DailyApplicationCap = 1
	})
	h.sub.errs = []error{errors.New("rejected by form")}
	ids := h.matched(t, "p1", "p2")

	_, err := h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[0], Decision: types.DecisionApprove})
	require.NoError(t, err)
	h.e.Wait()
	require.Equal(t, types.StageSubmitFailed, h.stage(t, ids[0]))

	res, err := h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[1], Decision: types.DecisionApprove})
	require.NoError(t, err)
	assert.False(t, res.CapReached)
	h.e.Wait()
	assert.Equal(t, types.StageSubmitted, h.stage(t, ids[1]))
}

func submitted(t *testing.T, h *harness, postingID string) int64 {
	t.Helper()
	ids := h.matched(t, postingID)
	_, err := h.e.Review(context.Background(), types.ReviewDecision{ApplicationID: ids[0], Decision: types.DecisionApprove})
	require.NoError(t, err)
	h.e.Wait()
	require.Equal(t, types.StageSubmitted, h.stage(t, ids[0]))
	return ids[0]
}

func TestRecordOutcome(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []types.OutcomeKind
		want     types.Stage
		wantErr  error
	}{
		{name: "viewed keeps submitted", outcomes: []types.OutcomeKind{types.OutcomeViewed}, want: types.StageSubmitted},
		{name: "responded", outcomes: []types.OutcomeKind{types.OutcomeResponded}, want: types.StageResponded},
		{name: "interview after response", outcomes: []types.OutcomeKind{types.OutcomeResponded, types.OutcomeInterviewScheduled}, want: types.StageInterviewScheduled},
		{name: "interview without response", outcomes: []types.OutcomeKind{types.OutcomeInterviewScheduled}, want: types.StageInterviewScheduled},
		{name: "rejected by employer", outcomes: []types.OutcomeKind{types.OutcomeViewed, types.OutcomeRejected}, want: types.StageRejected},
		{name: "viewed after response conflicts", outcomes: []types.OutcomeKind{types.OutcomeResponded, types.OutcomeViewed}, want: types.StageResponded, wantErr: ErrConflict},
		{name: "nothing after interview", outcomes: []types.OutcomeKind{types.OutcomeInterviewScheduled, types.OutcomeRejected}, want: types.StageInterviewScheduled, wantErr: ErrConflict},
		{name: "unknown kind", outcomes: []types.OutcomeKind{"ghosted"}, want: types.StageSubmitted, wantErr: ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			id := submitted(t, h, "p1")

			var err error
			for _, kind := range tt.outcomes {
				h.clock.Advance(time.Hour)
				_, err = h.e.RecordOutcome(context.Background(), id, kind, h.clock.Now(), "")
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, h.stage(t, id))
		})
	}
}

func TestRecordOutcome_BeforeSubmissionConflicts(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.matched(t, "p1")
	_, err := h.e.RecordOutcome(context.Background(), ids[0], types.OutcomeResponded, time.Time{}, "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTimeline_OutOfOrderEventIsClamped(t *testing.T) {
	h := newHarness(t, nil)
	id := submitted(t, h, "p1")
	early := h.clock.Now().Add(-48 * time.Hour)

	app, err := h.e.RecordOutcome(context.Background(), id, types.OutcomeResponded, early, "reply from recruiter")
	require.NoError(t, err)
	assertTimelineConsistent(t, app)

	last, _ := app.LastEvent()
	assert.Equal(t, types.EventResponded, last.Kind)
	assert.Equal(t, app.Timeline[len(app.Timeline)-2].At, last.At)
	assert.Contains(t, last.Detail, "reported at "+early.Format(time.RFC3339))
}

func TestSweepStale(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.StaleAfter = 14 * 24 * time.Hour })
	ctx := context.Background()
	stale := submitted(t, h, "p1")
	h.clock.Advance(10 * 24 * time.Hour)
	fresh := submitted(t, h, "p2")

	h.clock.Advance(5 * 24 * time.Hour)
	n, err := h.e.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.StageNoResponse, h.stage(t, stale))
	assert.Equal(t, types.StageSubmitted, h.stage(t, fresh))

	n, err = h.e.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// a late reply still lands
	_, err = h.e.RecordOutcome(ctx, stale, types.OutcomeResponded, time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, types.StageResponded, h.stage(t, stale))
}

func TestArchive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := h.matched(t, "p1")

	app, err := h.e.Archive(ctx, ids[0], "ada")
	require.NoError(t, err)
	assert.Equal(t, types.StageArchived, app.Stage())

	posting, err := h.st.GetPosting(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PostingArchived, posting.Stage)

	_, err = h.e.Archive(ctx, ids[0], "ada")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAddNote(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ids := h.matched(t, "p1")

	_, err := h.e.AddNote(ctx, ids[0], "recruiter is Sam")
	require.NoError(t, err)
	app, err := h.e.AddNote(ctx, ids[0], "  follow up friday ")
	require.NoError(t, err)
	assert.Equal(t, "recruiter is Sam\nfollow up friday", app.Notes)
	assert.Equal(t, types.StageReadyForReview, app.Stage())

	_, err = h.e.AddNote(ctx, ids[0], "   ")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestResume(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := h.clock.Now()

	seed := func(postingID string, kinds ...types.EventKind) int64 {
		p := testPosting(postingID)
		p.Stage = types.PostingMatched
		require.NoError(t, h.st.CreatePosting(ctx, &p))
		app := &types.Application{CandidateID: "default", PostingID: postingID, MatchScore: 80, CreatedAt: now}
		for _, k := range kinds {
			app.Timeline = append(app.Timeline, types.TimelineEvent{At: now, Kind: k})
		}
		require.NoError(t, h.st.CreateApplication(ctx, app))
		return app.ID
	}
	queued := seed("q", types.EventQueued)
	generating := seed("g", types.EventQueued, types.EventGenerating)
	submitting := seed("s", types.EventQueued, types.EventGenerating, types.EventReady, types.EventApproved, types.EventSubmitting)

	report, err := h.e.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)
	assert.Equal(t, 2, report.Interrupted)
	h.e.Wait()

	assert.Equal(t, types.StageReadyForReview, h.stage(t, queued))
	assert.Equal(t, types.StageGenerationFailed, h.stage(t, generating))
	assert.Equal(t, types.StageSubmitFailed, h.stage(t, submitting))
	assert.Equal(t, 0, h.sub.callCount())
}

func TestQueries(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.scorer.set("a", 75)
	h.scorer.set("b", 92)
	h.scorer.set("c", 81)
	ids := h.matched(t, "a", "b", "c")
	h.scorer.set("low", 10)
	_, err := h.e.Discover(ctx, []types.JobPosting{testPosting("low")})
	require.NoError(t, err)
	_, err = h.e.ScorePosting(ctx, "low")
	require.NoError(t, err)

	top, err := h.e.TopMatches(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Posting.ID)
	assert.Equal(t, "c", top[1].Posting.ID)

	queue, err := h.e.ReviewQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, queue, 3)

	_, err = h.e.Review(ctx, types.ReviewDecision{ApplicationID: ids[1], Decision: types.DecisionApprove})
	require.NoError(t, err)
	h.e.Wait()
	_, err = h.e.RecordOutcome(ctx, ids[1], types.OutcomeInterviewScheduled, time.Time{}, "")
	require.NoError(t, err)

	stats, err := h.e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.PostingsDiscovered)
	assert.Equal(t, 3, stats.PostingsMatched)
	assert.Equal(t, 1, stats.PostingsRejected)
	assert.Equal(t, 2, stats.ByStage[types.StageReadyForReview])
	assert.Equal(t, 1, stats.ByStage[types.StageInterviewScheduled])
	assert.Equal(t, 1, stats.Submitted)
	assert.Equal(t, 1, stats.SubmittedToday)
	assert.Equal(t, 1, stats.Interviews)
	assert.InDelta(t, 100.0, stats.ResponseRate, 0.001)
	assert.InDelta(t, float64(75+92+81)/3, stats.AverageMatchScore, 0.001)
}

func TestProfile(t *testing.T) {
	st := store.NewMemory()
	e := New(st, &fakeScorer{}, &fakeGenerator{}, &fakeSubmitter{}, Options{
		CandidateID:       "ada",
		MinMatchThreshold: 60,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer e.Close()
	ctx := context.Background()

	p, err := e.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ada", p.ID)
	assert.Equal(t, 60, p.MinMatchThreshold)
	assert.Equal(t, 95, p.AutoApproveThreshold)
	assert.Equal(t, 5, p.DailyApplicationCap)

	p.Skills = []string{" Go ", "go", "SQL", ""}
	p.ID = "someone-else"
	updated, err := e.UpdateProfile(ctx, *p)
	require.NoError(t, err)
	assert.Equal(t, "ada", updated.ID)
	assert.Equal(t, []string{"Go", "SQL"}, updated.Skills)

	p.DailyApplicationCap = 0
	_, err = e.UpdateProfile(ctx, *p)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, nil)
	events, cancel := h.e.Subscribe(32)
	defer cancel()

	h.matched(t, "p1")

	var kinds []types.EventKind
	for len(kinds) < 3 {
		select {
		case tr := <-events:
			kinds = append(kinds, tr.Event)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", kinds)
		}
	}
	assert.Equal(t, []types.EventKind{types.EventQueued, types.EventGenerating, types.EventReady}, kinds)

	cancel()
	_, open := <-events
	assert.False(t, open)
}
