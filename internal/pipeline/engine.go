// Package pipeline implements the application pipeline engine: scoring discovered
// postings, generating drafts, gating them on review, submitting, and tracking outcomes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/jonathan/jobhunter/internal/generation"
	"github.com/jonathan/jobhunter/internal/scoring"
	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/submission"
	"github.com/jonathan/jobhunter/internal/types"
)

// Actors recorded on timeline events written by the engine itself.
const (
	ActorEngine  = "engine"
	ActorSweeper = "sweeper"
	ActorPolicy  = "auto-approve"
)

// Options configures an Engine. Zero values take the defaults noted per field.
type Options struct {
	CandidateID        string        // default "default"
	MinMatchThreshold  int           // seeds a new profile; default 70
	GenerationPoolSize int           // concurrent generations; default 5
	GenerationRetries  int           // extra attempts per document; default 2
	ScoringRetries     int           // attempts per scoring call; default 3
	ScoringMaxCycles   int           // failed cycles before a posting is flagged; default 3
	SubmitMaxAttempts  int           // attempts per submission; default 3
	BackoffBase        time.Duration // default 500ms
	StaleAfter         time.Duration // Submitted -> NoResponse; default 14 days
	Now                func() time.Time
	Logger             *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.CandidateID == "" {
		o.CandidateID = "default"
	}
	if o.MinMatchThreshold == 0 {
		o.MinMatchThreshold = 70
	}
	if o.GenerationPoolSize <= 0 {
		o.GenerationPoolSize = 5
	}
	if o.GenerationRetries < 0 {
		o.GenerationRetries = 0
	} else if o.GenerationRetries == 0 {
		o.GenerationRetries = 2
	}
	if o.ScoringRetries <= 0 {
		o.ScoringRetries = 3
	}
	if o.ScoringMaxCycles <= 0 {
		o.ScoringMaxCycles = 3
	}
	if o.SubmitMaxAttempts <= 0 {
		o.SubmitMaxAttempts = 3
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 14 * 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Transition is published to subscribers after every committed stage change.
type Transition struct {
	ApplicationID int64           `json:"application_id"`
	PostingID     string          `json:"posting_id"`
	From          types.Stage     `json:"from"`
	To            types.Stage     `json:"to"`
	Event         types.EventKind `json:"event"`
	Actor         string          `json:"actor,omitempty"`
	At            time.Time       `json:"at"`
}

// Engine owns every Application. Callers mutate applications only through its methods.
type Engine struct {
	store     store.Store
	scorer    scoring.Scorer
	generator generation.Generator
	submitter submission.Submitter
	opts      Options
	logger    *slog.Logger

	locks       *keyedMutex[int64]
	scoreFlight singleflight.Group

	genSem   *semaphore.Weighted
	queueMu  sync.Mutex
	queue    []int64
	queueSig chan struct{}

	capMu     sync.Mutex
	capDay    string
	capCount  int
	capLoaded bool

	subMu  sync.Mutex
	subs   map[int]chan Transition
	nextID int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Engine and starts its generation dispatcher. Call Close to stop it.
func New(st store.Store, scorer scoring.Scorer, generator generation.Generator, submitter submission.Submitter, opts Options) *Engine {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:     st,
		scorer:    scorer,
		generator: generator,
		submitter: submitter,
		opts:      opts,
		logger:    opts.Logger.With("component", "pipeline"),
		locks:     newKeyedMutex[int64](),
		genSem:    semaphore.NewWeighted(int64(opts.GenerationPoolSize)),
		queueSig:  make(chan struct{}, 1),
		subs:      make(map[int]chan Transition),
		ctx:       ctx,
		cancel:    cancel,
	}
	go e.dispatch()
	return e
}

// CandidateID returns the candidate this engine works for.
func (e *Engine) CandidateID() string {
	return e.opts.CandidateID
}

// Wait blocks until queued generations and in-flight submissions have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close stops background work and waits for it to unwind. Applications left queued
// stay queued and are picked up by Resume on the next start.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
	e.subMu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subMu.Unlock()
}

// Subscribe returns a channel of committed transitions and a function that ends the
// subscription. Slow subscribers miss events rather than stall the engine.
func (e *Engine) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Transition, buffer)
	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			if _, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(ch)
			}
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) publish(transitions []Transition) {
	if len(transitions) == 0 {
		return
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, t := range transitions {
		for _, ch := range e.subs {
			select {
			case ch <- t:
			default:
			}
		}
	}
}

// txn is one serialized mutation of an application.
type txn struct {
	e           *Engine
	app         *types.Application
	op          string
	transitions []Transition
}

// append adds a timeline event if the current stage allows it. Timestamps that would
// go backwards are clamped to the previous event's time so the timeline stays monotonic.
func (t *txn) append(kind types.EventKind, actor, detail string, at time.Time) error {
	from := t.app.Stage()
	if !from.CanAppend(kind) {
		return &ConflictError{ApplicationID: t.app.ID, Stage: from, Op: t.op}
	}
	if at.IsZero() {
		at = t.e.opts.Now()
	}
	if last, ok := t.app.LastEvent(); ok && at.Before(last.At) {
		if detail != "" {
			detail += "; "
		}
		detail += "reported at " + at.Format(time.RFC3339)
		at = last.At
	}
	t.app.Timeline = append(t.app.Timeline, types.TimelineEvent{At: at, Kind: kind, Actor: actor, Detail: detail})
	t.app.UpdatedAt = at

	to, _ := types.StageOf(kind)
	t.transitions = append(t.transitions, Transition{
		ApplicationID: t.app.ID,
		PostingID:     t.app.PostingID,
		From:          from,
		To:            to,
		Event:         kind,
		Actor:         actor,
		At:            at,
	})
	return nil
}

// mutate runs fn against the application under its per-id lock and persists the
// result. The lock covers only load, fn and save; fn must not call collaborators.
func (e *Engine) mutate(ctx context.Context, id int64, op string, fn func(t *txn) error) (*types.Application, error) {
	unlock := e.locks.Lock(id)
	app, transitions, err := e.mutateLocked(ctx, id, op, fn)
	unlock()
	if err != nil {
		return nil, err
	}

	for _, tr := range transitions {
		e.logger.Info("application transition",
			"application_id", tr.ApplicationID,
			"from", tr.From,
			"to", tr.To,
			"event", tr.Event,
			"actor", tr.Actor,
		)
	}
	e.publish(transitions)
	return app, nil
}

func (e *Engine) mutateLocked(ctx context.Context, id int64, op string, fn func(t *txn) error) (*types.Application, []Transition, error) {
	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%s application %d: %w", op, id, err)
	}
	t := &txn{e: e, app: app, op: op}
	if err := fn(t); err != nil {
		return nil, nil, err
	}
	if err := e.store.SaveApplication(ctx, app); err != nil {
		return nil, nil, fmt.Errorf("%s application %d: %w", op, id, err)
	}
	return app.Clone(), t.transitions, nil
}

// invariant logs a broken invariant loudly and returns it as an error.
func (e *Engine) invariant(op, detail string, cause error) error {
	err := &InvariantError{Op: op, Detail: detail, Cause: cause}
	e.logger.Error("invariant violated", "op", op, "detail", detail, "error", cause)
	return err
}

// goBackground runs fn on a goroutine tracked by Wait and Close.
func (e *Engine) goBackground(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}
