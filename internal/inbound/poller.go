package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/jobhunter/internal/pipeline"
	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/types"
)

// Engine is the part of the pipeline the poller reads and writes.
type Engine interface {
	List(ctx context.Context, filter store.ApplicationFilter) ([]types.Application, error)
	Posting(ctx context.Context, id string) (*types.JobPosting, error)
	RecordOutcome(ctx context.Context, id int64, kind types.OutcomeKind, at time.Time, detail string) (*types.Application, error)
}

// PollReport summarizes one poll.
type PollReport struct {
	Fetched   int `json:"fetched"`
	Matched   int `json:"matched"`
	Recorded  int `json:"recorded"`
	Unrelated int `json:"unrelated"`
	Conflicts int `json:"conflicts"`
}

// Poller matches recent mail to submitted applications and records outcomes.
type Poller struct {
	engine     Engine
	mailbox    Mailbox
	classifier Classifier
	logger     *slog.Logger

	Query       string
	MaxMessages int64

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewPoller creates a Poller. A nil classifier uses KeywordClassifier.
func NewPoller(engine Engine, mailbox Mailbox, classifier Classifier, logger *slog.Logger) *Poller {
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		engine:      engine,
		mailbox:     mailbox,
		classifier:  classifier,
		logger:      logger.With("component", "inbound"),
		Query:       DefaultQuery,
		MaxMessages: 50,
		seen:        make(map[string]struct{}),
	}
}

var awaiting = []types.Stage{types.StageSubmitted, types.StageNoResponse, types.StageResponded}

type tracked struct {
	company string
	app     types.Application
}

// Poll processes new messages once. Messages already handled are skipped; a
// message whose outcome could not be stored is retried on the next poll.
func (p *Poller) Poll(ctx context.Context) (PollReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var report PollReport
	candidates, err := p.tracked(ctx)
	if err != nil {
		return report, err
	}
	if len(candidates) == 0 {
		return report, nil
	}

	emails, err := p.mailbox.Recent(ctx, p.Query, p.MaxMessages)
	if err != nil {
		return report, err
	}
	// Oldest first so outcomes land on timelines in arrival order.
	sort.SliceStable(emails, func(i, j int) bool { return emails[i].Received.Before(emails[j].Received) })

	for _, email := range emails {
		if _, ok := p.seen[email.ID]; ok {
			continue
		}
		report.Fetched++

		target, ok := match(candidates, email)
		if !ok {
			p.seen[email.ID] = struct{}{}
			report.Unrelated++
			continue
		}
		report.Matched++

		verdict, err := p.classifier.Classify(ctx, target.company, email)
		if err != nil {
			p.logger.Warn("classification failed", "message_id", email.ID, "error", err)
			continue
		}
		if !verdict.Related {
			p.seen[email.ID] = struct{}{}
			report.Unrelated++
			continue
		}

		detail := fmt.Sprintf("email %q from %s", email.Subject, email.From)
		_, err = p.engine.RecordOutcome(ctx, target.app.ID, verdict.Kind, email.Received, detail)
		switch {
		case err == nil:
			report.Recorded++
			p.logger.Info("outcome recorded", "application_id", target.app.ID, "outcome", verdict.Kind, "reason", verdict.Reason)
		case errors.Is(err, pipeline.ErrConflict), errors.Is(err, pipeline.ErrInvalid):
			report.Conflicts++
			p.logger.Debug("outcome not applicable", "application_id", target.app.ID, "outcome", verdict.Kind, "error", err)
		default:
			return report, err
		}
		p.seen[email.ID] = struct{}{}
	}
	return report, nil
}

// Run polls every interval until ctx is done.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if report, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("inbound poll failed", "error", err)
		} else if report.Fetched > 0 {
			p.logger.Info("inbound poll", "fetched", report.Fetched, "recorded", report.Recorded)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) tracked(ctx context.Context) ([]tracked, error) {
	apps, err := p.engine.List(ctx, store.ApplicationFilter{Stages: awaiting})
	if err != nil {
		return nil, err
	}
	out := make([]tracked, 0, len(apps))
	for _, app := range apps {
		posting, err := p.engine.Posting(ctx, app.PostingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		company := strings.ToLower(strings.TrimSpace(posting.Company))
		if company == "" {
			continue
		}
		out = append(out, tracked{company: company, app: app})
	}
	return out, nil
}

// match picks the application whose company appears in the sender or subject.
// With several applications at one company the most recently updated wins.
func match(candidates []tracked, email Email) (tracked, bool) {
	from := strings.ToLower(email.From)
	subject := strings.ToLower(email.Subject)
	var best tracked
	found := false
	for _, c := range candidates {
		squashed := strings.ReplaceAll(c.company, " ", "")
		if !strings.Contains(from, c.company) && !strings.Contains(from, squashed) && !strings.Contains(subject, c.company) {
			continue
		}
		if !found || c.app.UpdatedAt.After(best.app.UpdatedAt) {
			best, found = c, true
		}
	}
	return best, found
}
