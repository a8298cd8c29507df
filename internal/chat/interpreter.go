package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/jobhunter/internal/discovery"
	"github.com/jonathan/jobhunter/internal/pipeline"
	"github.com/jonathan/jobhunter/internal/types"
)

// Engine is the part of the pipeline the interpreter drives.
type Engine interface {
	Review(ctx context.Context, d types.ReviewDecision) (*pipeline.ReviewResult, error)
	RetryGeneration(ctx context.Context, id int64, actor string) (*types.Application, error)
	Get(ctx context.Context, id int64) (*types.Application, error)
	Posting(ctx context.Context, id string) (*types.JobPosting, error)
	ReviewQueue(ctx context.Context) ([]types.Application, error)
	TopMatches(ctx context.Context, limit int) ([]pipeline.Match, error)
	Stats(ctx context.Context) (*types.Stats, error)
	Profile(ctx context.Context) (*types.CandidateProfile, error)
}

// Discoverer runs one discovery and scoring cycle.
type Discoverer interface {
	Run(ctx context.Context) (*discovery.Report, error)
}

// Session identifies the chat conversation a message came from.
type Session struct {
	ID    string
	Actor string
}

// Options configures id handling.
type Options struct {
	// StrictIDs makes approve/reject/generate without an id ask for one instead of
	// falling back to DefaultID.
	StrictIDs bool
	DefaultID int64 // default 1
	// TopN bounds listings in replies; default 3.
	TopN int
}

// Interpreter turns chat messages into engine calls. It keeps no pipeline state.
type Interpreter struct {
	engine     Engine
	discoverer Discoverer
	limiter    Limiter
	opts       Options
	logger     *slog.Logger
}

// NewInterpreter creates an Interpreter. discoverer and limiter may be nil.
func NewInterpreter(engine Engine, discoverer Discoverer, limiter Limiter, opts Options, logger *slog.Logger) *Interpreter {
	if opts.DefaultID <= 0 {
		opts.DefaultID = 1
	}
	if opts.TopN <= 0 {
		opts.TopN = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		engine:     engine,
		discoverer: discoverer,
		limiter:    limiter,
		opts:       opts,
		logger:     logger.With("component", "chat"),
	}
}

// Handle executes one message and returns the reply. It always returns a non-empty
// reply, even if a handler panics.
func (in *Interpreter) Handle(ctx context.Context, s Session, text string) (reply string) {
	var cmd Command
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("chat handler panicked", "session", s.ID, "command", cmd.Kind, "panic", r)
			reply = fallback(strings.ToValidUTF8(text, ""))
		}
	}()
	cmd = Parse(text)

	if in.limiter != nil && !in.limiter.Allow(ctx, s.ID) {
		return replyRateLimited
	}
	if s.Actor == "" {
		s.Actor = "chat"
	}

	in.logger.Debug("chat command", "session", s.ID, "command", cmd.Kind, "id", cmd.ID)
	switch cmd.Kind {
	case CmdHelp:
		return replyHelp
	case CmdThanks:
		return replyThanks
	case CmdFindJobs:
		return in.findJobs(ctx)
	case CmdReview:
		return in.review(ctx)
	case CmdStats:
		return in.stats(ctx)
	case CmdProfile:
		return in.profile(ctx)
	case CmdGenerate, CmdApprove, CmdReject:
		if cmd.HasID && cmd.ID <= 0 {
			return fmt.Sprintf("No application #%s. Type /review to see the queue.", cmd.IDRef)
		}
		id, ok := in.resolveID(cmd)
		if !ok {
			return fmt.Sprintf("Which application? Try /%s <id>, for example /%s 2.", cmd.Kind, cmd.Kind)
		}
		switch cmd.Kind {
		case CmdGenerate:
			return in.generate(ctx, s, id)
		case CmdApprove:
			return in.decide(ctx, s, id, types.DecisionApprove)
		default:
			return in.decide(ctx, s, id, types.DecisionReject)
		}
	default:
		return fallback(cmd.Raw)
	}
}

func (in *Interpreter) resolveID(cmd Command) (int64, bool) {
	if cmd.HasID {
		return cmd.ID, true
	}
	if in.opts.StrictIDs {
		return 0, false
	}
	return in.opts.DefaultID, true
}

func (in *Interpreter) findJobs(ctx context.Context) string {
	var b strings.Builder
	if in.discoverer == nil {
		b.WriteString("Discovery is not configured, showing current matches.\n")
	} else {
		report, err := in.discoverer.Run(ctx)
		if err != nil {
			in.logger.Error("discovery from chat failed", "error", err)
			return "Job search failed: " + err.Error()
		}
		fmt.Fprintf(&b, "Found %d new job(s), %d matched your profile.\n", report.Discovered, report.Matched)
	}

	matches, err := in.engine.TopMatches(ctx, in.opts.TopN)
	if err != nil {
		return in.failure("find jobs", err)
	}
	if len(matches) == 0 {
		b.WriteString("No matching jobs yet.")
		return b.String()
	}
	b.WriteString("Top matches:\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "\n#%d %s - %s\n", m.Application.ID, m.Posting.Title, m.Posting.Company)
		if m.Posting.Salary != nil {
			fmt.Fprintf(&b, "   %s | ", formatSalary(*m.Posting.Salary))
		} else {
			b.WriteString("   ")
		}
		fmt.Fprintf(&b, "%s | match %d%% | %s\n", locationOf(m.Posting), m.Application.MatchScore, humanStage(m.Application.Stage()))
	}
	b.WriteString("\nType /review to see drafts ready for review.")
	return b.String()
}

func (in *Interpreter) review(ctx context.Context) string {
	queue, err := in.engine.ReviewQueue(ctx)
	if err != nil {
		return in.failure("review", err)
	}
	if len(queue) == 0 {
		return "Review queue is empty."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Review queue: %d application(s) ready\n", len(queue))
	for _, app := range queue {
		title := app.PostingID
		if p, err := in.engine.Posting(ctx, app.PostingID); err == nil {
			title = p.Title + " - " + p.Company
		}
		fmt.Fprintf(&b, "\n#%d %s\n", app.ID, title)
		if app.GenerationConfidence != nil {
			fmt.Fprintf(&b, "   confidence %d%% | match %d%%", *app.GenerationConfidence, app.MatchScore)
		} else {
			fmt.Fprintf(&b, "   match %d%%", app.MatchScore)
		}
		if app.NeedsAttention {
			b.WriteString(" | needs attention")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReply /approve <id> or /reject <id>.")
	return b.String()
}

func (in *Interpreter) stats(ctx context.Context) string {
	st, err := in.engine.Stats(ctx)
	if err != nil {
		return in.failure("stats", err)
	}
	var b strings.Builder
	b.WriteString("Your job hunt stats\n\n")
	fmt.Fprintf(&b, "Jobs found: %d (%d matched, %d pending)\n", st.PostingsDiscovered, st.PostingsMatched, st.PostingsPending)
	fmt.Fprintf(&b, "Awaiting review: %d\n", st.ByStage[types.StageReadyForReview])
	fmt.Fprintf(&b, "Applications sent: %d (%d today)\n", st.Submitted, st.SubmittedToday)
	fmt.Fprintf(&b, "Responses: %d\n", st.Responses)
	fmt.Fprintf(&b, "Interviews: %d\n", st.Interviews)
	fmt.Fprintf(&b, "Response rate: %.1f%%\n", st.ResponseRate)
	if st.NeedsAttention > 0 {
		fmt.Fprintf(&b, "Needs attention: %d\n", st.NeedsAttention)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (in *Interpreter) profile(ctx context.Context) string {
	p, err := in.engine.Profile(ctx)
	if err != nil {
		return in.failure("profile", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Profile: %s\n", p.Name)
	if len(p.Locations) > 0 {
		fmt.Fprintf(&b, "Locations: %s\n", strings.Join(p.Locations, ", "))
	}
	if p.RemoteOnly {
		b.WriteString("Remote only\n")
	}
	if p.Salary.Min > 0 || p.Salary.Max > 0 {
		fmt.Fprintf(&b, "Salary: %s\n", formatSalary(p.Salary))
	}
	if len(p.Skills) > 0 {
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(p.Skills, ", "))
	}
	if p.Email != "" {
		fmt.Fprintf(&b, "Contact: %s\n", p.Email)
	}
	fmt.Fprintf(&b, "Match threshold: %d%%\n", p.MinMatchThreshold)
	if p.AutoApproveThreshold > 0 {
		fmt.Fprintf(&b, "Auto-approve at: %d%% confidence\n", p.AutoApproveThreshold)
	} else {
		b.WriteString("Auto-approve: off\n")
	}
	fmt.Fprintf(&b, "Daily cap: %d", p.DailyApplicationCap)
	return b.String()
}

func (in *Interpreter) generate(ctx context.Context, s Session, id int64) string {
	app, err := in.engine.Get(ctx, id)
	if err != nil {
		return in.failureFor(id, "generate", err)
	}
	switch stage := app.Stage(); stage {
	case types.StageGenerationFailed:
		if _, err := in.engine.RetryGeneration(ctx, id, s.Actor); err != nil {
			return in.failureFor(id, "generate", err)
		}
		return fmt.Sprintf("Generating application materials for #%d again. Type /review when they're ready.", id)
	case types.StageQueuedForGeneration, types.StageGenerating:
		return fmt.Sprintf("Application #%d is already %s.", id, humanStage(stage))
	case types.StageReadyForReview:
		conf := 0
		if app.GenerationConfidence != nil {
			conf = *app.GenerationConfidence
		}
		return fmt.Sprintf("CV and cover letter for #%d are ready (confidence %d%%). Type /review to approve or reject.", id, conf)
	default:
		return fmt.Sprintf("Application #%d is %s, nothing to generate.", id, humanStage(stage))
	}
}

func (in *Interpreter) decide(ctx context.Context, s Session, id int64, decision types.Decision) string {
	res, err := in.engine.Review(ctx, types.ReviewDecision{ApplicationID: id, Decision: decision, Actor: s.Actor})
	if err != nil {
		return in.failureFor(id, string(decision), err)
	}
	if decision == types.DecisionReject {
		return fmt.Sprintf("Application #%d rejected. It won't be submitted.", id)
	}
	if res.CapReached {
		return fmt.Sprintf("Application #%d approved, but today's application cap is reached. It will stay approved until you retry submission.", id)
	}
	return fmt.Sprintf("Application #%d approved and is being submitted. Current stage: %s.", id, humanStage(res.Application.Stage()))
}

// failureFor renders an engine error for a command on one application.
func (in *Interpreter) failureFor(id int64, verb string, err error) string {
	var conflict *pipeline.ConflictError
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		return fmt.Sprintf("No application #%d. Type /review to see the queue.", id)
	case errors.As(err, &conflict):
		return fmt.Sprintf("Can't %s application #%d: it is %s.", verb, id, humanStage(conflict.Stage))
	case errors.Is(err, pipeline.ErrCapReached):
		return fmt.Sprintf("Can't %s application #%d: today's application cap is reached.", verb, id)
	default:
		return in.failure(verb, err)
	}
}

func (in *Interpreter) failure(what string, err error) string {
	in.logger.Error("chat command failed", "command", what, "error", err)
	return fmt.Sprintf("Sorry, %s failed. Please try again later.", what)
}

func humanStage(s types.Stage) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

func locationOf(p types.JobPosting) string {
	switch {
	case p.Remote && p.Location != "":
		return p.Location + " (remote)"
	case p.Remote:
		return "Remote"
	case p.Location != "":
		return p.Location
	default:
		return "location n/a"
	}
}

func formatSalary(r types.SalaryRange) string {
	cur := r.Currency
	if cur == "" {
		cur = "$"
	}
	if r.Max == 0 {
		return fmt.Sprintf("%s%dk+", cur, r.Min/1000)
	}
	return fmt.Sprintf("%s%dk - %s%dk", cur, r.Min/1000, cur, r.Max/1000)
}

const maxEcho = 200

func fallback(raw string) string {
	echo := strings.TrimSpace(raw)
	if utf8.RuneCountInString(echo) > maxEcho {
		echo = string([]rune(echo)[:maxEcho]) + "..."
	}
	return fmt.Sprintf("I didn't understand %q.\n\n%s", echo, commandList)
}

const commandList = `Available commands:
/findjobs - find new opportunities
/review - review pending applications
/stats - view your progress
/generate <id> - generate CV and cover letter
/approve <id> - approve and submit an application
/reject <id> - reject an application
/profile - show your profile
/help - show this message`

const replyHelp = "Here's what I can help you with.\n\n" + commandList

const replyThanks = "You're welcome! Use /help to see all commands."

const replyRateLimited = "You're sending messages too quickly. Please wait a moment and try again."
