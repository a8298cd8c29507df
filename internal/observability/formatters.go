// Package observability provides the process logger and formatted CLI output.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jonathan/jobhunter/internal/discovery"
	"github.com/jonathan/jobhunter/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer renders human-readable summaries for the CLI.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintApplication outputs one application with its timeline.
func (p *Printer) PrintApplication(app *types.Application, posting *types.JobPosting) {
	if app == nil {
		return
	}

	var sb strings.Builder
	if posting != nil {
		sb.WriteString(fmt.Sprintf("Role:       %s\n", posting.Title))
		sb.WriteString(fmt.Sprintf("Company:    %s\n", posting.Company))
	}
	sb.WriteString(fmt.Sprintf("Stage:      %s\n", app.Stage()))
	sb.WriteString(fmt.Sprintf("Match:      %d/100\n", app.MatchScore))
	if app.GenerationConfidence != nil {
		sb.WriteString(fmt.Sprintf("Confidence: %d/100\n", *app.GenerationConfidence))
	}
	if app.NeedsAttention {
		sb.WriteString("⚠ needs attention\n")
	}

	sb.WriteString("\nTimeline:\n")
	events := app.Timeline
	skipped := 0
	if len(events) > maxItemsToShow*2 {
		skipped = len(events) - maxItemsToShow*2
		events = events[skipped:]
		sb.WriteString(fmt.Sprintf("  ... %d earlier events\n", skipped))
	}
	for _, ev := range events {
		sb.WriteString(fmt.Sprintf("  %s  %s", ev.At.Format("01-02 15:04"), ev.Kind))
		if ev.Actor != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", ev.Actor))
		}
		sb.WriteString("\n")
	}

	p.printBox(fmt.Sprintf("APPLICATION #%d", app.ID), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintApplications outputs a compact list, newest first.
func (p *Printer) PrintApplications(apps []types.Application, postings map[string]types.JobPosting) {
	if len(apps) == 0 {
		p.printBox("APPLICATIONS", "No applications yet.")
		return
	}

	sorted := append([]types.Application(nil), apps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })

	var sb strings.Builder
	for _, app := range sorted {
		posting := postings[app.PostingID]
		label := posting.Title
		if posting.Company != "" {
			label += " @ " + posting.Company
		}
		sb.WriteString(fmt.Sprintf("#%-4d %3d  %-20s %s\n", app.ID, app.MatchScore, app.Stage(), truncate(label, 24)))
	}
	p.printBox(fmt.Sprintf("APPLICATIONS (%d)", len(apps)), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintStats outputs the pipeline counters.
func (p *Printer) PrintStats(stats *types.Stats) {
	if stats == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Postings:   %d discovered, %d matched, %d below threshold, %d pending\n",
		stats.PostingsDiscovered, stats.PostingsMatched, stats.PostingsRejected, stats.PostingsPending))
	sb.WriteString(fmt.Sprintf("Submitted:  %d (%d today)\n", stats.Submitted, stats.SubmittedToday))
	sb.WriteString(fmt.Sprintf("Responses:  %d (%.1f%%)\n", stats.Responses, stats.ResponseRate))
	sb.WriteString(fmt.Sprintf("Interviews: %d\n", stats.Interviews))
	sb.WriteString(fmt.Sprintf("Rejections: %d\n", stats.Rejections))
	sb.WriteString(fmt.Sprintf("Avg match:  %.1f\n", stats.AverageMatchScore))
	if stats.NeedsAttention > 0 {
		sb.WriteString(fmt.Sprintf("⚠ %d need attention\n", stats.NeedsAttention))
	}

	if len(stats.ByStage) > 0 {
		sb.WriteString("\nBy stage:\n")
		stages := make([]string, 0, len(stats.ByStage))
		for s := range stats.ByStage {
			stages = append(stages, string(s))
		}
		sort.Strings(stages)
		for _, s := range stages {
			sb.WriteString(fmt.Sprintf("  %-22s %d\n", s, stats.ByStage[types.Stage(s)]))
		}
	}

	p.printBox("PIPELINE STATS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintProfile outputs the candidate profile and automation policy.
func (p *Printer) PrintProfile(profile *types.CandidateProfile) {
	if profile == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Name:      %s\n", profile.Name))
	if profile.Email != "" {
		sb.WriteString(fmt.Sprintf("Email:     %s\n", profile.Email))
	}
	if len(profile.Skills) > 0 {
		skills := profile.Skills
		more := ""
		if len(skills) > maxItemsToShow*2 {
			more = fmt.Sprintf(" (+%d)", len(skills)-maxItemsToShow*2)
			skills = skills[:maxItemsToShow*2]
		}
		sb.WriteString(fmt.Sprintf("Skills:    %s%s\n", strings.Join(skills, ", "), more))
	}
	if len(profile.Locations) > 0 {
		sb.WriteString(fmt.Sprintf("Locations: %s\n", strings.Join(profile.Locations, ", ")))
	}
	if profile.RemoteOnly {
		sb.WriteString("Remote only\n")
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Match threshold: %d\n", profile.MinMatchThreshold))
	if profile.AutoApproveThreshold > 0 {
		sb.WriteString(fmt.Sprintf("Auto-approve:    confidence >= %d\n", profile.AutoApproveThreshold))
	} else {
		sb.WriteString("Auto-approve:    off\n")
	}
	sb.WriteString(fmt.Sprintf("Daily cap:       %d\n", profile.DailyApplicationCap))

	p.printBox("CANDIDATE PROFILE", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintDiscoveryReport outputs the per-source results of a discovery run.
func (p *Printer) PrintDiscoveryReport(report *discovery.Report) {
	if report == nil {
		return
	}

	var sb strings.Builder
	for _, src := range report.Sources {
		if src.Error != "" {
			sb.WriteString(fmt.Sprintf("✗ %s: %s\n", src.Name, src.Error))
			continue
		}
		sb.WriteString(fmt.Sprintf("✓ %d postings from %s\n", src.Found, src.Name))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("New: %d  Duplicates: %d\n", report.Discovered, report.Duplicates))
	sb.WriteString(fmt.Sprintf("Scored: %d  Matched: %d  Rejected: %d", report.Scored, report.Matched, report.Rejected))
	if report.ScoringFailed > 0 {
		sb.WriteString(fmt.Sprintf("\n⚠ %d could not be scored", report.ScoringFailed))
	}

	p.printBox("DISCOVERY", sb.String())
}
