package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/jobhunter/internal/fetch"
	"github.com/jonathan/jobhunter/internal/pipeline"
	"github.com/jonathan/jobhunter/internal/types"
)

// Engine is the part of the pipeline discovery feeds.
type Engine interface {
	Discover(ctx context.Context, postings []types.JobPosting) (pipeline.DiscoverResult, error)
	RunScoringCycle(ctx context.Context) (pipeline.CycleReport, error)
}

// SourceReport is the result of one source in a run.
type SourceReport struct {
	Name  string `json:"name"`
	Found int    `json:"found"`
	Error string `json:"error,omitempty"`
}

// Report summarizes one discovery run.
type Report struct {
	Sources       []SourceReport `json:"sources"`
	Discovered    int            `json:"discovered"`
	Duplicates    int            `json:"duplicates"`
	Scored        int            `json:"scored"`
	Matched       int            `json:"matched"`
	Rejected      int            `json:"rejected"`
	ScoringFailed int            `json:"scoring_failed"`
}

// ErrAllSourcesFailed is returned when no source produced postings or an empty result.
var ErrAllSourcesFailed = errors.New("all discovery sources failed")

// Discoverer fetches every source, stores new postings and runs a scoring cycle.
type Discoverer struct {
	engine  Engine
	sources []Source
	logger  *slog.Logger
	mu      sync.Mutex // one run at a time
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(engine Engine, sources []Source, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{engine: engine, sources: sources, logger: logger.With("component", "discovery")}
}

// Run performs one discovery cycle. A failing source is reported, not fatal.
func (d *Discoverer) Run(ctx context.Context) (*Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := &Report{Sources: make([]SourceReport, len(d.sources))}
	found := make([][]types.JobPosting, len(d.sources))

	var g errgroup.Group
	for i, src := range d.sources {
		g.Go(func() error {
			postings, err := src.Fetch(ctx)
			report.Sources[i] = SourceReport{Name: src.Name(), Found: len(postings)}
			if err != nil {
				report.Sources[i].Error = err.Error()
				d.logger.Warn("source failed", "source", src.Name(), "error", err)
				return nil
			}
			found[i] = postings
			return nil
		})
	}
	_ = g.Wait()

	var all []types.JobPosting
	failed := 0
	for i := range d.sources {
		if report.Sources[i].Error != "" {
			failed++
		}
		all = append(all, found[i]...)
	}
	if len(d.sources) > 0 && failed == len(d.sources) {
		return report, ErrAllSourcesFailed
	}

	res, err := d.engine.Discover(ctx, all)
	if err != nil {
		return report, fmt.Errorf("failed to store discovered postings: %w", err)
	}
	report.Discovered = len(res.Created)
	report.Duplicates = res.Duplicates

	cycle, err := d.engine.RunScoringCycle(ctx)
	if err != nil {
		return report, fmt.Errorf("scoring cycle failed: %w", err)
	}
	report.Scored = len(cycle.Outcomes)
	report.Matched = cycle.Matched
	report.Rejected = cycle.Rejected
	report.ScoringFailed = cycle.Failed

	d.logger.Info("discovery run finished",
		"sources", len(d.sources),
		"failed_sources", failed,
		"discovered", report.Discovered,
		"duplicates", report.Duplicates,
		"matched", report.Matched,
	)
	return report, nil
}

// SourceConfig describes a source in the configuration file.
type SourceConfig struct {
	Name         string                  `json:"name"`
	Type         string                  `json:"type"` // "html" or "file"
	URL          string                  `json:"url,omitempty"`
	Path         string                  `json:"path,omitempty"`
	Company      string                  `json:"company,omitempty"`
	Selectors    *fetch.ListingSelectors `json:"selectors,omitempty"`
	FetchDetails bool                    `json:"fetch_details,omitempty"`
}

// BuildSources turns configuration into sources. HTML sources on a known platform
// may omit selectors.
func BuildSources(cfgs []SourceConfig, fetcher *fetch.Fetcher, logger *slog.Logger) ([]Source, error) {
	var sources []Source
	for i, c := range cfgs {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("source-%d", i+1)
		}
		switch c.Type {
		case "file":
			if c.Path == "" {
				return nil, fmt.Errorf("source %s: path is required", name)
			}
			sources = append(sources, NewFileSource(c.Path))
		case "html", "":
			if c.URL == "" {
				return nil, fmt.Errorf("source %s: url is required", name)
			}
			var sel fetch.ListingSelectors
			if c.Selectors != nil {
				sel = *c.Selectors
			} else {
				platform := fetch.DetectPlatform(c.URL)
				var ok bool
				if sel, ok = fetch.PlatformListingSelectors(platform); !ok {
					return nil, fmt.Errorf("source %s: selectors are required for %s", name, c.URL)
				}
			}
			src, err := NewHTMLSource(name, c.URL, c.Company, sel, c.FetchDetails, fetcher, logger)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		default:
			return nil, fmt.Errorf("source %s: unknown type %q", name, c.Type)
		}
	}
	return sources, nil
}
