package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/jobhunter/internal/discovery"
	"github.com/jonathan/jobhunter/internal/observability"
)

var discoverFiles []string

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery and scoring cycle",
	Long: `Fetch every configured discovery source, store new postings and score them. Matches
are queued for generation and drafted before the command exits.

Postings can also be loaded from JSON files with --file, in addition to or instead of
the configured sources.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringSliceVarP(&discoverFiles, "file", "f", nil, "JSON file of postings to load (repeatable)")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var sources []discovery.Source
	if len(a.cfg.DiscoverySources) > 0 {
		sources, err = discovery.BuildSources(a.cfg.DiscoverySources, a.fetcher(), a.logger)
		if err != nil {
			return fmt.Errorf("failed to build discovery sources: %w", err)
		}
	}
	for _, path := range discoverFiles {
		sources = append(sources, discovery.NewFileSource(path))
	}
	if len(sources) == 0 {
		return fmt.Errorf("no discovery sources: add discovery_sources to the config or pass --file")
	}

	report, err := discovery.NewDiscoverer(a.engine, sources, a.logger).Run(ctx)
	if report != nil {
		observability.NewPrinter(cmd.OutOrStdout()).PrintDiscoveryReport(report)
	}
	if err != nil {
		return err
	}

	// Drafts for new matches are generated in the background.
	a.engine.Wait()
	return nil
}
