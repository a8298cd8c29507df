package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jonathan/jobhunter/internal/observability"
	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/types"
)

var (
	listStage          string
	listNeedsAttention bool
	listLimit          int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List applications",
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one application and its timeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print pipeline statistics",
	RunE:  runStats,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Print the candidate profile",
	RunE:  runProfile,
}

func init() {
	listCmd.Flags().StringVar(&listStage, "stage", "", "Only applications in this stage")
	listCmd.Flags().BoolVar(&listNeedsAttention, "needs-attention", false, "Only applications flagged for attention")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of applications (0 for all)")
	rootCmd.AddCommand(listCmd, showCmd, statsCmd, profileCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	filter := store.ApplicationFilter{Limit: listLimit}
	if listStage != "" {
		stage := types.Stage(listStage)
		if !stage.Valid() {
			return fmt.Errorf("unknown stage %q", listStage)
		}
		filter.Stages = []types.Stage{stage}
	}
	if listNeedsAttention {
		flag := true
		filter.NeedsAttention = &flag
	}

	apps, err := a.engine.List(ctx, filter)
	if err != nil {
		return err
	}
	postings, err := postingIndex(cmd, a)
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintApplications(apps, postings)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid application id %q", args[0])
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	app, err := a.engine.Get(ctx, id)
	if err != nil {
		return err
	}
	posting, err := a.engine.Posting(ctx, app.PostingID)
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintApplication(app, posting)
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.engine.Stats(ctx)
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintStats(stats)
	return nil
}

func runProfile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	profile, err := a.engine.Profile(ctx)
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintProfile(profile)
	return nil
}

// postingIndex loads every posting keyed by id.
func postingIndex(cmd *cobra.Command, a *app) (map[string]types.JobPosting, error) {
	postings, err := a.engine.Postings(cmd.Context(), store.PostingFilter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]types.JobPosting, len(postings))
	for _, p := range postings {
		byID[p.ID] = p
	}
	return byID, nil
}
