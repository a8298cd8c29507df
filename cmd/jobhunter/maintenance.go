package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/jobhunter/internal/config"
	"github.com/jonathan/jobhunter/internal/db"
	"github.com/jonathan/jobhunter/internal/export"
	"github.com/jonathan/jobhunter/internal/server"
	"github.com/jonathan/jobhunter/internal/store"
)

var (
	exportOutput string
	tokenSubject string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the application tracker spreadsheet",
	RunE:  runExport,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark submissions without a response as no-response",
	RunE:  runSweep,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema to DATABASE_URL",
	RunE:  runMigrate,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token signed with JWT_SECRET",
	RunE:  runToken,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output path (default applications-<date>.xlsx)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "owner", "Token subject, recorded as the actor of API review decisions")
	rootCmd.AddCommand(exportCmd, sweepCmd, migrateCmd, tokenCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	apps, err := a.engine.List(ctx, store.ApplicationFilter{})
	if err != nil {
		return err
	}
	postings, err := postingIndex(cmd, a)
	if err != nil {
		return err
	}
	stats, err := a.engine.Stats(ctx)
	if err != nil {
		return err
	}

	path := exportOutput
	if path == "" {
		path = "applications-" + time.Now().Format("2006-01-02")
	}
	written, err := export.SaveTracker(path, apps, postings, stats)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d application(s) to %s\n", len(apps), written)
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.engine.SweepStale(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Marked %d application(s) as no response\n", n)
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	database, err := db.Connect(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	token, err := server.NewJWTService(jwtCfg).GenerateToken(tokenSubject)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
