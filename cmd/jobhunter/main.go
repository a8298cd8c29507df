// Package main provides the jobhunter command line: the HTTP API server, a chat
// console, and one-shot pipeline maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	useMemory  bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "jobhunter",
	Short: "Job application pipeline",
	Long: `jobhunter discovers job postings, scores them against your profile, drafts a tailored CV
and cover letter for each match, waits for your review, submits approved applications
within a daily cap, and tracks employer responses.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.json (environment variables override file values)")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "Keep all state in memory even when DATABASE_URL is set")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
