package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/jonathan/jobhunter/internal/inbound"
)

var gmailAuthCmd = &cobra.Command{
	Use:   "gmail-auth",
	Short: "Authorize read-only Gmail access for outcome tracking",
	Long: `Run the OAuth consent flow for the credentials file in gmail.credentials_file and
store the resulting token in gmail.token_file. Open the printed URL, approve access,
and paste the code back here.`,
	RunE: runGmailAuth,
}

var gmailPollCmd = &cobra.Command{
	Use:   "gmail-poll",
	Short: "Check Gmail once for employer responses",
	RunE:  runGmailPoll,
}

func init() {
	rootCmd.AddCommand(gmailAuthCmd, gmailPollCmd)
}

func runGmailAuth(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Gmail.CredentialsFile == "" || cfg.Gmail.TokenFile == "" {
		return fmt.Errorf("gmail.credentials_file and gmail.token_file must be configured")
	}

	oauthCfg, err := inbound.LoadOAuthConfig(cfg.Gmail.CredentialsFile)
	if err != nil {
		return err
	}
	state := uuid.NewString()
	url := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in your browser and approve access:\n\n%s\n\nAuthorization code: ", url)

	code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && strings.TrimSpace(code) == "" {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}
	token, err := oauthCfg.Exchange(cmd.Context(), strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := inbound.SaveToken(cfg.Gmail.TokenFile, token); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", cfg.Gmail.TokenFile)
	return nil
}

func runGmailPoll(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if !a.cfg.Gmail.Enabled() {
		return fmt.Errorf("gmail is not configured: set gmail.credentials_file and gmail.token_file")
	}

	poller, err := a.poller(ctx)
	if err != nil {
		return err
	}
	report, err := poller.Poll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d, matched %d, recorded %d, unrelated %d, conflicts %d\n",
		report.Fetched, report.Matched, report.Recorded, report.Unrelated, report.Conflicts)
	return nil
}
