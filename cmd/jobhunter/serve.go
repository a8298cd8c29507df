package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/jobhunter/internal/config"
	"github.com/jonathan/jobhunter/internal/inbound"
	"github.com/jonathan/jobhunter/internal/server"
	"github.com/jonathan/jobhunter/internal/server/ratelimit"
)

var (
	servePort          int
	serveDiscoverEvery time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes the pipeline over REST, along with the background
workers: the stale-application sweeper, optional scheduled discovery, and the Gmail
outcome poller when Gmail credentials are configured.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config, 8080)")
	serveCmd.Flags().DurationVar(&serveDiscoverEvery, "discover-every", 0, "Run discovery on this interval (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.resume(ctx); err != nil {
		return err
	}

	jwtCfg, err := config.OptionalJWTConfig()
	if err != nil {
		return fmt.Errorf("failed to create JWT config: %w", err)
	}
	if jwtCfg == nil {
		a.logger.Warn("JWT_SECRET not set, API is unauthenticated")
	}

	port := a.cfg.Port
	if servePort != 0 {
		port = servePort
	}
	srv, err := server.New(server.Config{Port: port}, server.Deps{
		Engine:      a.engine,
		Discoverer:  a.chatDiscoverer(),
		Interpreter: a.interpreter(),
		Logger:      a.logger,
		JWT:         jwtCfg,
		RateLimit:   ratelimit.LoadConfig(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		a.runSweeper(gctx, a.cfg.SweepInterval.Duration)
		return nil
	})
	if serveDiscoverEvery > 0 && a.discoverer != nil {
		g.Go(func() error {
			a.runDiscovery(gctx, serveDiscoverEvery)
			return nil
		})
	}
	if a.cfg.Gmail.Enabled() {
		poller, err := a.poller(ctx)
		if err != nil {
			a.logger.Error("gmail polling disabled", "error", err)
		} else {
			g.Go(func() error {
				poller.Run(gctx, a.cfg.Gmail.PollInterval.Duration)
				return nil
			})
		}
	}

	err = g.Wait()
	// In-flight work unwinds; queued applications are picked up by Resume on the next start.
	a.engine.Close()
	return err
}

// runSweeper marks stale submissions every interval until ctx is done.
func (a *app) runSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.engine.SweepStale(ctx)
			if err != nil {
				a.logger.Error("stale sweep failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("stale sweep", "marked_no_response", n)
			}
		}
	}
}

// runDiscovery runs a discovery cycle every interval until ctx is done.
func (a *app) runDiscovery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := a.discoverer.Run(ctx)
			if err != nil {
				a.logger.Error("scheduled discovery failed", "error", err)
				continue
			}
			a.logger.Info("scheduled discovery", "discovered", report.Discovered, "matched", report.Matched)
		}
	}
}

// poller builds the Gmail outcome poller.
func (a *app) poller(ctx context.Context) (*inbound.Poller, error) {
	mailbox, err := inbound.NewGmailMailbox(ctx, a.cfg.Gmail.CredentialsFile, a.cfg.Gmail.TokenFile)
	if err != nil {
		return nil, err
	}
	var classifier inbound.Classifier
	if a.cfg.Gmail.UseLLM && a.llm != nil {
		classifier = inbound.NewLLMClassifier(a.llm)
	}
	return inbound.NewPoller(a.engine, mailbox, classifier, a.logger), nil
}
