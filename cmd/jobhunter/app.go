package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonathan/jobhunter/internal/chat"
	"github.com/jonathan/jobhunter/internal/config"
	"github.com/jonathan/jobhunter/internal/db"
	"github.com/jonathan/jobhunter/internal/discovery"
	"github.com/jonathan/jobhunter/internal/fetch"
	"github.com/jonathan/jobhunter/internal/generation"
	"github.com/jonathan/jobhunter/internal/llm"
	"github.com/jonathan/jobhunter/internal/observability"
	"github.com/jonathan/jobhunter/internal/pipeline"
	"github.com/jonathan/jobhunter/internal/scoring"
	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/submission"
)

// pageCacheTTL is how long fetched listing pages are reused.
const pageCacheTTL = 6 * time.Hour

// app holds everything a command needs, built from configuration.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      store.Store
	redis      *redis.Client
	llm        llm.Client
	engine     *pipeline.Engine
	discoverer *discovery.Discoverer
	closers    []func()
}

// loadConfig reads --config and the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

// buildApp connects storage and collaborators and creates the engine. Callers must Close it.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: observability.NewLogger(cfg.Verbose, cfg.LogFormat)}
	slog.SetDefault(a.logger)

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	scorer, generator := a.adapters()
	a.engine = pipeline.New(a.store, scorer, generator, a.submitter(), a.engineOptions())
	a.closers = append(a.closers, a.engine.Close)

	if len(cfg.DiscoverySources) > 0 {
		sources, err := discovery.BuildSources(cfg.DiscoverySources, a.fetcher(), a.logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to build discovery sources: %w", err)
		}
		a.discoverer = discovery.NewDiscoverer(a.engine, sources, a.logger)
	}
	return a, nil
}

func (a *app) engineOptions() pipeline.Options {
	opts := a.cfg.EngineOptions()
	opts.Logger = a.logger
	return opts
}

// connect opens the store and, when configured, Redis.
func (a *app) connect(ctx context.Context) error {
	switch {
	case useMemory || a.cfg.DatabaseURL == "":
		if !useMemory {
			a.logger.Warn("DATABASE_URL not set, state will not survive a restart")
		}
		a.store = store.NewMemory()
	default:
		database, err := db.Connect(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, database.Close)
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		a.store = database
	}

	if a.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
	}
	return nil
}

// adapters picks the model-backed scorer and generator when an API key is set,
// and the offline ones otherwise.
func (a *app) adapters() (scoring.Scorer, generation.Generator) {
	if a.cfg.GeminiAPIKey == "" {
		a.logger.Info("no GEMINI_API_KEY, using offline scorer and templates")
		return scoring.NewSkillScorer(), generation.NewTemplateGenerator()
	}
	client, err := llm.NewClient(context.Background(), a.cfg.LLMConfig(), a.cfg.GeminiAPIKey)
	if err != nil {
		a.logger.Warn("failed to create LLM client, using offline adapters", "error", err)
		return scoring.NewSkillScorer(), generation.NewTemplateGenerator()
	}
	a.llm = client
	a.closers = append(a.closers, func() { _ = client.Close() })
	return scoring.NewLLMScorer(client), generation.NewLLMGenerator(client)
}

func (a *app) submitter() submission.Submitter {
	if a.cfg.SubmissionWebhookURL == "" {
		a.logger.Info("no submission webhook configured, submissions are dry runs")
		return submission.NewDryRunSubmitter(a.logger)
	}
	return submission.NewWebhookSubmitter(a.cfg.SubmissionWebhookURL, nil)
}

// fetcher builds the page fetcher for HTML sources.
func (a *app) fetcher() *fetch.Fetcher {
	f := fetch.NewFetcher(fetch.DefaultOptions(), a.logger)
	if a.cfg.UseBrowser {
		f = f.WithBrowser(fetch.ChromeRenderer(0, a.logger))
	}
	if a.redis != nil {
		return f.WithCache(fetch.NewRedisPageCache(a.redis, "jobhunter:page:"), pageCacheTTL)
	}
	return f.WithCache(fetch.NewMemoryPageCache(), pageCacheTTL)
}

// chatDiscoverer returns the discoverer as a chat.Discoverer, keeping a nil
// pointer from becoming a non-nil interface.
func (a *app) chatDiscoverer() chat.Discoverer {
	if a.discoverer == nil {
		return nil
	}
	return a.discoverer
}

// interpreter builds the chat interpreter with a per-session rate limit.
func (a *app) interpreter() *chat.Interpreter {
	var limiter chat.Limiter
	if c := a.cfg.Chat; c.RateLimit > 0 {
		if a.redis != nil {
			limiter = chat.NewRedisLimiter(a.redis, c.RateLimit, c.RateWindow.Duration, "jobhunter:chat:")
		} else {
			limiter = chat.NewWindowLimiter(c.RateLimit, c.RateWindow.Duration)
		}
	}
	return chat.NewInterpreter(a.engine, a.chatDiscoverer(), limiter, chat.Options{
		StrictIDs: a.cfg.Chat.StrictIDs,
		DefaultID: a.cfg.Chat.DefaultID,
		TopN:      a.cfg.Chat.TopN,
	}, a.logger)
}

// resume recovers work left by a previous process. Only long-running commands that
// own the pipeline call it.
func (a *app) resume(ctx context.Context) error {
	report, err := a.engine.Resume(ctx)
	if err != nil {
		return fmt.Errorf("failed to resume pipeline: %w", err)
	}
	if report.Interrupted > 0 {
		fmt.Fprintf(os.Stderr, "%d application(s) were interrupted by the last shutdown and need attention\n", report.Interrupted)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
