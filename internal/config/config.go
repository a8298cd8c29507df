// Package config provides configuration loading and validation for the CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/jobhunter/internal/discovery"
	"github.com/jonathan/jobhunter/internal/llm"
	"github.com/jonathan/jobhunter/internal/pipeline"
)

// Duration is a time.Duration written as a Go duration string in JSON ("500ms", "1h").
type Duration struct {
	time.Duration
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"1h\": %s", b)
		}
		d.Duration = time.Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalJSON writes the duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// ChatConfig configures the command interpreter.
type ChatConfig struct {
	StrictIDs  bool     `json:"strict_ids,omitempty"`  // Ask for a missing id instead of assuming 1
	DefaultID  int64    `json:"default_id,omitempty"`  // Id assumed when a command omits it
	TopN       int      `json:"top_n,omitempty"`       // Matches listed after findjobs
	RateLimit  int      `json:"rate_limit,omitempty"`  // Messages per session per window; 0 disables
	RateWindow Duration `json:"rate_window,omitempty"` // Window for RateLimit
}

// GmailConfig configures inbound outcome polling.
type GmailConfig struct {
	CredentialsFile string   `json:"credentials_file,omitempty"`
	TokenFile       string   `json:"token_file,omitempty"`
	PollInterval    Duration `json:"poll_interval,omitempty"`
	UseLLM          bool     `json:"use_llm,omitempty"` // Classify with the model instead of keyword rules
}

// Enabled reports whether polling has what it needs to start.
func (g GmailConfig) Enabled() bool {
	return g.CredentialsFile != "" && g.TokenFile != ""
}

// Config represents the configuration that can be loaded from a JSON file.
// All fields are optional; missing values use Defaults.
type Config struct {
	// Connections
	DatabaseURL  string `json:"database_url,omitempty"`   // PostgreSQL connection URL; empty runs in memory
	RedisURL     string `json:"redis_url,omitempty"`      // Redis for page cache and chat rate limits
	GeminiAPIKey string `json:"gemini_api_key,omitempty"` // Enables the LLM adapters
	Port         int    `json:"port,omitempty"`           // HTTP port

	// LLMModels overrides the model per tier: "lite", "standard" or "advanced".
	LLMModels map[string]string `json:"llm_models,omitempty"`

	// Engine
	CandidateID        string   `json:"candidate_id,omitempty"`
	MinMatchThreshold  int      `json:"min_match_threshold,omitempty"`
	GenerationPoolSize int      `json:"generation_pool_size,omitempty"`
	GenerationRetries  int      `json:"generation_retries,omitempty"`
	ScoringRetries     int      `json:"scoring_retries,omitempty"`
	ScoringMaxCycles   int      `json:"scoring_max_cycles,omitempty"`
	SubmitMaxAttempts  int      `json:"submit_max_attempts,omitempty"`
	BackoffBase        Duration `json:"backoff_base,omitempty"`
	StaleAfterDays     int      `json:"stale_after_days,omitempty"`
	SweepInterval      Duration `json:"sweep_interval,omitempty"`

	// Discovery
	DiscoverySources []discovery.SourceConfig `json:"discovery_sources,omitempty"`
	UseBrowser       bool                     `json:"use_browser,omitempty"` // Headless Chrome fallback for SPA boards

	// Submission
	SubmissionWebhookURL string `json:"submission_webhook_url,omitempty"` // Empty means dry run

	Chat  ChatConfig  `json:"chat,omitempty"`
	Gmail GmailConfig `json:"gmail,omitempty"`

	Verbose   bool   `json:"verbose,omitempty"`
	LogFormat string `json:"log_format,omitempty"` // text or json
}

// LLMConfig applies LLMModels to the default model configuration.
func (c *Config) LLMConfig() *llm.Config {
	cfg := llm.DefaultConfig()
	for tier, model := range c.LLMModels {
		if model != "" {
			cfg = cfg.WithModel(llm.ModelTier(tier), model)
		}
	}
	return cfg
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:               8080,
		CandidateID:        "default",
		MinMatchThreshold:  70,
		GenerationPoolSize: 5,
		GenerationRetries:  2,
		ScoringRetries:     3,
		ScoringMaxCycles:   3,
		SubmitMaxAttempts:  3,
		BackoffBase:        Duration{500 * time.Millisecond},
		StaleAfterDays:     14,
		SweepInterval:      Duration{time.Hour},
		Chat: ChatConfig{
			DefaultID:  1,
			TopN:       3,
			RateWindow: Duration{time.Minute},
		},
		Gmail: GmailConfig{
			PollInterval: Duration{10 * time.Minute},
		},
		LogFormat: "text",
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Load reads path (optional), fills defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	merged := cfg.MergeWithDefaults(Defaults())
	if err := merged.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.MinMatchThreshold < 0 || c.MinMatchThreshold > 100 {
		return fmt.Errorf("config error: 'min_match_threshold' must be between 0 and 100")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}

	nonNegative := map[string]int{
		"generation_pool_size": c.GenerationPoolSize,
		"generation_retries":   c.GenerationRetries,
		"scoring_retries":      c.ScoringRetries,
		"scoring_max_cycles":   c.ScoringMaxCycles,
		"submit_max_attempts":  c.SubmitMaxAttempts,
		"stale_after_days":     c.StaleAfterDays,
	}
	for name, v := range nonNegative {
		if v < 0 {
			return fmt.Errorf("config error: '%s' must be non-negative", name)
		}
	}
	if c.Chat.DefaultID < 0 {
		return fmt.Errorf("config error: 'chat.default_id' must be positive")
	}

	for tier := range c.LLMModels {
		switch llm.ModelTier(tier) {
		case llm.TierLite, llm.TierStandard, llm.TierAdvanced:
		default:
			return fmt.Errorf("config error: unknown llm_models tier %q", tier)
		}
	}

	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("config error: 'log_format' must be text or json")
	}

	names := make(map[string]bool, len(c.DiscoverySources))
	for i, src := range c.DiscoverySources {
		if src.Name == "" {
			return fmt.Errorf("config error: discovery source %d has no name", i)
		}
		if names[src.Name] {
			return fmt.Errorf("config error: duplicate discovery source %q", src.Name)
		}
		names[src.Name] = true
		switch src.Type {
		case "html":
			if src.URL == "" {
				return fmt.Errorf("config error: discovery source %q needs a url", src.Name)
			}
		case "file":
			if src.Path == "" {
				return fmt.Errorf("config error: discovery source %q needs a path", src.Name)
			}
			if _, err := os.Stat(src.Path); os.IsNotExist(err) {
				return fmt.Errorf("config error: discovery file not found: %s", src.Path)
			}
		default:
			return fmt.Errorf("config error: discovery source %q has unknown type %q", src.Name, src.Type)
		}
	}

	if c.Gmail.CredentialsFile != "" {
		if _, err := os.Stat(c.Gmail.CredentialsFile); os.IsNotExist(err) {
			return fmt.Errorf("config error: gmail credentials file not found: %s", c.Gmail.CredentialsFile)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
// Bool fields cannot distinguish unset from false and are not merged.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	setString := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	setInt := func(dst *int, def int) {
		if *dst == 0 {
			*dst = def
		}
	}
	setDuration := func(dst *Duration, def Duration) {
		if dst.Duration == 0 {
			*dst = def
		}
	}

	setString(&result.DatabaseURL, defaults.DatabaseURL)
	setString(&result.RedisURL, defaults.RedisURL)
	setString(&result.GeminiAPIKey, defaults.GeminiAPIKey)
	setString(&result.CandidateID, defaults.CandidateID)
	setString(&result.SubmissionWebhookURL, defaults.SubmissionWebhookURL)
	setString(&result.LogFormat, defaults.LogFormat)
	setString(&result.Gmail.CredentialsFile, defaults.Gmail.CredentialsFile)
	setString(&result.Gmail.TokenFile, defaults.Gmail.TokenFile)

	setInt(&result.Port, defaults.Port)
	setInt(&result.MinMatchThreshold, defaults.MinMatchThreshold)
	setInt(&result.GenerationPoolSize, defaults.GenerationPoolSize)
	setInt(&result.GenerationRetries, defaults.GenerationRetries)
	setInt(&result.ScoringRetries, defaults.ScoringRetries)
	setInt(&result.ScoringMaxCycles, defaults.ScoringMaxCycles)
	setInt(&result.SubmitMaxAttempts, defaults.SubmitMaxAttempts)
	setInt(&result.StaleAfterDays, defaults.StaleAfterDays)
	setInt(&result.Chat.TopN, defaults.Chat.TopN)
	setInt(&result.Chat.RateLimit, defaults.Chat.RateLimit)
	if result.Chat.DefaultID == 0 {
		result.Chat.DefaultID = defaults.Chat.DefaultID
	}

	setDuration(&result.BackoffBase, defaults.BackoffBase)
	setDuration(&result.SweepInterval, defaults.SweepInterval)
	setDuration(&result.Chat.RateWindow, defaults.Chat.RateWindow)
	setDuration(&result.Gmail.PollInterval, defaults.Gmail.PollInterval)

	if len(result.DiscoverySources) == 0 {
		result.DiscoverySources = defaults.DiscoverySources
	}

	return result
}

// ApplyEnv overrides fields from environment variables. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", key, err)
			}
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", key, err)
			}
			return
		}
		*dst = b
	}

	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("GEMINI_API_KEY", &c.GeminiAPIKey)
	str("CANDIDATE_ID", &c.CandidateID)
	str("SUBMISSION_WEBHOOK_URL", &c.SubmissionWebhookURL)
	str("LOG_FORMAT", &c.LogFormat)
	str("GMAIL_CREDENTIALS_FILE", &c.Gmail.CredentialsFile)
	str("GMAIL_TOKEN_FILE", &c.Gmail.TokenFile)
	num("PORT", &c.Port)
	num("MIN_MATCH_THRESHOLD", &c.MinMatchThreshold)
	num("GENERATION_POOL_SIZE", &c.GenerationPoolSize)
	flag("USE_BROWSER", &c.UseBrowser)
	flag("CHAT_STRICT_IDS", &c.Chat.StrictIDs)
	return firstErr
}

// EngineOptions maps the engine settings onto pipeline.Options.
func (c *Config) EngineOptions() pipeline.Options {
	return pipeline.Options{
		CandidateID:        c.CandidateID,
		MinMatchThreshold:  c.MinMatchThreshold,
		GenerationPoolSize: c.GenerationPoolSize,
		GenerationRetries:  c.GenerationRetries,
		ScoringRetries:     c.ScoringRetries,
		ScoringMaxCycles:   c.ScoringMaxCycles,
		SubmitMaxAttempts:  c.SubmitMaxAttempts,
		BackoffBase:        c.BackoffBase.Duration,
		StaleAfter:         time.Duration(c.StaleAfterDays) * 24 * time.Hour,
	}
}
