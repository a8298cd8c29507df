package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// LoadConfig reads RATE_LIMIT_* environment variables.
func LoadConfig() *Config {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) *Config {
	env := envReader{lookup: lookup}
	if !env.getBool("RATE_LIMIT_ENABLED", true) {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    env.getInt("RATE_LIMIT_DEFAULT_LIMIT", 1000),
		DefaultWindow:   env.getDuration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		CleanupInterval: env.getDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		IdleTTL:         env.getDuration("RATE_LIMIT_IDLE_TTL", time.Hour),
		Whitelist:       parseIPList(env.getString("RATE_LIMIT_WHITELIST")),
		Blacklist:       parseIPList(env.getString("RATE_LIMIT_BLACKLIST")),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the per-endpoint limits. Paths ending in "/"
// match by prefix.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Discovery fetches every source and scores every new posting.
		{Path: "/discovery/run", Method: "POST", Limit: 10, Window: time.Hour, Burst: 2},
		{Path: "/export/tracker.xlsx", Method: "GET", Limit: 30, Window: time.Hour, Burst: 5},

		{Path: "/chat", Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/postings", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/profile", Method: "PUT", Limit: 30, Window: time.Minute, Burst: 5},
		{Path: "/applications/", Method: "POST", Limit: 120, Window: time.Minute, Burst: 20},

		// Reads use the default limit; /health and the event stream are unlimited.
	}
}

// envReader falls back to the default when a variable is unset or unparsable.
type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) getString(key string) string {
	v, _ := e.lookup(key)
	return strings.TrimSpace(v)
}

func (e envReader) getInt(key string, def int) int {
	return parseOr(e.getString(key), def, strconv.Atoi)
}

func (e envReader) getBool(key string, def bool) bool {
	return parseOr(e.getString(key), def, strconv.ParseBool)
}

func (e envReader) getDuration(key string, def time.Duration) time.Duration {
	return parseOr(e.getString(key), def, time.ParseDuration)
}

func parseOr[T any](raw string, def T, parse func(string) (T, error)) T {
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

// parseIPList splits a comma-separated address list into a set.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
