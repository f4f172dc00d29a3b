// Package config loads the gateway's configuration from the environment,
// matching the nested document shape described for the management surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/codex-manager/gateway/internal/gwmodel"
)

// Config is the gateway's fully resolved runtime configuration.
type Config struct {
	// Proxy
	BindAddr      string
	APIKey        string
	OpenAIBaseURL string

	// Routing
	RoutingStrategy      gwmodel.RoutingStrategy
	MinRequestIntervalMS int

	// Store
	DBPath    string
	MasterKey string

	// Usage polling
	UsagePollMinInterval time.Duration
	UsagePollMaxInterval time.Duration

	// Request handling
	RequestTimeout   time.Duration
	MaxRequestBodyMB int

	// Logging
	LogLevel string
}

// Load reads configuration from the environment, applying the defaults
// spec.md §6 documents.
func Load() *Config {
	return &Config{
		BindAddr:      envOr("CODEX_MANAGER_BIND_ADDR", "127.0.0.1:8080"),
		APIKey:        envOr("CODEX_MANAGER_API_KEY", "sk-codex-manager"),
		OpenAIBaseURL: envOr("CODEX_MANAGER_OPENAI_BASE_URL", "https://api.openai.com"),

		RoutingStrategy:      gwmodel.RoutingStrategy(envOr("CODEX_MANAGER_ROUTING_STRATEGY", string(gwmodel.StrategyLeastUtilized))),
		MinRequestIntervalMS: envInt("CODEX_MANAGER_MIN_REQUEST_INTERVAL_MS", 100),

		DBPath:    envOr("CODEX_MANAGER_DB_PATH", "./codex-manager.db"),
		MasterKey: os.Getenv("CODEX_MANAGER_MASTER_KEY"),

		UsagePollMinInterval: envDuration("CODEX_MANAGER_USAGE_POLL_MIN", 60*time.Second),
		UsagePollMaxInterval: envDuration("CODEX_MANAGER_USAGE_POLL_MAX", 3600*time.Second),

		RequestTimeout:   envDuration("CODEX_MANAGER_REQUEST_TIMEOUT", 5*time.Minute),
		MaxRequestBodyMB: envInt("CODEX_MANAGER_MAX_REQUEST_BODY_MB", 20),

		LogLevel: envOr("CODEX_MANAGER_LOG_LEVEL", "info"),
	}
}

// Validate checks the resolved config for startup-fatal problems. The
// master key has no OS-keychain fallback in this build, so its absence is
// always fatal rather than merely logged.
func (c *Config) Validate() error {
	if c.MasterKey == "" {
		return errMissing("CODEX_MANAGER_MASTER_KEY")
	}
	if c.APIKey == "" {
		return errMissing("CODEX_MANAGER_API_KEY")
	}
	switch c.RoutingStrategy {
	case gwmodel.StrategyLeastUtilized, gwmodel.StrategyRoundRobin, gwmodel.StrategyPriority, gwmodel.StrategySticky:
	default:
		return fmt.Errorf("%w: unknown routing strategy %q", ErrConfig, c.RoutingStrategy)
	}
	return nil
}

// Document returns the AppConfig view of this configuration, the shape the
// management surface can round-trip as JSON.
func (c *Config) Document() gwmodel.AppConfig {
	return gwmodel.AppConfig{
		Proxy: gwmodel.ProxyServerConfig{
			BindAddr:      c.BindAddr,
			APIKey:        c.APIKey,
			OpenAIBaseURL: c.OpenAIBaseURL,
		},
		Routing: gwmodel.RoutingConfig{
			Strategy:             c.RoutingStrategy,
			MinRequestIntervalMS: c.MinRequestIntervalMS,
		},
	}
}

// ErrConfig is the sentinel wrapped by all configuration errors.
var ErrConfig = fmt.Errorf("config error")

func errMissing(envVar string) error {
	return fmt.Errorf("%w: missing required env %s", ErrConfig, envVar)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
