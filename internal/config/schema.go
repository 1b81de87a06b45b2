// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for reddichat.
package config

import (
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/reddichat/internal/agent"
	"github.com/flemzord/reddichat/internal/auth"
	"github.com/flemzord/reddichat/internal/chat"
	"github.com/flemzord/reddichat/internal/gateway"
	"github.com/flemzord/reddichat/internal/reddit"
	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/telemetry"
	"github.com/flemzord/reddichat/internal/tools"
	"github.com/flemzord/reddichat/internal/websearch"
	"github.com/flemzord/reddichat/modules/provider/openai"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Server    gateway.Config          `yaml:"server"`
	Auth      auth.Config             `yaml:"auth"`
	Provider  openai.Config           `yaml:"provider"`
	Agent     agent.LoopConfig        `yaml:"agent"`
	Chat      chat.Config             `yaml:"chat"`
	Tools     tools.Config            `yaml:"tools"`
	Reddit    reddit.Config           `yaml:"reddit"`
	WebSearch WebSearchConfig         `yaml:"web_search"`
	Security  SecurityConfig          `yaml:"security"`
	Log       LogConfig               `yaml:"log"`
	Tracing   telemetry.TracingConfig `yaml:"tracing"`
	Cron      CronConfig              `yaml:"cron"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "store.sql").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// WebSearchConfig wraps the search engine settings with a switch.
type WebSearchConfig struct {
	// Disabled removes the web_search tool.
	Disabled bool `yaml:"disabled"`

	websearch.Config `yaml:",inline"`
}

// SecurityConfig groups rate limits, the audit trail and URL filtering.
type SecurityConfig struct {
	RateLimits security.RateLimitConfig    `yaml:"rate_limits"`
	URLFilter  security.DomainFilterConfig `yaml:"url_filter"`

	// AuditFile receives audit events as JSONL. Empty disables the file.
	AuditFile string `yaml:"audit_file"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// SlogLevel maps Level to a slog.Level. Unknown values fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CronConfig tunes the maintenance jobs.
type CronConfig struct {
	// OrphanTTL is how long an unlinked upload is kept.
	OrphanTTL string `yaml:"orphan_ttl"`
	// Schedules overrides job schedules by job name.
	Schedules map[string]string `yaml:"schedules"`
}

func (c *Config) defaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "reddichat"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "reddichat"
	}
}

// RedditEnabled reports whether Reddit credentials are configured.
func (c *Config) RedditEnabled() bool {
	return c.Reddit.ClientID != "" || c.Reddit.ClientSecret != ""
}
