// Package openai implements provider.Provider over the OpenAI Chat Completions
// wire protocol, with streaming and function calling. Any compatible endpoint
// works; the default targets Gemini's OpenAI-compatible surface.
package openai

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flemzord/reddichat/internal/provider"
)

// Compile-time interface guards.
var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
)

// Provider talks to an OpenAI-compatible chat completions endpoint.
type Provider struct {
	config       Config
	logger       *slog.Logger
	client       *http.Client
	streamClient *http.Client
}

// New validates cfg, fills defaults and returns a ready provider.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// http.Client.Timeout bounds the whole response body, which would cut
	// long-lived SSE streams. The streaming client relies on ctx instead.
	return &Provider{
		config:       cfg,
		logger:       logger.With("component", "provider.openai", "model", cfg.Model),
		client:       &http.Client{Timeout: cfg.parsedTimeout()},
		streamClient: &http.Client{},
	}, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("provider: api_key is required"))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("provider: model is required"))
	}
	if err := c.validateTimeout(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("provider: max_tokens must be >= 0, got %d", c.MaxTokens))
	}
	return errors.Join(errs...)
}
