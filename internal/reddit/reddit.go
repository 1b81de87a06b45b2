// Package reddit is a small client for the Reddit OAuth API, covering
// post search and public user profiles.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for Config.
const (
	DefaultBaseURL           = "https://oauth.reddit.com"
	DefaultTokenURL          = "https://www.reddit.com/api/v1/access_token"
	DefaultUserAgent         = "ReddiChat:v2.0 (by /u/reddichat)"
	DefaultRequestsPerMinute = 60
	DefaultTimeout           = 15 * time.Second
)

// permalinkBase prefixes the relative permalinks returned by the API.
const permalinkBase = "https://www.reddit.com"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// Config configures a Client.
type Config struct {
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	UserAgent         string        `yaml:"user_agent"`
	BaseURL           string        `yaml:"base_url"`
	TokenURL          string        `yaml:"token_url"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Validate reports missing credentials.
func (c Config) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("reddit: client_id is required"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("reddit: client_secret is required"))
	}
	return errors.Join(errs...)
}

// Client talks to the Reddit API with an app-only OAuth token.
// It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	tokens  *TokenCache
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Client. The token is fetched lazily on the first request.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &userAgentTransport{agent: cfg.UserAgent, base: http.DefaultTransport},
	}

	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		tokens:  NewTokenCache(cfg, httpClient),
		limiter: rate.NewLimiter(perSecond, cfg.RequestsPerMinute),
		logger:  logger.With("component", "reddit"),
	}, nil
}

// userAgentTransport stamps every request, including token fetches.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// get performs an authenticated GET against path and decodes the JSON body
// into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("reddit: waiting for rate limiter: %w", err)
	}

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("reddit: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reddit: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("reddit request",
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return mapHTTPError(resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("reddit: decoding response: %w", err)
	}
	return nil
}
