// Package websearch queries a public web search engine and returns
// normalized results.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source"`
}

// Searcher runs a web search returning at most n results.
type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]Result, error)
}

// SafeSearch levels.
const (
	SafeStrict   = "strict"
	SafeModerate = "moderate"
	SafeOff      = "off"
)

// Defaults for Config.
const (
	DefaultBaseURL   = "https://html.duckduckgo.com/html/"
	DefaultUserAgent = "Mozilla/5.0 (compatible; ReddiChat/2.0)"
	DefaultTimeout   = 10 * time.Second
)

// Config configures the DuckDuckGo searcher.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	UserAgent  string        `yaml:"user_agent"`
	SafeSearch string        `yaml:"safe_search"`
	Timeout    time.Duration `yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.SafeSearch == "" {
		c.SafeSearch = SafeModerate
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// kp maps a safe search level to DuckDuckGo's kp parameter.
func kp(level string) string {
	switch level {
	case SafeStrict:
		return "1"
	case SafeOff:
		return "-2"
	default:
		return "-1"
	}
}

// ErrBlocked is returned when the engine answers with a challenge page
// instead of results.
var ErrBlocked = errors.New("websearch: request blocked by search engine")

// DuckDuckGo scrapes the DuckDuckGo HTML endpoint.
type DuckDuckGo struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewDuckDuckGo creates a DuckDuckGo searcher.
func NewDuckDuckGo(cfg Config, logger *slog.Logger) *DuckDuckGo {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DuckDuckGo{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "websearch"),
	}
}

// Search implements Searcher.
func (d *DuckDuckGo) Search(ctx context.Context, query string, n int) ([]Result, error) {
	form := url.Values{}
	form.Set("q", query)
	form.Set("kp", kp(d.cfg.SafeSearch))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("websearch: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.cfg.UserAgent)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("websearch: parsing results: %w", err)
	}

	results := parseResults(doc, n)
	if len(results) == 0 && doc.Find(".anomaly-modal__title, #challenge-form").Length() > 0 {
		return nil, ErrBlocked
	}
	d.logger.Debug("web search", "query_len", len(query), "results", len(results))
	return results, nil
}

// parseResults extracts organic results, skipping ads and entries
// without a resolvable link.
func parseResults(doc *goquery.Document, n int) []Result {
	results := []Result{}
	doc.Find("div.result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if n > 0 && len(results) >= n {
			return false
		}
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		target, host := resolveLink(href)
		if target == "" {
			return true
		}
		results = append(results, Result{
			Title:   strings.TrimSpace(link.Text()),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
			URL:     target,
			Source:  host,
		})
		return true
	})
	return results
}

// resolveLink unwraps DuckDuckGo's redirect links (the uddg parameter)
// and returns the target with its hostname.
func resolveLink(href string) (string, string) {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		if u, err = url.Parse(target); err != nil {
			return "", ""
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ""
	}
	return u.String(), u.Hostname()
}
