package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/tool"
	"github.com/flemzord/reddichat/internal/websearch"
)

const webFailurePrefix = "Web search failed: "

// WebResult is the web_search result. Error is set on failure, in which
// case Results is empty.
type WebResult struct {
	Query        string             `json:"query"`
	ResultsCount int                `json:"results_count"`
	Results      []websearch.Result `json:"results"`
	Error        string             `json:"error,omitempty"`
}

type webSearchArgs struct {
	Query      string `json:"query"`
	NumResults *int   `json:"num_results,omitempty"`
}

// WebSearch implements the web_search tool.
type WebSearch struct {
	searcher websearch.Searcher
	filter   *security.DomainFilter
	cfg      Config
	logger   *slog.Logger
}

// NewWebSearch creates the web_search tool. filter may be nil.
func NewWebSearch(s websearch.Searcher, filter *security.DomainFilter, cfg Config, logger *slog.Logger) *WebSearch {
	return &WebSearch{searcher: s, filter: filter, cfg: cfg.withDefaults(), logger: orDiscard(logger)}
}

func (t *WebSearch) Name() string { return WebSearchName }

func (t *WebSearch) Description() string {
	return "Search the web for current information and news related to the query."
}

func (t *WebSearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search term to find relevant web results."},
			"num_results": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Maximum number of results (default 5, max 10)."}
		},
		"required": ["query"]
	}`)
}

func (t *WebSearch) Execute(ctx context.Context, args json.RawMessage) (tool.Output, error) {
	var a webSearchArgs
	if err := decodeArgs(args, &a); err != nil {
		return output(WebResult{Results: []websearch.Result{}, Error: err.Error()}, true)
	}

	result := WebResult{Query: a.Query, Results: []websearch.Result{}}
	if strings.TrimSpace(a.Query) == "" {
		result.Error = "invalid arguments: query is required"
		return output(result, true)
	}

	n := t.cfg.clamp(a.NumResults)
	hits, err := t.searcher.Search(ctx, a.Query, n)
	if err != nil {
		t.logger.Warn("web search failed", "error", err)
		result.Error = webFailurePrefix + err.Error()
		return output(result, true)
	}

	for _, h := range hits {
		if len(result.Results) == n {
			break
		}
		if !t.filter.Allowed(h.URL) {
			t.logger.Debug("web result dropped by domain filter", "url", h.URL)
			continue
		}
		if h.Source == "" {
			h.Source = hostname(h.URL)
		}
		result.Results = append(result.Results, h)
	}
	result.ResultsCount = len(result.Results)
	return output(result, false)
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
