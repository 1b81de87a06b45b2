// Package tools holds the search tools the chat agent can call.
package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/tool"
	"github.com/flemzord/reddichat/internal/websearch"
)

// Tool names as seen by the model.
const (
	SearchRedditName = "search_reddit"
	WebSearchName    = "web_search"
)

// Result count policy.
const (
	DefaultResults    = 5
	DefaultMaxResults = 10
)

// Config controls result counts.
type Config struct {
	// MaxResults is the upper clamp for requested result counts.
	MaxResults int `yaml:"max_results"`
	// DefaultResults is used when the model does not ask for a count.
	DefaultResults int `yaml:"default_results"`
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.DefaultResults <= 0 {
		c.DefaultResults = DefaultResults
	}
	if c.DefaultResults > c.MaxResults {
		c.DefaultResults = c.MaxResults
	}
	return c
}

// clamp resolves a requested count: nil takes the default, anything else
// is bounded to [1, max].
func (c Config) clamp(n *int) int {
	if n == nil {
		return c.DefaultResults
	}
	return max(1, min(*n, c.MaxResults))
}

// Deps are the backends the tools run against. A tool whose backend is
// nil is not registered.
type Deps struct {
	Reddit RedditSearcher
	Web    websearch.Searcher
	// Filter drops web results pointing at blocked hosts. May be nil.
	Filter *security.DomainFilter
	Config Config
	Logger *slog.Logger
}

// Register adds every tool with a configured backend to registry.
func Register(registry *tool.Registry, deps Deps) error {
	deps.Config = deps.Config.withDefaults()

	var all []tool.Tool
	if deps.Reddit != nil {
		all = append(all, NewSearchReddit(deps.Reddit, deps.Config, deps.Logger))
	}
	if deps.Web != nil {
		all = append(all, NewWebSearch(deps.Web, deps.Filter, deps.Config, deps.Logger))
	}
	for _, t := range all {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

// decodeArgs parses tool arguments after bounding their nesting.
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := security.ValidateJSONDepth(args, 8); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// output renders a tagged result for the model and keeps the typed value
// for citation extraction.
func output(result any, failed bool) (tool.Output, error) {
	content, err := json.Marshal(result)
	if err != nil {
		return tool.Output{}, fmt.Errorf("encoding tool result: %w", err)
	}
	return tool.Output{Content: string(content), IsError: failed, Data: result}, nil
}
