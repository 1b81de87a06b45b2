package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/flemzord/reddichat/internal/reddit"
	"github.com/flemzord/reddichat/internal/tool"
)

// RedditSearcher is the slice of reddit.Client the search tool needs.
type RedditSearcher interface {
	Search(ctx context.Context, p reddit.SearchParams) ([]reddit.Post, error)
}

// Messages surfaced to the model when Reddit fails.
const (
	redditRateLimitMessage = "Reddit API rate limit exceeded. Please try again in a few minutes."
	redditFailurePrefix    = "Reddit search failed: "
)

// RedditResult is the search_reddit result. Error is set on failure, in
// which case Posts is empty.
type RedditResult struct {
	Query        string             `json:"query"`
	ResultsCount int                `json:"results_count"`
	Posts        []reddit.Post      `json:"posts"`
	SearchParams RedditSearchParams `json:"search_params"`
	Error        string             `json:"error,omitempty"`
}

// RedditSearchParams echoes the effective search parameters.
type RedditSearchParams struct {
	Subreddits []string `json:"subreddits"`
	TimeFilter string   `json:"time_filter"`
	Limit      int      `json:"limit"`
}

type searchRedditArgs struct {
	Query      string   `json:"query"`
	Subreddits []string `json:"subreddits,omitempty"`
	Limit      *int     `json:"limit,omitempty"`
	TimeFilter string   `json:"time_filter,omitempty"`
}

// SearchReddit implements the search_reddit tool.
type SearchReddit struct {
	client RedditSearcher
	cfg    Config
	logger *slog.Logger
}

// NewSearchReddit creates the search_reddit tool.
func NewSearchReddit(client RedditSearcher, cfg Config, logger *slog.Logger) *SearchReddit {
	return &SearchReddit{client: client, cfg: cfg.withDefaults(), logger: orDiscard(logger)}
}

func (t *SearchReddit) Name() string { return SearchRedditName }

func (t *SearchReddit) Description() string {
	return "Search Reddit for posts related to the query with optional subreddit filtering. " +
		"Useful for finding recent discussions, opinions and community experience."
}

func (t *SearchReddit) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search term or question to find relevant Reddit posts."},
			"subreddits": {"type": "array", "items": {"type": "string"}, "description": "Optional subreddit names to search in, e.g. [\"golang\", \"programming\"]."},
			"limit": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Maximum number of results (default 5, max 10)."},
			"time_filter": {"type": "string", "enum": ["day", "week", "month", "year", "all"], "description": "Time period to search within (default month)."}
		},
		"required": ["query"]
	}`)
}

func (t *SearchReddit) Execute(ctx context.Context, args json.RawMessage) (tool.Output, error) {
	var a searchRedditArgs
	if err := decodeArgs(args, &a); err != nil {
		return output(RedditResult{Posts: []reddit.Post{}, Error: err.Error()}, true)
	}

	tf := reddit.TimeFilter(a.TimeFilter)
	if !tf.Valid() {
		tf = reddit.TimeMonth
	}
	subs, dropped := cleanSubreddits(a.Subreddits)
	if len(dropped) > 0 {
		t.logger.Warn("dropping malformed subreddit names", "names", dropped)
	}
	limit := t.cfg.clamp(a.Limit)

	result := RedditResult{
		Query: a.Query,
		Posts: []reddit.Post{},
		SearchParams: RedditSearchParams{
			Subreddits: subs,
			TimeFilter: string(tf),
			Limit:      limit,
		},
	}
	if len(subs) == 0 {
		result.SearchParams.Subreddits = []string{"all"}
	}

	if strings.TrimSpace(a.Query) == "" {
		result.Error = "invalid arguments: query is required"
		return output(result, true)
	}
	if len(subs) == 0 && len(dropped) > 0 {
		result.SearchParams.Subreddits = []string{}
		result.Error = "invalid arguments: no valid subreddit names in " + strings.Join(dropped, ", ")
		return output(result, true)
	}

	posts, err := t.client.Search(ctx, reddit.SearchParams{
		Query:      a.Query,
		Subreddits: subs,
		Limit:      limit,
		TimeFilter: tf,
	})
	if err != nil {
		t.logger.Warn("reddit search failed", "error", err)
		if errors.Is(err, reddit.ErrRateLimited) {
			result.Error = redditRateLimitMessage
		} else {
			result.Error = redditFailurePrefix + err.Error()
		}
		return output(result, true)
	}

	if len(posts) > limit {
		posts = posts[:limit]
	}
	result.Posts = posts
	result.ResultsCount = len(posts)
	return output(result, false)
}

// cleanSubreddits trims names and strips an "r/" prefix. Blanks are
// ignored; names Reddit would not accept are returned in dropped.
func cleanSubreddits(in []string) (subs, dropped []string) {
	for _, s := range in {
		s = strings.TrimSpace(s)
		s = strings.TrimPrefix(strings.TrimPrefix(s, "/"), "r/")
		switch {
		case s == "":
		case reddit.ValidSubreddit(s):
			subs = append(subs, s)
		default:
			dropped = append(dropped, s)
		}
	}
	return subs, dropped
}
