// Package source turns search tool results into citations attached to
// assistant messages.
package source

import (
	"encoding/json"

	"github.com/flemzord/reddichat/internal/tools"
)

// Type discriminates citation kinds.
type Type string

// Citation kinds.
const (
	TypeReddit Type = "reddit"
	TypeWeb    Type = "web"
)

// Source is a citation. Reddit sources fill Subreddit, Author, Score and
// NumComments; web sources fill Snippet and Source.
type Source struct {
	Type  Type   `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`

	Subreddit   string `json:"subreddit,omitempty"`
	Author      string `json:"author,omitempty"`
	Score       int    `json:"score,omitempty"`
	NumComments int    `json:"num_comments,omitempty"`

	Snippet string `json:"snippet,omitempty"`
	Source  string `json:"source,omitempty"`
}

type redditJSON struct {
	Type        Type   `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Subreddit   string `json:"subreddit"`
	Author      string `json:"author"`
	Score       int    `json:"score"`
	NumComments int    `json:"num_comments"`
}

type webJSON struct {
	Type    Type   `json:"type"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// MarshalJSON emits exactly the fields of the source's kind.
func (s Source) MarshalJSON() ([]byte, error) {
	if s.Type == TypeReddit {
		return json.Marshal(redditJSON{s.Type, s.Title, s.URL, s.Subreddit, s.Author, s.Score, s.NumComments})
	}
	return json.Marshal(webJSON{s.Type, s.Title, s.URL, s.Snippet, s.Source})
}

// ToolResult is the typed output of one tool call.
type ToolResult struct {
	Name string
	Data any
}

// Known reports whether results of the named tool produce citations.
func Known(name string) bool {
	return name == tools.SearchRedditName || name == tools.WebSearchName
}

// Extract derives citations from tool results, preserving order. Results
// from other tools or with unexpected payloads are skipped.
func Extract(results []ToolResult) []Source {
	sources := []Source{}
	for _, r := range results {
		switch r.Name {
		case tools.SearchRedditName:
			sources = append(sources, fromReddit(r.Data)...)
		case tools.WebSearchName:
			sources = append(sources, fromWeb(r.Data)...)
		}
	}
	return sources
}

func fromReddit(data any) []Source {
	var res tools.RedditResult
	switch v := data.(type) {
	case tools.RedditResult:
		res = v
	case *tools.RedditResult:
		if v == nil {
			return nil
		}
		res = *v
	default:
		return nil
	}

	out := make([]Source, 0, len(res.Posts))
	for _, p := range res.Posts {
		out = append(out, Source{
			Type:        TypeReddit,
			Title:       p.Title,
			URL:         p.Permalink,
			Subreddit:   p.Subreddit,
			Author:      p.Author,
			Score:       p.Score,
			NumComments: p.NumComments,
		})
	}
	return out
}

func fromWeb(data any) []Source {
	var res tools.WebResult
	switch v := data.(type) {
	case tools.WebResult:
		res = v
	case *tools.WebResult:
		if v == nil {
			return nil
		}
		res = *v
	default:
		return nil
	}

	out := make([]Source, 0, len(res.Results))
	for _, r := range res.Results {
		out = append(out, Source{
			Type:    TypeWeb,
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Snippet,
			Source:  r.Source,
		})
	}
	return out
}
