package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	maxSearchText  = 300
	linkPostNotice = "[No text content; this is a link post]"
	deletedAuthor  = "[Deleted]"
)

// Search queries posts across the given subreddits, or r/all when none
// are given. Malformed subreddit names fail with ErrInvalidName before
// any request is made.
func (c *Client) Search(ctx context.Context, p SearchParams) ([]Post, error) {
	subPath := "all"
	restrict := "false"
	for _, name := range p.Subreddits {
		if !ValidSubreddit(name) {
			return nil, fmt.Errorf("%w: subreddit %q", ErrInvalidName, name)
		}
	}
	if len(p.Subreddits) > 0 {
		subPath = strings.Join(p.Subreddits, "+")
		restrict = "true"
	}
	tf := p.TimeFilter
	if !tf.Valid() {
		tf = TimeMonth
	}

	q := url.Values{}
	q.Set("q", p.Query)
	q.Set("sort", "relevance")
	q.Set("t", string(tf))
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("restrict_sr", restrict)

	var l listing
	if err := c.get(ctx, "/r/"+subPath+"/search", q, &l); err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		var ap apiPost
		if err := json.Unmarshal(child.Data, &ap); err != nil {
			return nil, fmt.Errorf("reddit: decoding post: %w", err)
		}
		posts = append(posts, toPost(ap))
	}
	return posts, nil
}

func toPost(ap apiPost) Post {
	text := truncate(ap.Selftext, maxSearchText)
	if text == "" {
		text = linkPostNotice
	}
	author := ap.Author
	if author == "" {
		author = deletedAuthor
	}
	return Post{
		Title:       ap.Title,
		Text:        text,
		URL:         ap.URL,
		Subreddit:   ap.Subreddit,
		Author:      author,
		Score:       ap.Score,
		NumComments: ap.NumComments,
		CreatedUTC:  isoTime(ap.CreatedUTC),
		Permalink:   permalinkBase + ap.Permalink,
		IsNSFW:      ap.Over18,
	}
}

// truncate cuts s to n runes and appends an ellipsis when it was longer.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
