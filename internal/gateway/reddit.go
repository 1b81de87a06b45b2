package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/reddichat/internal/reddit"
	"github.com/flemzord/reddichat/internal/store"
)

// Profile listing page sizes.
const (
	defaultListingLimit = 15
	maxListingLimit     = 100
)

// redditError writes the response for a failed profile lookup.
func (g *Gateway) redditError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, reddit.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, reddit.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "Invalid Reddit username")
	case errors.Is(err, reddit.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Reddit API rate limit exceeded. Please try again in a few minutes.")
	default:
		g.logger.Error("reddit lookup failed", "what", what, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch Reddit user "+what)
	}
}

// redditUsername validates the {username} path parameter. It writes the
// error response itself and returns "" on failure.
func (g *Gateway) redditUsername(w http.ResponseWriter, r *http.Request) string {
	if g.deps.Reddit == nil {
		writeError(w, http.StatusServiceUnavailable, "Reddit is not configured")
		return ""
	}
	name := strings.TrimPrefix(strings.TrimSpace(chi.URLParam(r, "username")), "u/")
	if name == "" {
		writeError(w, http.StatusBadRequest, "Username is required")
		return ""
	}
	if !reddit.ValidUsername(name) {
		writeError(w, http.StatusBadRequest, "Invalid Reddit username")
		return ""
	}
	return name
}

// handleRedditUser serves GET /api/reddit/user/{username}.
func (g *Gateway) handleRedditUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := g.redditUsername(w, r)
		if name == "" {
			return
		}
		user, err := g.deps.Reddit.User(r.Context(), name)
		if err != nil {
			g.redditError(w, err, "data")
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// handleRedditPosts serves GET /api/reddit/user/{username}/posts.
func (g *Gateway) handleRedditPosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := g.redditUsername(w, r)
		if name == "" {
			return
		}
		limit := min(queryInt(r, "limit", defaultListingLimit), maxListingLimit)
		page, err := g.deps.Reddit.UserPosts(r.Context(), name, r.URL.Query().Get("after"), limit)
		if err != nil {
			g.redditError(w, err, "posts")
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// handleRedditComments serves GET /api/reddit/user/{username}/comments.
func (g *Gateway) handleRedditComments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := g.redditUsername(w, r)
		if name == "" {
			return
		}
		limit := min(queryInt(r, "limit", defaultListingLimit), maxListingLimit)
		page, err := g.deps.Reddit.UserComments(r.Context(), name, r.URL.Query().Get("after"), limit)
		if err != nil {
			g.redditError(w, err, "comments")
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// handleListUserSearches serves GET /api/user-searches?q=prefix.
func (g *Gateway) handleListUserSearches() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := strings.TrimSpace(r.URL.Query().Get("q"))
		searches, err := g.deps.Store.UserSearches(r.Context(), userID(r), prefix, store.MaxUserSearches)
		if err != nil {
			g.logger.Error("listing user searches failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch search history")
			return
		}
		if searches == nil {
			searches = []store.UserSearch{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"searches": searches})
	}
}

// handleRecordUserSearch serves POST /api/user-searches.
func (g *Gateway) handleRecordUserSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			RedditUsername string `json:"redditUsername"`
			RedditAvatar   string `json:"redditAvatar"`
			RedditKarma    *int   `json:"redditKarma"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		name := strings.TrimSpace(in.RedditUsername)
		if name == "" {
			writeError(w, http.StatusBadRequest, "redditUsername is required")
			return
		}

		rec, err := g.deps.Store.RecordUserSearch(r.Context(), store.UserSearch{
			UserID:         userID(r),
			RedditUsername: name,
			RedditAvatar:   in.RedditAvatar,
			RedditKarma:    in.RedditKarma,
		})
		if err != nil {
			g.logger.Error("recording user search failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to record search")
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}
