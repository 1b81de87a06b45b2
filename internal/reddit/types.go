package reddit

import (
	"encoding/json"
	"time"
)

// Post is a search hit, shaped for the model and for citations.
type Post struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	URL         string `json:"url"`
	Subreddit   string `json:"subreddit"`
	Author      string `json:"author"`
	Score       int    `json:"score"`
	NumComments int    `json:"num_comments"`
	CreatedUTC  string `json:"created_utc"`
	Permalink   string `json:"permalink"`
	IsNSFW      bool   `json:"is_nsfw"`
}

// TimeFilter restricts search results to a period.
type TimeFilter string

// TimeFilter values accepted by the search endpoint.
const (
	TimeDay   TimeFilter = "day"
	TimeWeek  TimeFilter = "week"
	TimeMonth TimeFilter = "month"
	TimeYear  TimeFilter = "year"
	TimeAll   TimeFilter = "all"
)

// Valid reports whether f is a known filter.
func (f TimeFilter) Valid() bool {
	switch f {
	case TimeDay, TimeWeek, TimeMonth, TimeYear, TimeAll:
		return true
	}
	return false
}

// SearchParams describes a search. Empty Subreddits searches r/all.
type SearchParams struct {
	Query      string
	Subreddits []string
	Limit      int
	TimeFilter TimeFilter
}

// User is a public Reddit profile.
type User struct {
	Name             string         `json:"name"`
	ID               string         `json:"id"`
	Created          string         `json:"created"`
	LinkKarma        int            `json:"linkKarma"`
	CommentKarma     int            `json:"commentKarma"`
	TotalKarma       int            `json:"totalKarma"`
	IsVerified       bool           `json:"isVerified"`
	HasVerifiedEmail bool           `json:"hasVerifiedEmail"`
	IconImg          string         `json:"iconImg"`
	Subreddit        *UserSubreddit `json:"subreddit,omitempty"`
}

// UserSubreddit is the profile subreddit attached to a user.
type UserSubreddit struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// MediaItem is an image attached to a post.
type MediaItem struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// UserPost is a submission listed on a user profile.
type UserPost struct {
	ID          string      `json:"id"`
	Fullname    string      `json:"fullname"`
	Title       string      `json:"title"`
	Selftext    string      `json:"selftext"`
	Subreddit   string      `json:"subreddit"`
	Score       int         `json:"score"`
	NumComments int         `json:"numComments"`
	Created     string      `json:"created"`
	Permalink   string      `json:"permalink"`
	URL         string      `json:"url"`
	IsNSFW      bool        `json:"isNsfw"`
	Thumbnail   string      `json:"thumbnail,omitempty"`
	Media       []MediaItem `json:"media"`
	IsVideo     bool        `json:"isVideo"`
	VideoURL    string      `json:"videoUrl,omitempty"`
}

// UserComment is a comment listed on a user profile.
type UserComment struct {
	ID        string `json:"id"`
	Fullname  string `json:"fullname"`
	Body      string `json:"body"`
	Subreddit string `json:"subreddit"`
	Score     int    `json:"score"`
	Created   string `json:"created"`
	Permalink string `json:"permalink"`
	LinkTitle string `json:"linkTitle"`
}

// Page is one page of a listing. After is the cursor for the next page.
type Page[T any] struct {
	Items   []T    `json:"items"`
	After   string `json:"after,omitempty"`
	HasMore bool   `json:"hasMore"`
}

// Profile bundles a user with their latest posts and comments.
type Profile struct {
	User     User          `json:"user"`
	Posts    []UserPost    `json:"posts"`
	Comments []UserComment `json:"comments"`
}

// Wire types for the listing and about endpoints.

type listing struct {
	Data struct {
		After    *string `json:"after"`
		Children []struct {
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type apiPost struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Title         string             `json:"title"`
	Selftext      string             `json:"selftext"`
	URL           string             `json:"url"`
	Subreddit     string             `json:"subreddit"`
	Author        string             `json:"author"`
	Score         int                `json:"score"`
	NumComments   int                `json:"num_comments"`
	CreatedUTC    float64            `json:"created_utc"`
	Permalink     string             `json:"permalink"`
	Over18        bool               `json:"over_18"`
	Thumbnail     string             `json:"thumbnail"`
	IsVideo       bool               `json:"is_video"`
	IsGallery     bool               `json:"is_gallery"`
	MediaMetadata map[string]apiMeta `json:"media_metadata"`
	GalleryData   *struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`
	Preview *struct {
		Images []struct {
			Source *apiImage `json:"source"`
		} `json:"images"`
	} `json:"preview"`
	Media       *apiMedia `json:"media"`
	SecureMedia *apiMedia `json:"secure_media"`
}

type apiMeta struct {
	S *struct {
		U   string `json:"u"`
		GIF string `json:"gif"`
		X   int    `json:"x"`
		Y   int    `json:"y"`
	} `json:"s"`
}

type apiImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type apiMedia struct {
	RedditVideo *struct {
		FallbackURL string `json:"fallback_url"`
	} `json:"reddit_video"`
}

type apiComment struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Body       string  `json:"body"`
	Subreddit  string  `json:"subreddit"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
	Permalink  string  `json:"permalink"`
	LinkTitle  string  `json:"link_title"`
}

type apiUser struct {
	Data struct {
		Name             string  `json:"name"`
		ID               string  `json:"id"`
		CreatedUTC       float64 `json:"created_utc"`
		LinkKarma        int     `json:"link_karma"`
		CommentKarma     int     `json:"comment_karma"`
		Verified         bool    `json:"verified"`
		HasVerifiedEmail bool    `json:"has_verified_email"`
		IconImg          string  `json:"icon_img"`
		Subreddit        *struct {
			Title             string `json:"title"`
			PublicDescription string `json:"public_description"`
		} `json:"subreddit"`
	} `json:"data"`
}

// isoTime renders a unix timestamp in seconds as RFC 3339 UTC with
// millisecond precision.
func isoTime(sec float64) string {
	ms := int64(sec * 1000)
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}
