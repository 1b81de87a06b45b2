package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	maxPostText    = 200
	maxCommentText = 300

	// DefaultPageSize is the listing size used when none is given.
	DefaultPageSize = 15
	// ProfilePageSize is the listing size used by Profile.
	ProfilePageSize = 10
)

// User fetches a public profile.
func (c *Client) User(ctx context.Context, name string) (User, error) {
	var au apiUser
	path, err := userPath(name, "about")
	if err != nil {
		return User{}, err
	}
	if err := c.get(ctx, path, nil, &au); err != nil {
		return User{}, err
	}
	d := au.Data
	u := User{
		Name:             d.Name,
		ID:               d.ID,
		Created:          isoTime(d.CreatedUTC),
		LinkKarma:        d.LinkKarma,
		CommentKarma:     d.CommentKarma,
		TotalKarma:       d.LinkKarma + d.CommentKarma,
		IsVerified:       d.Verified,
		HasVerifiedEmail: d.HasVerifiedEmail,
		IconImg:          d.IconImg,
	}
	if d.Subreddit != nil {
		u.Subreddit = &UserSubreddit{Title: d.Subreddit.Title, Description: d.Subreddit.PublicDescription}
	}
	return u, nil
}

func listingQuery(after string, limit int) url.Values {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "new")
	if after != "" {
		q.Set("after", after)
	}
	return q
}

// UserPosts lists a user's submissions, newest first.
func (c *Client) UserPosts(ctx context.Context, name, after string, limit int) (Page[UserPost], error) {
	var l listing
	path, err := userPath(name, "submitted")
	if err != nil {
		return Page[UserPost]{}, err
	}
	if err := c.get(ctx, path, listingQuery(after, limit), &l); err != nil {
		return Page[UserPost]{}, err
	}

	page := Page[UserPost]{Items: make([]UserPost, 0, len(l.Data.Children))}
	for _, child := range l.Data.Children {
		var ap apiPost
		if err := json.Unmarshal(child.Data, &ap); err != nil {
			return Page[UserPost]{}, fmt.Errorf("reddit: decoding post: %w", err)
		}
		page.Items = append(page.Items, toUserPost(ap))
	}
	setCursor(&page.After, &page.HasMore, l.Data.After)
	return page, nil
}

// UserComments lists a user's comments, newest first.
func (c *Client) UserComments(ctx context.Context, name, after string, limit int) (Page[UserComment], error) {
	var l listing
	path, err := userPath(name, "comments")
	if err != nil {
		return Page[UserComment]{}, err
	}
	if err := c.get(ctx, path, listingQuery(after, limit), &l); err != nil {
		return Page[UserComment]{}, err
	}

	page := Page[UserComment]{Items: make([]UserComment, 0, len(l.Data.Children))}
	for _, child := range l.Data.Children {
		var ac apiComment
		if err := json.Unmarshal(child.Data, &ac); err != nil {
			return Page[UserComment]{}, fmt.Errorf("reddit: decoding comment: %w", err)
		}
		page.Items = append(page.Items, UserComment{
			ID:        ac.ID,
			Fullname:  ac.Name,
			Body:      truncate(ac.Body, maxCommentText),
			Subreddit: ac.Subreddit,
			Score:     ac.Score,
			Created:   isoTime(ac.CreatedUTC),
			Permalink: permalinkBase + ac.Permalink,
			LinkTitle: ac.LinkTitle,
		})
	}
	setCursor(&page.After, &page.HasMore, l.Data.After)
	return page, nil
}

func setCursor(after *string, hasMore *bool, next *string) {
	if next != nil && *next != "" {
		*after = *next
		*hasMore = true
	}
}

// Profile fetches the user, their latest posts and latest comments
// concurrently. A failure of any part fails the whole call.
func (c *Client) Profile(ctx context.Context, name string) (Profile, error) {
	var p Profile
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		u, err := c.User(ctx, name)
		p.User = u
		return err
	})
	g.Go(func() error {
		page, err := c.UserPosts(ctx, name, "", ProfilePageSize)
		p.Posts = page.Items
		return err
	})
	g.Go(func() error {
		page, err := c.UserComments(ctx, name, "", ProfilePageSize)
		p.Comments = page.Items
		return err
	})

	if err := g.Wait(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func toUserPost(ap apiPost) UserPost {
	up := UserPost{
		ID:          ap.ID,
		Fullname:    ap.Name,
		Title:       ap.Title,
		Selftext:    truncate(ap.Selftext, maxPostText),
		Subreddit:   ap.Subreddit,
		Score:       ap.Score,
		NumComments: ap.NumComments,
		Created:     isoTime(ap.CreatedUTC),
		Permalink:   permalinkBase + ap.Permalink,
		URL:         ap.URL,
		IsNSFW:      ap.Over18,
		Media:       extractMedia(ap),
		IsVideo:     ap.IsVideo,
	}
	if validThumbnail(ap.Thumbnail) {
		up.Thumbnail = ap.Thumbnail
	}
	for _, m := range []*apiMedia{ap.Media, ap.SecureMedia} {
		if m != nil && m.RedditVideo != nil && m.RedditVideo.FallbackURL != "" {
			up.VideoURL = m.RedditVideo.FallbackURL
			break
		}
	}
	return up
}

var placeholderThumbnails = []string{"self", "default", "nsfw", "spoiler", "image", ""}

func validThumbnail(t string) bool {
	return !slices.Contains(placeholderThumbnails, t) && strings.HasPrefix(t, "http")
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// extractMedia collects post images, preferring gallery items, then preview
// images, then a direct image link.
func extractMedia(ap apiPost) []MediaItem {
	media := []MediaItem{}

	if ap.IsGallery && ap.MediaMetadata != nil && ap.GalleryData != nil {
		for _, item := range ap.GalleryData.Items {
			meta, ok := ap.MediaMetadata[item.MediaID]
			if !ok || meta.S == nil {
				continue
			}
			u := meta.S.U
			if u == "" {
				u = meta.S.GIF
			}
			if u == "" {
				continue
			}
			media = append(media, MediaItem{URL: unescapeAmp(u), Width: meta.S.X, Height: meta.S.Y})
		}
	}

	if len(media) == 0 && ap.Preview != nil {
		for _, img := range ap.Preview.Images {
			if img.Source == nil || img.Source.URL == "" {
				continue
			}
			media = append(media, MediaItem{
				URL:    unescapeAmp(img.Source.URL),
				Width:  img.Source.Width,
				Height: img.Source.Height,
			})
		}
	}

	if len(media) == 0 && ap.URL != "" {
		lower := strings.ToLower(ap.URL)
		for _, ext := range imageExtensions {
			if strings.Contains(lower, ext) {
				media = append(media, MediaItem{URL: ap.URL})
				break
			}
		}
	}

	return media
}

func unescapeAmp(s string) string {
	return strings.ReplaceAll(s, "&amp;", "&")
}
