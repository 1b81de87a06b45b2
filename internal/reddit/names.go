package reddit

import (
	"fmt"
	"net/url"
	"regexp"
)

var (
	subredditName = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)
	usernameName  = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)
)

// ValidSubreddit reports whether name is a well-formed subreddit name,
// without any "r/" prefix.
func ValidSubreddit(name string) bool { return subredditName.MatchString(name) }

// ValidUsername reports whether name is a well-formed Reddit username,
// without any "u/" prefix.
func ValidUsername(name string) bool { return usernameName.MatchString(name) }

// userPath builds /user/{name}/{suffix} for a checked username.
func userPath(name, suffix string) (string, error) {
	if !ValidUsername(name) {
		return "", fmt.Errorf("%w: username %q", ErrInvalidName, name)
	}
	return "/user/" + url.PathEscape(name) + "/" + suffix, nil
}
