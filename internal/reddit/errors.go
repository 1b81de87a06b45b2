package reddit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors returned by the client.
var (
	ErrRateLimited = errors.New("reddit: rate limit exceeded")
	ErrNotFound    = errors.New("reddit: not found")
	ErrAuth        = errors.New("reddit: authentication failed")
	ErrInvalidName = errors.New("reddit: invalid subreddit or user name")
)

// APIError is a non-2xx response from the Reddit API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Reddit API error: %d - %s", e.StatusCode, e.Body)
}

func mapHTTPError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Body: strings.TrimSpace(string(body))}

	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(strings.ToLower(apiErr.Body), "rate limit"):
		return fmt.Errorf("%w: %w", ErrRateLimited, apiErr)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrAuth, apiErr)
	default:
		return apiErr
	}
}
