package provider

import "errors"

// Sentinel errors for provider operations.
var (
	// ErrRateLimit indicates the provider returned a rate limit response.
	ErrRateLimit = errors.New("provider rate limited")

	// ErrContextLength indicates the request exceeded the model's context window.
	ErrContextLength = errors.New("context length exceeded")

	// ErrProviderDown indicates the provider is temporarily unavailable.
	ErrProviderDown = errors.New("provider unavailable")

	// ErrAuth indicates the provider rejected the configured credentials.
	ErrAuth = errors.New("provider authentication failed")
)

// IsRetryable reports whether the error is transient and the request
// can be retried after a delay.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown)
}

// UserMessage maps a provider failure to text that is safe to show an end
// user. Unknown errors collapse to a generic message.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrRateLimit):
		return "The AI service is busy right now. Please try again in a moment."
	case errors.Is(err, ErrProviderDown):
		return "The AI service is temporarily unavailable. Please try again later."
	case errors.Is(err, ErrContextLength):
		return "This conversation is too long for the model. Please start a new conversation."
	case errors.Is(err, ErrAuth):
		return "The AI service is misconfigured."
	default:
		return "An error occurred"
	}
}
