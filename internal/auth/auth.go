// Package auth authenticates API callers from bearer session tokens and
// carries the authenticated user through request contexts.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Sentinel errors.
var (
	// ErrUnauthenticated is returned when no credentials were presented.
	ErrUnauthenticated = errors.New("auth: unauthenticated")

	// ErrInvalidToken is returned for malformed, expired or forged tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// User is the authenticated principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Authenticator resolves a presented token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (User, error)
}

type ctxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the user stored in ctx, if any.
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok && u.ID != ""
}

// UserIDFrom returns the id of the user stored in ctx, if any.
func UserIDFrom(ctx context.Context) (string, bool) {
	u, ok := UserFrom(ctx)
	return u.ID, ok
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
// Browsers cannot set headers on WebSocket upgrades, so a "token" query
// parameter is accepted as a fallback.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}
