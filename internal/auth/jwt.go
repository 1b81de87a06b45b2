package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds session token settings.
type Config struct {
	Secret   string `yaml:"jwt_secret"`
	Issuer   string `yaml:"issuer"`
	TokenTTL string `yaml:"token_ttl"`
}

// claims is the token payload. The user id travels in "sub".
type claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWT verifies and issues HS256 session tokens.
type JWT struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

var _ Authenticator = (*JWT)(nil)

// minSecretLen is the shortest accepted HMAC secret.
const minSecretLen = 32

// NewJWT validates cfg and returns a token verifier.
func NewJWT(cfg Config) (*JWT, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("auth: jwt_secret must be at least %d bytes", minSecretLen)
	}
	ttl := 24 * time.Hour
	if cfg.TokenTTL != "" {
		d, err := time.ParseDuration(cfg.TokenTTL)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("auth: invalid token_ttl %q", cfg.TokenTTL)
		}
		ttl = d
	}
	return &JWT{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Authenticate parses and verifies token.
func (j *JWT) Authenticate(_ context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return User{ID: c.Subject, Email: c.Email, Name: c.Name}, nil
}

// Issue signs a token for u valid for ttl, or the configured TTL when ttl
// is zero.
func (j *JWT) Issue(u User, ttl time.Duration) (string, error) {
	if u.ID == "" {
		return "", errors.New("auth: user id is required")
	}
	if ttl <= 0 {
		ttl = j.ttl
	}
	now := j.now()
	c := claims{
		Email: u.Email,
		Name:  u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
