package reddit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// earlyRefresh renews a token this long before it actually expires.
const earlyRefresh = 60 * time.Second

// deviceID is the value Reddit expects for anonymous app-only tokens.
const deviceID = "DO_NOT_TRACK_THIS_DEVICE"

// TokenCache holds the current app-only access token and refreshes it on
// demand. Concurrent callers share a single refresh.
type TokenCache struct {
	mu     sync.Mutex
	oauth  clientcredentials.Config
	client *http.Client
	token  *oauth2.Token
	now    func() time.Time
}

// NewTokenCache builds a cache for the credentials in cfg. Token requests
// go through httpClient.
func NewTokenCache(cfg Config, httpClient *http.Client) *TokenCache {
	cfg = cfg.withDefaults()
	return &TokenCache{
		oauth: clientcredentials.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			TokenURL:       cfg.TokenURL,
			EndpointParams: url.Values{"device_id": {deviceID}},
			AuthStyle:      oauth2.AuthStyleInHeader,
		},
		client: httpClient,
		now:    time.Now,
	}
}

// Valid reports whether the cached token can be used for at least
// another minute.
func (c *TokenCache) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validLocked()
}

func (c *TokenCache) validLocked() bool {
	if c.token == nil || c.token.AccessToken == "" {
		return false
	}
	if c.token.Expiry.IsZero() {
		return true
	}
	return c.now().Add(earlyRefresh).Before(c.token.Expiry)
}

// Token returns a usable token, fetching a new one when needed.
func (c *TokenCache) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.validLocked() {
		return c.token, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	tok, err := c.oauth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching access token: %w", ErrAuth, err)
	}
	c.token = tok
	return tok, nil
}
