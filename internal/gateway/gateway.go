// Package gateway serves the chat HTTP API: SSE and WebSocket chat
// streams, conversation history, uploads, Reddit profile lookups, health
// and metrics.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/reddichat/internal/auth"
	"github.com/flemzord/reddichat/internal/chat"
	"github.com/flemzord/reddichat/internal/core"
	"github.com/flemzord/reddichat/internal/provider"
	"github.com/flemzord/reddichat/internal/reddit"
	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/storage"
	"github.com/flemzord/reddichat/internal/store"
	"github.com/flemzord/reddichat/internal/telemetry"
)

// RedditProfiles looks up public Reddit accounts.
type RedditProfiles interface {
	User(ctx context.Context, name string) (reddit.User, error)
	UserPosts(ctx context.Context, name, after string, limit int) (reddit.Page[reddit.UserPost], error)
	UserComments(ctx context.Context, name, after string, limit int) (reddit.Page[reddit.UserComment], error)
}

// Deps are the services behind the routes. Storage, Reddit and Provider
// are optional; their routes degrade when nil.
type Deps struct {
	Chat     *chat.Service
	Store    store.Store
	Storage  storage.Uploader
	Auth     auth.Authenticator
	Reddit   RedditProfiles
	Provider provider.Provider
	Limiter  *security.RateLimiter
	Audit    *security.AuditLogger
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// Gateway is the HTTP server. It takes part in the app lifecycle as a
// module.
type Gateway struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

var (
	_ core.Starter = (*Gateway)(nil)
	_ core.Stopper = (*Gateway)(nil)
)

// New builds a Gateway.
func New(cfg Config, deps Deps) (*Gateway, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Chat == nil || deps.Store == nil || deps.Auth == nil {
		return nil, errors.New("gateway: chat, store and auth are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		config: cfg,
		deps:   deps,
		logger: logger.With("component", "gateway"),
	}, nil
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "gateway.http"}
}

// Handler returns the routed handler without starting a listener.
func (g *Gateway) Handler() http.Handler {
	return g.buildRouter()
}

// Start implements core.Starter.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:              g.config.Bind,
		Handler:           g.buildRouter(),
		ReadHeaderTimeout: g.config.ReadTimeout,
		WriteTimeout:      g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
