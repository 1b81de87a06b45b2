package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flemzord/reddichat/internal/storage"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.recoverer)
	r.Use(g.instrument)
	r.Use(g.cors)

	// Public.
	r.Get("/health", g.handleHealth())
	r.Method(http.MethodGet, "/metrics", g.deps.Metrics.Handler())
	if local, ok := g.deps.Storage.(*storage.Local); ok {
		r.Handle("/files/*", http.StripPrefix("/files", local.Handler()))
	}

	r.Route("/api", func(r chi.Router) {
		// The stream endpoint answers auth failures as an SSE error event.
		r.With(g.requireUser(true)).Post("/chat/stream", g.handleChatStream())

		r.Group(func(r chi.Router) {
			r.Use(g.requireUser(false))

			r.Post("/chat", g.handleChat())
			r.Get("/chat/ws", g.handleChatWebSocket())
			r.Get("/chat/conversations", g.handleListConversations())
			r.Route("/chat/history/{id}", func(r chi.Router) {
				r.Get("/", g.handleGetConversation())
				r.Delete("/", g.handleDeleteConversation())
				r.Patch("/", g.handleRenameConversation())
			})

			r.Post("/upload", g.handleUpload())
			r.Get("/files/{id}", g.handleFile())

			r.Route("/reddit/user/{username}", func(r chi.Router) {
				r.Get("/", g.handleRedditUser())
				r.Get("/posts", g.handleRedditPosts())
				r.Get("/comments", g.handleRedditComments())
			})
			r.Get("/user-searches", g.handleListUserSearches())
			r.Post("/user-searches", g.handleRecordUserSearch())
		})
	})

	return r
}
