package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/flemzord/reddichat/internal/provider"
)

const healthCheckTimeout = 5 * time.Second

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"` // "ok" or "degraded"
	Uptime   string `json:"uptime,omitempty"`
	Store    string `json:"store"`
	Provider string `json:"provider,omitempty"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when the store answers (and the provider, if checked), 503
// otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := HealthResponse{Status: "ok", Store: "ok"}
		if !g.startedAt.IsZero() {
			resp.Uptime = time.Since(g.startedAt).Truncate(time.Second).String()
		}

		if err := g.deps.Store.Ping(ctx); err != nil {
			g.logger.Warn("health: store ping failed", "error", err)
			resp.Store = "error"
			resp.Status = "degraded"
		}

		if g.config.CheckProvider {
			if hc, ok := g.deps.Provider.(provider.HealthChecker); ok {
				resp.Provider = "ok"
				if err := hc.HealthCheck(ctx); err != nil {
					g.logger.Warn("health: provider check failed", "error", err)
					resp.Provider = "error"
					resp.Status = "degraded"
				}
			}
		}

		status := http.StatusOK
		if resp.Status == "degraded" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
