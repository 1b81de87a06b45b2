package gateway

import (
	"net"
	"net/http"

	"github.com/flemzord/reddichat/internal/auth"
	"github.com/flemzord/reddichat/internal/security"
)

// requireUser authenticates the bearer token and stores the user in the
// request context. With sse set, failures are written as a stream error
// event instead of a JSON body. Repeated failures from one address are
// rate limited through the "auth" bucket.
func (g *Gateway) requireUser(sse bool) func(http.Handler) http.Handler {
	fail := func(w http.ResponseWriter, status int, msg string) {
		if sse {
			writeSSEError(w, status, msg)
			return
		}
		writeError(w, status, msg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r)
			if token == "" {
				g.authFailed(w, r, fail, "missing bearer token")
				return
			}

			user, err := g.deps.Auth.Authenticate(r.Context(), token)
			if err != nil {
				g.authFailed(w, r, fail, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}

func (g *Gateway) authFailed(w http.ResponseWriter, r *http.Request, fail func(http.ResponseWriter, int, string), detail string) {
	emitAuthEvent(g.deps.Audit, security.EventAuthFailure, r, detail)
	if g.deps.Limiter != nil {
		if err := g.deps.Limiter.Allow(security.KindAuth, clientIP(r)); err != nil {
			fail(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
	}
	fail(w, http.StatusUnauthorized, "Unauthorized")
}

// emitAuthEvent logs an auth event to the audit logger if available.
func emitAuthEvent(logger *security.AuditLogger, eventType security.EventType, r *http.Request, detail string) {
	if logger == nil {
		return
	}
	logger.Log(security.AuditEvent{
		Type:       eventType,
		RemoteAddr: clientIP(r),
		Detail:     detail,
		Metadata: map[string]string{
			"method": r.Method,
			"path":   r.URL.Path,
		},
	})
}

// userID returns the authenticated caller. Routes behind requireUser
// always have one.
func userID(r *http.Request) string {
	id, _ := auth.UserIDFrom(r.Context())
	return id
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
