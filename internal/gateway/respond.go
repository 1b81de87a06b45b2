package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flemzord/reddichat/internal/auth"
	"github.com/flemzord/reddichat/internal/chat"
	"github.com/flemzord/reddichat/internal/reddit"
	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/store"
	"github.com/flemzord/reddichat/internal/stream"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeSSEError answers with a single stream error event.
func writeSSEError(w http.ResponseWriter, status int, msg string) {
	sw := stream.NewWriter(w)
	sw.WriteHeader(status)
	_ = sw.Send(stream.Failed(msg))
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, reddit.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrFileTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, chat.ErrNoUser):
		return http.StatusUnauthorized
	case errors.Is(err, security.ErrRateLimited), errors.Is(err, reddit.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, chat.ErrStorageDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(v)
}
