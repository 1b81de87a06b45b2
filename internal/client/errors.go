package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors raised while consuming a stream.
var (
	ErrTimeout          = errors.New("client: stream timeout")
	ErrConnectionDead   = errors.New("client: connection appears dead, no data received")
	ErrParse            = errors.New("client: cannot parse server response")
	ErrIncompleteStream = errors.New("client: stream ended without a terminal event")
	ErrEmptyMessage     = errors.New("client: message is empty")
	ErrBusy             = errors.New("client: a message is already streaming")
	ErrNothingToRetry   = errors.New("client: no failed message to retry")
	ErrRetryLimit       = errors.New("client: retry limit reached")
)

// Kind classifies a failed send.
type Kind string

// Failure kinds.
const (
	KindCancelled  Kind = "cancelled"
	KindTimeout    Kind = "timeout"
	KindNetwork    Kind = "network"
	KindParse      Kind = "parse"
	KindConnection Kind = "connection"
	KindServer     Kind = "server"
)

// User-facing failure messages.
const (
	msgCancelled  = "Request was cancelled"
	msgTimeout    = "Request timed out - please try again"
	msgNetwork    = "Network error - please check your connection"
	msgParse      = "Error parsing server response"
	msgConnection = "Connection lost - please try again"
	msgServer     = "Sorry, there was an error processing your message. Please try again."
)

// Error is a classified send failure.
type Error struct {
	Kind      Kind
	Message   string // shown to the user
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("client: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("client: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ServerError is a non-2xx answer, or an error event in the stream.
type ServerError struct {
	Status  int    // 0 for error events inside a 200 stream
	Message string // the server's own message, if any
}

func (e *ServerError) Error() string {
	if e.Status == 0 {
		return "client: server error: " + e.Message
	}
	return fmt.Sprintf("client: server returned %d: %s", e.Status, e.Message)
}

// retryable reports whether resending can help. Error events and 5xx
// answers are transient; authentication and validation failures are not.
func (e *ServerError) retryable() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusRequestEntityTooLarge:
		return false
	default:
		return true
	}
}

// Classify maps any error returned by the client to an *Error. It returns
// nil for nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	e := &Error{Err: err}
	var (
		srv    *ServerError
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.Canceled):
		e.Kind, e.Message = KindCancelled, msgCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		e.Kind, e.Message, e.Retryable = KindTimeout, msgTimeout, true
	case errors.Is(err, ErrConnectionDead), errors.Is(err, ErrIncompleteStream):
		e.Kind, e.Message, e.Retryable = KindConnection, msgConnection, true
	case errors.Is(err, ErrParse):
		e.Kind, e.Message = KindParse, msgParse
	case errors.As(err, &srv):
		e.Kind, e.Message, e.Retryable = KindServer, srv.Message, srv.retryable()
		if e.Message == "" {
			e.Message = msgServer
		}
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Kind, e.Message, e.Retryable = KindTimeout, msgTimeout, true
	default:
		e.Kind, e.Message, e.Retryable = KindNetwork, msgNetwork, true
	}
	return e
}
