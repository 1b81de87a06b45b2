// Package chat runs one chat turn end to end: it stores the user's
// message and attachments, drives the agent loop, relays its events as
// stream events and persists the assistant's answer once it is complete.
package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/flemzord/reddichat/internal/agent"
	"github.com/flemzord/reddichat/internal/provider"
	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/storage"
	"github.com/flemzord/reddichat/internal/store"
	"github.com/flemzord/reddichat/internal/telemetry"
	"github.com/flemzord/reddichat/internal/tool"
)

// Errors returned before a turn starts.
var (
	ErrEmptyMessage = errors.New("chat: message is required")
	ErrNoUser       = errors.New("chat: user is required")

	ErrStorageDisabled = errors.New("chat: file storage is not configured")
	ErrFileTooLarge    = errors.New("chat: file exceeds the size limit")

	// ErrConversationNotFound wraps store.ErrNotFound.
	ErrConversationNotFound = fmt.Errorf("chat: conversation: %w", store.ErrNotFound)
)

// File is an attachment received with a message. Open is only called
// for files within the size ceiling.
type File struct {
	Name     string
	MIMEType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// BytesFile wraps in-memory content as a File.
func BytesFile(name, mimeType string, data []byte) File {
	return File{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Request is one user turn.
type Request struct {
	UserID  string
	Message string
	// ConversationID continues an existing conversation; empty starts a
	// new one.
	ConversationID string
	Files          []File
	// AttachmentIDs links files uploaded beforehand.
	AttachmentIDs []string
}

// Reply is the result of a non-streaming turn.
type Reply struct {
	ConversationID string
	Message        store.Message
	Attachments    []store.Attachment
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store store.Store
	// Uploader may be nil, in which case attached files are skipped.
	Uploader storage.Uploader
	Loop     *agent.Loop
	// Tools supplies the tool declarations sent to the model.
	Tools   *tool.Registry
	Metrics *telemetry.Metrics
	Audit   *security.AuditLogger
	Logger  *slog.Logger
}

// Service runs chat turns. It is safe for concurrent use.
type Service struct {
	store    store.Store
	uploader storage.Uploader
	loop     *agent.Loop
	tools    []provider.ToolDefinition
	metrics  *telemetry.Metrics
	audit    *security.AuditLogger
	logger   *slog.Logger
	config   Config
}

// New builds a Service.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	if deps.Loop == nil {
		return nil, errors.New("chat: agent loop is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var defs []provider.ToolDefinition
	if deps.Tools != nil {
		defs = deps.Tools.Definitions()
	}
	return &Service{
		store:    deps.Store,
		uploader: deps.Uploader,
		loop:     deps.Loop,
		tools:    defs,
		metrics:  deps.Metrics,
		audit:    deps.Audit,
		logger:   logger.With("component", "chat"),
		config:   cfg.withDefaults(),
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.config }

// UserMessage maps a failed turn to text that can be shown to the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "The response took too long. Please try again."
	case errors.Is(err, agent.ErrLoopDetected), errors.Is(err, agent.ErrStepLimitReached):
		return "I couldn't finish answering that. Please try rephrasing your question."
	case errors.Is(err, agent.ErrTokenBudgetExceeded):
		return "This request is too large to answer. Please try a shorter question."
	default:
		return provider.UserMessage(err)
	}
}

// Title derives a conversation title from its first message.
func Title(message string, limit int) string {
	r := []rune(strings.TrimSpace(message))
	if len(r) <= limit {
		return string(r)
	}
	return string(r[:limit]) + "..."
}
