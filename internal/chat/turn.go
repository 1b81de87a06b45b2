package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/flemzord/reddichat/internal/provider"
	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/storage"
	"github.com/flemzord/reddichat/internal/store"
)

// presignTTL is the lifetime of image URLs handed to the model.
const presignTTL = 15 * time.Minute

// turn is a prepared request: everything is persisted up to the user's
// message and the model input is ready.
type turn struct {
	userID       string
	conversation store.Conversation
	userMessage  store.Message
	attachments  []store.Attachment
	input        []provider.LLMMessage
}

// prepare stores the attachments, the conversation and the user message,
// then builds the model input.
func (s *Service) prepare(ctx context.Context, req Request) (*turn, error) {
	if req.UserID == "" {
		return nil, ErrNoUser
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	t := &turn{userID: req.UserID}

	// Ownership is checked before anything is uploaded.
	if req.ConversationID != "" {
		conv, err := s.store.Conversation(ctx, req.ConversationID, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("chat: load conversation: %w", err)
		}
		t.conversation = conv
	}

	attachments, err := s.materialize(ctx, req)
	if err != nil {
		return nil, err
	}
	t.attachments = attachments

	if t.conversation.ID == "" {
		conv, err := s.store.CreateConversation(ctx, req.UserID, Title(req.Message, s.config.TitleLength))
		if err != nil {
			return nil, fmt.Errorf("chat: create conversation: %w", err)
		}
		t.conversation = conv
		s.audit.Log(security.AuditEvent{
			Type:           security.EventConversationCreate,
			UserID:         req.UserID,
			ConversationID: conv.ID,
		})
	}

	msg, err := s.store.AddMessage(ctx, store.Message{
		ConversationID: t.conversation.ID,
		UserID:         req.UserID,
		Role:           store.RoleUser,
		Content:        req.Message,
		HasAttachments: len(attachments) > 0,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: save user message: %w", err)
	}
	if len(attachments) > 0 {
		ids := make([]string, len(attachments))
		for i, a := range attachments {
			ids[i] = a.ID
		}
		if err := s.store.LinkAttachments(ctx, msg.ID, ids); err != nil {
			return nil, fmt.Errorf("chat: link attachments: %w", err)
		}
	}
	t.userMessage = msg
	s.audit.Log(security.AuditEvent{
		Type:           security.EventMessage,
		UserID:         req.UserID,
		ConversationID: t.conversation.ID,
		Detail:         req.Message,
	})

	input, err := s.buildInput(ctx, t)
	if err != nil {
		return nil, err
	}
	t.input = input
	return t, nil
}

// materialize uploads the request's files and resolves previously
// uploaded attachment ids. Oversized files are skipped.
func (s *Service) materialize(ctx context.Context, req Request) ([]store.Attachment, error) {
	var out []store.Attachment
	for _, f := range req.Files {
		fileType := storage.FileType(f.MIMEType)
		if f.Size > s.config.MaxFileSize {
			s.logger.Debug("skipping oversized file",
				"file", f.Name, "size", f.Size, "max", s.config.MaxFileSize)
			s.metrics.Upload(fileType, "skipped")
			continue
		}
		if s.uploader == nil {
			s.logger.Warn("file storage not configured, skipping attachment", "file", f.Name)
			s.metrics.Upload(fileType, "skipped")
			continue
		}

		a, err := s.upload(ctx, req.UserID, f)
		if err != nil {
			s.metrics.Upload(fileType, "error")
			return nil, err
		}
		if a.ID == "" {
			// Size lied about the content.
			s.metrics.Upload(fileType, "skipped")
			continue
		}
		s.metrics.Upload(fileType, "ok")
		out = append(out, a)
	}

	if len(req.AttachmentIDs) > 0 {
		linked, err := s.store.Attachments(ctx, req.UserID, req.AttachmentIDs)
		if err != nil {
			return nil, fmt.Errorf("chat: load attachments: %w", err)
		}
		if len(linked) < len(req.AttachmentIDs) {
			s.logger.Debug("ignoring unknown attachment ids",
				"requested", len(req.AttachmentIDs), "found", len(linked))
		}
		out = append(out, linked...)
	}
	return out, nil
}

// Attach uploads one file ahead of a message. The returned attachment can
// be linked later through Request.AttachmentIDs.
func (s *Service) Attach(ctx context.Context, userID string, f File) (store.Attachment, error) {
	if s.uploader == nil {
		return store.Attachment{}, ErrStorageDisabled
	}
	fileType := storage.FileType(f.MIMEType)
	a, err := s.upload(ctx, userID, f)
	switch {
	case err != nil:
		s.metrics.Upload(fileType, "error")
		return store.Attachment{}, err
	case a.ID == "":
		s.metrics.Upload(fileType, "rejected")
		return store.Attachment{}, ErrFileTooLarge
	}
	s.metrics.Upload(fileType, "ok")
	return a, nil
}

func (s *Service) upload(ctx context.Context, userID string, f File) (store.Attachment, error) {
	rc, err := f.Open()
	if err != nil {
		return store.Attachment{}, fmt.Errorf("chat: open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, s.config.MaxFileSize+1))
	if err != nil {
		return store.Attachment{}, fmt.Errorf("chat: read %s: %w", f.Name, err)
	}
	if int64(len(data)) > s.config.MaxFileSize {
		s.logger.Debug("skipping oversized file", "file", f.Name, "max", s.config.MaxFileSize)
		return store.Attachment{}, nil
	}

	stored, err := s.uploader.Upload(ctx, storage.Object{
		UserID:   userID,
		Filename: f.Name,
		MIMEType: f.MIMEType,
		Data:     data,
	})
	if err != nil {
		return store.Attachment{}, fmt.Errorf("chat: upload %s: %w", f.Name, err)
	}

	a, err := s.store.AddAttachment(ctx, store.Attachment{
		UserID:           userID,
		Filename:         stored.Filename,
		OriginalFilename: f.Name,
		FileType:         storage.FileType(f.MIMEType),
		FileSize:         stored.Size,
		MIMEType:         f.MIMEType,
		Bucket:           stored.Bucket,
		Key:              stored.Key,
		URL:              stored.URL,
		Checksum:         stored.Checksum,
	})
	if err != nil {
		return store.Attachment{}, fmt.Errorf("chat: save attachment: %w", err)
	}
	s.audit.Log(security.AuditEvent{
		Type:     security.EventUpload,
		UserID:   userID,
		Detail:   f.Name,
		Metadata: map[string]string{"key": stored.Key, "mime_type": f.MIMEType},
	})
	return a, nil
}

// buildInput returns the model messages for t: recent history followed by
// the current message, with image attachments as image parts.
func (s *Service) buildInput(ctx context.Context, t *turn) ([]provider.LLMMessage, error) {
	recent, err := s.store.RecentMessages(ctx, t.conversation.ID, s.config.HistoryWindow+1)
	if err != nil {
		return nil, fmt.Errorf("chat: load history: %w", err)
	}

	var history []store.Message
	for _, m := range recent {
		if m.ID != t.userMessage.ID {
			history = append(history, m)
		}
	}
	if len(history) > s.config.HistoryWindow {
		history = history[len(history)-s.config.HistoryWindow:]
	}

	input := make([]provider.LLMMessage, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := provider.MessageRoleUser
		if m.Role == store.RoleAssistant {
			role = provider.MessageRoleAssistant
		}
		input = append(input, provider.LLMMessage{Role: role, Content: m.Content})
	}

	current := provider.LLMMessage{Role: provider.MessageRoleUser, Content: t.userMessage.Content}
	for _, a := range t.attachments {
		if !a.IsImage() {
			continue
		}
		if len(current.Parts) == 0 {
			current.Parts = []provider.ContentPart{provider.TextPart(t.userMessage.Content)}
		}
		current.Parts = append(current.Parts, provider.ImagePart(s.imageURL(ctx, a)))
	}
	return append(input, current), nil
}

// imageURL prefers a presigned URL so private buckets stay readable by
// the model.
func (s *Service) imageURL(ctx context.Context, a store.Attachment) string {
	p, ok := s.uploader.(storage.Presigner)
	if !ok || a.Key == "" {
		return a.URL
	}
	u, err := p.PresignGet(ctx, a.Key, presignTTL)
	if err != nil {
		s.logger.Warn("presign failed, using stored url", "key", a.Key, "error", err)
		return a.URL
	}
	return u
}
