package gateway

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/flemzord/reddichat/internal/chat"
	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/source"
	"github.com/flemzord/reddichat/internal/store"
	"github.com/flemzord/reddichat/internal/stream"
)

const (
	msgMessageRequired = "Message is required"
	msgMessageTooLong  = "Message is too long"
	msgMessageInvalid  = "Message must be valid UTF-8 text"
	msgConvNotFound    = "Conversation not found"
	msgTooManyMessages = "Too many messages. Please wait a moment and try again."
)

// chatFailure is the user-facing text for an error returned before a
// chat turn started.
func chatFailure(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return msgMessageRequired
	case errors.Is(err, store.ErrNotFound):
		return msgConvNotFound
	default:
		return "Failed to process request"
	}
}

// messageProblem returns why message cannot be sent, or "" when it can.
func (g *Gateway) messageProblem(message string) string {
	if strings.TrimSpace(message) == "" {
		return msgMessageRequired
	}
	switch err := security.ValidateMessage(message, g.config.MaxMessageSize); {
	case errors.Is(err, security.ErrMessageTooLarge):
		return msgMessageTooLong
	case err != nil:
		return msgMessageInvalid
	}
	return ""
}

// allowMessage applies the per-user message rate limit.
func (g *Gateway) allowMessage(r *http.Request, user string) bool {
	if g.deps.Limiter == nil {
		return true
	}
	if err := g.deps.Limiter.Allow(security.KindMessage, user); err != nil {
		g.deps.Audit.Log(security.AuditEvent{
			Type:       security.EventRateLimit,
			UserID:     user,
			RemoteAddr: clientIP(r),
			Detail:     "message rate limit exceeded",
		})
		return false
	}
	return true
}

// handleChatStream serves POST /api/chat/stream: a multipart form in, a
// server-sent event stream out.
func (g *Gateway) handleChatStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)

		r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxRequestSize)
		if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			writeSSEError(w, http.StatusBadRequest, "Invalid form data")
			return
		}
		if r.MultipartForm != nil {
			defer func() { _ = r.MultipartForm.RemoveAll() }()
		}

		message := r.FormValue("message")
		if problem := g.messageProblem(message); problem != "" {
			writeSSEError(w, http.StatusBadRequest, problem)
			return
		}
		if !g.allowMessage(r, user) {
			writeSSEError(w, http.StatusTooManyRequests, msgTooManyMessages)
			return
		}

		// Turns outlive the server write timeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		err := g.deps.Chat.StreamTo(r.Context(), chat.Request{
			UserID:         user,
			Message:        message,
			ConversationID: r.FormValue("conversation_id"),
			Files:          formFiles(r.MultipartForm),
			AttachmentIDs:  splitIDs(r.Form["attachment_ids"]),
		}, stream.NewWriter(w))
		if err != nil {
			g.logger.Warn("chat stream rejected", "user_id", user, "error", err)
			writeSSEError(w, statusFor(err), chatFailure(err))
		}
	}
}

type chatRequestJSON struct {
	Message        string   `json:"message"`
	ConversationID string   `json:"conversation_id"`
	AttachmentIDs  []string `json:"attachment_ids"`
}

type chatReplyMessageJSON struct {
	ID       string          `json:"id"`
	Content  string          `json:"content"`
	Role     store.Role      `json:"role"`
	Sources  []source.Source `json:"sources"`
	ToolUsed *string         `json:"tool_used"`
}

type chatReplyJSON struct {
	ConversationID string               `json:"conversation_id"`
	Message        chatReplyMessageJSON `json:"message"`
}

// handleChat serves POST /api/chat, the non-streaming variant.
func (g *Gateway) handleChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)

		var in chatRequestJSON
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if problem := g.messageProblem(in.Message); problem != "" {
			writeError(w, http.StatusBadRequest, problem)
			return
		}
		if !g.allowMessage(r, user) {
			writeError(w, http.StatusTooManyRequests, msgTooManyMessages)
			return
		}

		reply, err := g.deps.Chat.Complete(r.Context(), chat.Request{
			UserID:         user,
			Message:        in.Message,
			ConversationID: in.ConversationID,
			AttachmentIDs:  in.AttachmentIDs,
		})
		if err != nil {
			g.logger.Error("chat failed", "user_id", user, "error", err)
			status := statusFor(err)
			msg := "Failed to process chat message"
			if status == http.StatusNotFound {
				msg = msgConvNotFound
			}
			writeError(w, status, msg)
			return
		}

		out := chatReplyJSON{
			ConversationID: reply.ConversationID,
			Message: chatReplyMessageJSON{
				ID:      reply.Message.ID,
				Content: reply.Message.Content,
				Role:    reply.Message.Role,
				Sources: reply.Message.Sources,
			},
		}
		if out.Message.Sources == nil {
			out.Message.Sources = []source.Source{}
		}
		if reply.Message.ToolUsed != "" {
			out.Message.ToolUsed = &reply.Message.ToolUsed
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleChatWebSocket serves GET /api/chat/ws. Each text frame from the
// client is one turn; every stream event is sent back as a JSON frame.
// Turns on one connection run one after another.
func (g *Gateway) handleChatWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: g.config.AllowedOrigins,
		})
		if err != nil {
			g.logger.Debug("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			var in chatRequestJSON
			if err := wsjson.Read(ctx, conn, &in); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					g.logger.Debug("websocket read failed", "user_id", user, "error", err)
				}
				return
			}
			if !g.wsTurn(ctx, conn, r, user, in) {
				return
			}
		}
	}
}

// wsTurn runs one turn over conn. It reports whether the connection is
// still usable.
func (g *Gateway) wsTurn(ctx context.Context, conn *websocket.Conn, r *http.Request, user string, in chatRequestJSON) bool {
	if problem := g.messageProblem(in.Message); problem != "" {
		return wsjson.Write(ctx, conn, stream.Failed(problem)) == nil
	}
	if !g.allowMessage(r, user) {
		return wsjson.Write(ctx, conn, stream.Failed(msgTooManyMessages)) == nil
	}

	sink := &wsSink{ctx: ctx, conn: conn}
	err := g.deps.Chat.StreamTo(ctx, chat.Request{
		UserID:         user,
		Message:        in.Message,
		ConversationID: in.ConversationID,
		AttachmentIDs:  in.AttachmentIDs,
	}, sink)
	if err != nil {
		return wsjson.Write(ctx, conn, stream.Failed(chatFailure(err))) == nil
	}
	return !sink.broken
}

// wsSink sends stream events as JSON text frames.
type wsSink struct {
	ctx    context.Context
	conn   *websocket.Conn
	broken bool
}

func (s *wsSink) Send(ev stream.Event) error {
	if err := wsjson.Write(s.ctx, s.conn, ev); err != nil {
		s.broken = true
		return err
	}
	return nil
}

// formFiles adapts the "files" parts of a multipart form.
func formFiles(form *multipart.Form) []chat.File {
	if form == nil {
		return nil
	}
	headers := form.File["files"]
	files := make([]chat.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, chat.File{
			Name:     fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Size:     fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return files
}

// splitIDs accepts repeated fields and comma separated lists.
func splitIDs(values []string) []string {
	var ids []string
	for _, v := range values {
		for id := range strings.SplitSeq(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
