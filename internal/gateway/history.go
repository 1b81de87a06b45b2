package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/source"
	"github.com/flemzord/reddichat/internal/store"
)

// Conversation list paging.
const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type paginationJSON struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type conversationListJSON struct {
	Conversations []store.Conversation `json:"conversations"`
	Pagination    paginationJSON       `json:"pagination"`
}

type conversationJSON struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []store.Message `json:"messages"`
}

// queryInt parses a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 1 {
		return def
	}
	return n
}

// handleListConversations serves GET /api/chat/conversations.
func (g *Gateway) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := queryInt(r, "page", 1)
		size := min(queryInt(r, "size", defaultPageSize), maxPageSize)

		convs, total, err := g.deps.Store.ListConversations(r.Context(), userID(r), page, size)
		if err != nil {
			g.logger.Error("listing conversations failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch conversations")
			return
		}
		if convs == nil {
			convs = []store.Conversation{}
		}
		pages := 1
		if total > 0 {
			pages = (total + size - 1) / size
		}
		writeJSON(w, http.StatusOK, conversationListJSON{
			Conversations: convs,
			Pagination:    paginationJSON{Page: page, Size: size, Total: total, Pages: pages},
		})
	}
}

// handleGetConversation serves GET /api/chat/history/{id}.
func (g *Gateway) handleGetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := g.deps.Store.Conversation(r.Context(), chi.URLParam(r, "id"), userID(r))
		if err != nil {
			g.conversationError(w, err)
			return
		}

		msgs, err := g.deps.Store.Messages(r.Context(), conv.ID)
		if err != nil {
			g.logger.Error("loading messages failed", "conversation_id", conv.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch conversation")
			return
		}
		if msgs == nil {
			msgs = []store.Message{}
		}
		for i := range msgs {
			if msgs[i].Sources == nil {
				msgs[i].Sources = []source.Source{}
			}
			if msgs[i].Attachments == nil {
				msgs[i].Attachments = []store.Attachment{}
			}
		}

		writeJSON(w, http.StatusOK, conversationJSON{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
			Messages:  msgs,
		})
	}
}

// handleDeleteConversation serves DELETE /api/chat/history/{id}.
func (g *Gateway) handleDeleteConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, user := chi.URLParam(r, "id"), userID(r)
		if err := g.deps.Store.DeleteConversation(r.Context(), id, user); err != nil {
			g.conversationError(w, err)
			return
		}
		g.deps.Audit.Log(security.AuditEvent{
			Type:           security.EventConversationDelete,
			UserID:         user,
			ConversationID: id,
		})
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// handleRenameConversation serves PATCH /api/chat/history/{id}.
func (g *Gateway) handleRenameConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Title string `json:"title"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		title := strings.TrimSpace(in.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "Title is required")
			return
		}

		conv, err := g.deps.Store.RenameConversation(r.Context(), chi.URLParam(r, "id"), userID(r), title)
		if err != nil {
			g.conversationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func (g *Gateway) conversationError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgConvNotFound)
		return
	}
	g.logger.Error("conversation request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "Failed to process request")
}
