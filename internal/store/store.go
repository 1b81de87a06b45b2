// Package store defines the persisted chat data (conversations, messages,
// file attachments, Reddit user lookups) and the Store interface the chat
// pipeline and the HTTP gateway use to read and write it.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/flemzord/reddichat/internal/source"
)

// ErrNotFound is returned when a row does not exist or is owned by
// another user.
var ErrNotFound = errors.New("store: not found")

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is a titled thread of messages owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn of a conversation. Assistant messages are written
// only once their response is complete.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"-"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	CreatedAt      time.Time       `json:"timestamp"`
	Sources        []source.Source `json:"sources"`
	ToolUsed       string          `json:"tool_used,omitempty"`
	HasAttachments bool            `json:"has_attachments"`
	Attachments    []Attachment    `json:"file_attachments"`
}

// Attachment is an uploaded file. It is linked to at most one message;
// unlinked attachments are purged after a grace period.
type Attachment struct {
	ID               string    `json:"id"`
	UserID           string    `json:"-"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	FileType         string    `json:"file_type"`
	FileSize         int64     `json:"file_size"`
	MIMEType         string    `json:"mime_type"`
	Bucket           string    `json:"-"`
	Key              string    `json:"-"`
	URL              string    `json:"s3_url"`
	Checksum         string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// IsImage reports whether the attachment can be shown to the model as an
// image part.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MIMEType, "image/")
}

// UserSearch remembers a Reddit profile a user looked up, for
// autocompletion.
type UserSearch struct {
	ID             string    `json:"id"`
	UserID         string    `json:"-"`
	RedditUsername string    `json:"redditUsername"`
	RedditAvatar   string    `json:"redditAvatar,omitempty"`
	RedditKarma    *int      `json:"redditKarma"`
	SearchedAt     time.Time `json:"searchedAt"`
}

// MaxUserSearches bounds the autocompletion list.
const MaxUserSearches = 8

// Store persists conversations, messages and attachments. Lookups that
// take a userID only match rows owned by that user; anything else is
// ErrNotFound. Implementations assign IDs and timestamps on insert.
type Store interface {
	CreateConversation(ctx context.Context, userID, title string) (Conversation, error)
	Conversation(ctx context.Context, id, userID string) (Conversation, error)
	// ListConversations returns one page (1-based) ordered by most recent
	// activity, and the user's total conversation count.
	ListConversations(ctx context.Context, userID string, page, size int) ([]Conversation, int, error)
	RenameConversation(ctx context.Context, id, userID, title string) (Conversation, error)
	TouchConversation(ctx context.Context, id string) error
	// DeleteConversation removes the conversation and its messages. Linked
	// attachments become orphans.
	DeleteConversation(ctx context.Context, id, userID string) error

	AddMessage(ctx context.Context, msg Message) (Message, error)
	// RecentMessages returns at most n of the latest messages, oldest
	// first, without attachments.
	RecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error)
	// Messages returns the whole conversation, oldest first, with
	// attachments.
	Messages(ctx context.Context, conversationID string) ([]Message, error)

	AddAttachment(ctx context.Context, a Attachment) (Attachment, error)
	// Attachments returns the requested attachments owned by userID, in
	// the order of ids. Unknown ids are skipped.
	Attachments(ctx context.Context, userID string, ids []string) ([]Attachment, error)
	LinkAttachments(ctx context.Context, messageID string, attachmentIDs []string) error
	// OrphanedAttachments lists up to limit attachments created before
	// cutoff and linked to no message.
	OrphanedAttachments(ctx context.Context, cutoff time.Time, limit int) ([]Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error

	// RecordUserSearch inserts or refreshes the (user, username) entry.
	RecordUserSearch(ctx context.Context, s UserSearch) (UserSearch, error)
	// UserSearches returns up to limit entries whose username starts with
	// prefix (case-insensitive), most recent first.
	UserSearches(ctx context.Context, userID, prefix string, limit int) ([]UserSearch, error)

	Ping(ctx context.Context) error
	Close() error
}
