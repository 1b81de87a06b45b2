// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/reddichat/internal/store"
)

// Memory is a goroutine-safe in-memory store.Store. IDs are sequential
// ("conv-1", "msg-1", ...) so tests can predict them.
type Memory struct {
	// FailOn, when set, is consulted before every operation with the
	// method name; a non-nil result is returned as the operation's error.
	FailOn func(op string) error

	// Now replaces time.Now when set.
	Now func() time.Time

	mu            sync.Mutex
	seq           int
	conversations map[string]store.Conversation
	messages      []store.Message
	attachments   map[string]store.Attachment
	links         map[string][]string // message id -> attachment ids
	searches      []store.UserSearch
	closed        bool
}

var _ store.Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]store.Conversation),
		attachments:   make(map[string]store.Attachment),
		links:         make(map[string][]string),
	}
}

func (m *Memory) fail(op string) error {
	if m.FailOn == nil {
		return nil
	}
	return m.FailOn(op)
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Memory) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// CreateConversation implements store.Store.
func (m *Memory) CreateConversation(_ context.Context, userID, title string) (store.Conversation, error) {
	if err := m.fail("CreateConversation"); err != nil {
		return store.Conversation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	c := store.Conversation{ID: m.nextID("conv"), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	m.conversations[c.ID] = c
	return c, nil
}

// Conversation implements store.Store.
func (m *Memory) Conversation(_ context.Context, id, userID string) (store.Conversation, error) {
	if err := m.fail("Conversation"); err != nil {
		return store.Conversation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return store.Conversation{}, store.ErrNotFound
	}
	return c, nil
}

// ListConversations implements store.Store.
func (m *Memory) ListConversations(_ context.Context, userID string, page, size int) ([]store.Conversation, int, error) {
	if err := m.fail("ListConversations"); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var owned []store.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			owned = append(owned, c)
		}
	}
	slices.SortFunc(owned, func(a, b store.Conversation) int {
		return cmp.Or(b.UpdatedAt.Compare(a.UpdatedAt), cmp.Compare(b.ID, a.ID))
	})
	page = max(page, 1)
	start := min((page-1)*size, len(owned))
	end := min(start+size, len(owned))
	return owned[start:end], len(owned), nil
}

// RenameConversation implements store.Store.
func (m *Memory) RenameConversation(_ context.Context, id, userID, title string) (store.Conversation, error) {
	if err := m.fail("RenameConversation"); err != nil {
		return store.Conversation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return store.Conversation{}, store.ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = m.now()
	m.conversations[id] = c
	return c, nil
}

// TouchConversation implements store.Store.
func (m *Memory) TouchConversation(_ context.Context, id string) error {
	if err := m.fail("TouchConversation"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	c.UpdatedAt = m.now()
	m.conversations[id] = c
	return nil
}

// DeleteConversation implements store.Store.
func (m *Memory) DeleteConversation(_ context.Context, id, userID string) error {
	if err := m.fail("DeleteConversation"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.conversations, id)
	m.messages = slices.DeleteFunc(m.messages, func(msg store.Message) bool {
		if msg.ConversationID == id {
			delete(m.links, msg.ID)
			return true
		}
		return false
	})
	return nil
}

// AddMessage implements store.Store.
func (m *Memory) AddMessage(_ context.Context, msg store.Message) (store.Message, error) {
	if err := m.fail("AddMessage"); err != nil {
		return store.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return store.Message{}, store.ErrNotFound
	}
	msg.ID = m.nextID("msg")
	msg.CreatedAt = m.now()
	msg.Attachments = nil
	msg.Sources = slices.Clone(msg.Sources)
	m.messages = append(m.messages, msg)
	return msg, nil
}

// RecentMessages implements store.Store.
func (m *Memory) RecentMessages(_ context.Context, conversationID string, n int) ([]store.Message, error) {
	if err := m.fail("RecentMessages"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.conversationMessages(conversationID)
	if n < len(all) {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Messages implements store.Store.
func (m *Memory) Messages(_ context.Context, conversationID string) ([]store.Message, error) {
	if err := m.fail("Messages"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.conversationMessages(conversationID)
	for i := range all {
		for _, aid := range m.links[all[i].ID] {
			if a, ok := m.attachments[aid]; ok {
				all[i].Attachments = append(all[i].Attachments, a)
			}
		}
	}
	return all, nil
}

func (m *Memory) conversationMessages(conversationID string) []store.Message {
	var out []store.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

// AddAttachment implements store.Store.
func (m *Memory) AddAttachment(_ context.Context, a store.Attachment) (store.Attachment, error) {
	if err := m.fail("AddAttachment"); err != nil {
		return store.Attachment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.nextID("att")
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	m.attachments[a.ID] = a
	return a, nil
}

// Attachments implements store.Store.
func (m *Memory) Attachments(_ context.Context, userID string, ids []string) ([]store.Attachment, error) {
	if err := m.fail("Attachments"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Attachment
	for _, id := range ids {
		if a, ok := m.attachments[id]; ok && a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

// LinkAttachments implements store.Store.
func (m *Memory) LinkAttachments(_ context.Context, messageID string, attachmentIDs []string) error {
	if err := m.fail("LinkAttachments"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[messageID] = append(m.links[messageID], attachmentIDs...)
	return nil
}

// OrphanedAttachments implements store.Store.
func (m *Memory) OrphanedAttachments(_ context.Context, cutoff time.Time, limit int) ([]store.Attachment, error) {
	if err := m.fail("OrphanedAttachments"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	linked := make(map[string]bool)
	for _, ids := range m.links {
		for _, id := range ids {
			linked[id] = true
		}
	}
	var out []store.Attachment
	for _, a := range m.attachments {
		if !linked[a.ID] && a.CreatedAt.Before(cutoff) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b store.Attachment) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteAttachment implements store.Store.
func (m *Memory) DeleteAttachment(_ context.Context, id string) error {
	if err := m.fail("DeleteAttachment"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attachments, id)
	for mid, ids := range m.links {
		m.links[mid] = slices.DeleteFunc(ids, func(s string) bool { return s == id })
	}
	return nil
}

// RecordUserSearch implements store.Store.
func (m *Memory) RecordUserSearch(_ context.Context, s store.UserSearch) (store.UserSearch, error) {
	if err := m.fail("RecordUserSearch"); err != nil {
		return store.UserSearch{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.SearchedAt = m.now()
	for i, existing := range m.searches {
		if existing.UserID == s.UserID && existing.RedditUsername == s.RedditUsername {
			s.ID = existing.ID
			m.searches[i] = s
			return s, nil
		}
	}
	s.ID = m.nextID("search")
	m.searches = append(m.searches, s)
	return s, nil
}

// UserSearches implements store.Store.
func (m *Memory) UserSearches(_ context.Context, userID, prefix string, limit int) ([]store.UserSearch, error) {
	if err := m.fail("UserSearches"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix = strings.ToLower(prefix)
	var out []store.UserSearch
	for _, s := range m.searches {
		if s.UserID == userID && strings.HasPrefix(strings.ToLower(s.RedditUsername), prefix) {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b store.UserSearch) int { return b.SearchedAt.Compare(a.SearchedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements store.Store.
func (m *Memory) Ping(context.Context) error {
	if err := m.fail("Ping"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("storetest: store closed")
	}
	return nil
}

// Close implements store.Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// AllMessages returns every stored message in insertion order.
func (m *Memory) AllMessages() []store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages)
}

// AttachmentCount returns the number of stored attachments.
func (m *Memory) AttachmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attachments)
}
