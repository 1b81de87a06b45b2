package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/reddichat/internal/source"
	"github.com/flemzord/reddichat/internal/store"
)

// maxSeqAttempts bounds retries when two writers race for the same
// message sequence number.
const maxSeqAttempts = 3

// Store implements store.Store over database/sql.
type Store struct {
	db    *sql.DB
	d     dialect
	now   func() time.Time
	newID func() string
}

var _ store.Store = (*Store)(nil)

func newStore(db *sql.DB, d dialect) *Store {
	return &Store{db: db, d: d, now: time.Now, newID: uuid.NewString}
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(query), args...)
}

// affectedOne maps a zero-row update or delete to store.ErrNotFound.
func affectedOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: %s: %w", op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateConversation implements store.Store.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (store.Conversation, error) {
	now := fromMillis(toMillis(s.now()))
	c := store.Conversation{ID: s.newID(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	_, err := s.exec(ctx,
		"INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.UserID, c.Title, toMillis(now), toMillis(now))
	if err != nil {
		return store.Conversation{}, fmt.Errorf("sqlstore: create conversation: %w", err)
	}
	return c, nil
}

// Conversation implements store.Store.
func (s *Store) Conversation(ctx context.Context, id, userID string) (store.Conversation, error) {
	row := s.queryRow(ctx,
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?",
		id, userID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return store.Conversation{}, fmt.Errorf("sqlstore: get conversation: %w", err)
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (store.Conversation, error) {
	var (
		c                store.Conversation
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &created, &updated); err != nil {
		return store.Conversation{}, err
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

// ListConversations implements store.Store.
func (s *Store) ListConversations(ctx context.Context, userID string, page, size int) ([]store.Conversation, int, error) {
	var total int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM conversations WHERE user_id = ?", userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlstore: count conversations: %w", err)
	}

	page = max(page, 1)
	rows, err := s.query(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
		WHERE user_id = ? ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, size, (page-1)*size)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlstore: list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []store.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlstore: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlstore: list conversations rows: %w", err)
	}
	return out, total, nil
}

// RenameConversation implements store.Store.
func (s *Store) RenameConversation(ctx context.Context, id, userID, title string) (store.Conversation, error) {
	res, err := s.exec(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		title, toMillis(s.now()), id, userID)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("sqlstore: rename conversation: %w", err)
	}
	if err := affectedOne(res, "rename conversation"); err != nil {
		return store.Conversation{}, err
	}
	return s.Conversation(ctx, id, userID)
}

// TouchConversation implements store.Store.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	res, err := s.exec(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("sqlstore: touch conversation: %w", err)
	}
	return affectedOne(res, "touch conversation")
}

// DeleteConversation implements store.Store.
func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.d.rebind("DELETE FROM conversations WHERE id = ? AND user_id = ?"), id, userID)
	if err != nil {
		return fmt.Errorf("sqlstore: delete conversation: %w", err)
	}
	if err := affectedOne(res, "delete conversation"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.d.rebind(
		"DELETE FROM message_attachments WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)"), id); err != nil {
		return fmt.Errorf("sqlstore: delete attachment links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.d.rebind("DELETE FROM messages WHERE conversation_id = ?"), id); err != nil {
		return fmt.Errorf("sqlstore: delete messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit delete: %w", err)
	}
	return nil
}

// AddMessage implements store.Store.
func (s *Store) AddMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	sources := msg.Sources
	if sources == nil {
		sources = []source.Source{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return store.Message{}, fmt.Errorf("sqlstore: marshal sources: %w", err)
	}

	msg.ID = s.newID()
	msg.CreatedAt = fromMillis(toMillis(s.now()))
	msg.Sources = sources

	for attempt := 1; ; attempt++ {
		err = s.insertMessage(ctx, msg, string(sourcesJSON))
		if err == nil || !s.d.isUniqueViolation(err) || attempt == maxSeqAttempts {
			break
		}
	}
	if err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

func (s *Store) insertMessage(ctx context.Context, msg store.Message, sourcesJSON string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin add message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, s.d.rebind("SELECT COUNT(*) FROM conversations WHERE id = ?"), msg.ConversationID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sqlstore: check conversation: %w", err)
	}
	if exists == 0 {
		return store.ErrNotFound
	}

	var seq int64
	err = tx.QueryRowContext(ctx, s.d.rebind(
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?"), msg.ConversationID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("sqlstore: next message seq: %w", err)
	}

	hasAttachments := 0
	if msg.HasAttachments {
		hasAttachments = 1
	}
	_, err = tx.ExecContext(ctx, s.d.rebind(
		`INSERT INTO messages (id, conversation_id, seq, user_id, role, content, sources, tool_used, has_attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ConversationID, seq, msg.UserID, string(msg.Role), msg.Content,
		sourcesJSON, msg.ToolUsed, hasAttachments, toMillis(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlstore: insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit message: %w", err)
	}
	return nil
}

const messageColumns = "id, conversation_id, user_id, role, content, sources, tool_used, has_attachments, created_at"

func scanMessage(row scanner) (store.Message, error) {
	var (
		m              store.Message
		role, sources  string
		hasAttachments int
		created        int64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.UserID, &role, &m.Content,
		&sources, &m.ToolUsed, &hasAttachments, &created); err != nil {
		return store.Message{}, err
	}
	m.Role = store.Role(role)
	m.HasAttachments = hasAttachments != 0
	m.CreatedAt = fromMillis(created)
	m.Sources = []source.Source{}
	if sources != "" {
		if err := json.Unmarshal([]byte(sources), &m.Sources); err != nil {
			return store.Message{}, fmt.Errorf("decode sources of %s: %w", m.ID, err)
		}
	}
	return m, nil
}

func (s *Store) scanMessages(rows *sql.Rows) ([]store.Message, error) {
	defer func() { _ = rows.Close() }()
	out := []store.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: message rows: %w", err)
	}
	return out, nil
}

// RecentMessages implements store.Store.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, n int) ([]store.Message, error) {
	if n <= 0 {
		return []store.Message{}, nil
	}
	rows, err := s.query(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?",
		conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: recent messages: %w", err)
	}
	msgs, err := s.scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Messages implements store.Store.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]store.Message, error) {
	rows, err := s.query(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY seq",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: messages: %w", err)
	}
	msgs, err := s.scanMessages(rows)
	if err != nil {
		return nil, err
	}

	byMessage, err := s.conversationAttachments(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Attachments = byMessage[msgs[i].ID]
		if msgs[i].Attachments == nil {
			msgs[i].Attachments = []store.Attachment{}
		}
	}
	return msgs, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlstore: ping: %w", err)
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
