package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flemzord/reddichat/internal/store"
)

const attachmentColumns = "a.id, a.user_id, a.filename, a.original_filename, a.file_type, a.file_size, a.mime_type, a.bucket, a.object_key, a.url, a.checksum, a.created_at"

func scanAttachment(row scanner, extra ...any) (store.Attachment, error) {
	var (
		a       store.Attachment
		created int64
	)
	dest := append([]any{&a.ID, &a.UserID, &a.Filename, &a.OriginalFilename, &a.FileType, &a.FileSize,
		&a.MIMEType, &a.Bucket, &a.Key, &a.URL, &a.Checksum, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return store.Attachment{}, err
	}
	a.CreatedAt = fromMillis(created)
	return a, nil
}

// AddAttachment implements store.Store.
func (s *Store) AddAttachment(ctx context.Context, a store.Attachment) (store.Attachment, error) {
	a.ID = s.newID()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.CreatedAt = fromMillis(toMillis(a.CreatedAt))
	_, err := s.exec(ctx,
		`INSERT INTO file_attachments (id, user_id, filename, original_filename, file_type, file_size, mime_type, bucket, object_key, url, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Filename, a.OriginalFilename, a.FileType, a.FileSize,
		a.MIMEType, a.Bucket, a.Key, a.URL, a.Checksum, toMillis(a.CreatedAt))
	if err != nil {
		return store.Attachment{}, fmt.Errorf("sqlstore: add attachment: %w", err)
	}
	return a, nil
}

// Attachments implements store.Store.
func (s *Store) Attachments(ctx context.Context, userID string, ids []string) ([]store.Attachment, error) {
	if len(ids) == 0 {
		return []store.Attachment{}, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.query(ctx,
		"SELECT "+attachmentColumns+" FROM file_attachments a WHERE a.user_id = ? AND a.id IN ("+placeholders(len(ids))+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get attachments: %w", err)
	}
	found, err := collectAttachments(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]store.Attachment, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}
	out := make([]store.Attachment, 0, len(found))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out = append(out, a)
			delete(byID, id)
		}
	}
	return out, nil
}

func collectAttachments(rows *sql.Rows) ([]store.Attachment, error) {
	defer func() { _ = rows.Close() }()
	out := []store.Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan attachment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: attachment rows: %w", err)
	}
	return out, nil
}

// conversationAttachments returns the attachments of every message in a
// conversation, keyed by message id and in link order.
func (s *Store) conversationAttachments(ctx context.Context, conversationID string) (map[string][]store.Attachment, error) {
	rows, err := s.query(ctx,
		`SELECT `+attachmentColumns+`, ma.message_id FROM message_attachments ma
		JOIN file_attachments a ON a.id = ma.attachment_id
		JOIN messages m ON m.id = ma.message_id
		WHERE m.conversation_id = ?
		ORDER BY ma.message_id, ma.position`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: conversation attachments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]store.Attachment)
	for rows.Next() {
		var messageID string
		a, err := scanAttachment(rows, &messageID)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan attachment: %w", err)
		}
		out[messageID] = append(out[messageID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: attachment rows: %w", err)
	}
	return out, nil
}

// LinkAttachments implements store.Store.
func (s *Store) LinkAttachments(ctx context.Context, messageID string, attachmentIDs []string) error {
	if len(attachmentIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin link: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.d.rebind(
		"INSERT INTO message_attachments (message_id, attachment_id, position) VALUES (?, ?, ?)"))
	if err != nil {
		return fmt.Errorf("sqlstore: prepare link: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, id := range attachmentIDs {
		if _, err := stmt.ExecContext(ctx, messageID, id, i); err != nil {
			return fmt.Errorf("sqlstore: link attachment %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit link: %w", err)
	}
	return nil
}

// OrphanedAttachments implements store.Store.
func (s *Store) OrphanedAttachments(ctx context.Context, cutoff time.Time, limit int) ([]store.Attachment, error) {
	rows, err := s.query(ctx,
		`SELECT `+attachmentColumns+` FROM file_attachments a
		WHERE a.created_at < ?
		AND NOT EXISTS (SELECT 1 FROM message_attachments ma WHERE ma.attachment_id = a.id)
		ORDER BY a.created_at LIMIT ?`,
		toMillis(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: orphaned attachments: %w", err)
	}
	return collectAttachments(rows)
}

// DeleteAttachment implements store.Store.
func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin delete attachment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.d.rebind("DELETE FROM message_attachments WHERE attachment_id = ?"), id); err != nil {
		return fmt.Errorf("sqlstore: unlink attachment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.d.rebind("DELETE FROM file_attachments WHERE id = ?"), id); err != nil {
		return fmt.Errorf("sqlstore: delete attachment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit delete attachment: %w", err)
	}
	return nil
}
