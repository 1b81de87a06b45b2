package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// table is a dialect-neutral table definition. "{key}" in a column type is
// replaced with the dialect's key type.
type table struct {
	name    string
	columns []string
	indexes []index
}

type index struct {
	name    string
	columns string
}

// migration is one schema version. Versions are applied in order and
// recorded in schema_version.
type migration struct {
	version int
	tables  []table
}

var migrations = []migration{
	{version: 1, tables: []table{
		{
			name: "conversations",
			columns: []string{
				"id {key} PRIMARY KEY",
				"user_id {key} NOT NULL",
				"title VARCHAR(500) NOT NULL",
				"created_at BIGINT NOT NULL",
				"updated_at BIGINT NOT NULL",
			},
			indexes: []index{{"idx_conversations_user", "user_id, updated_at"}},
		},
		{
			name: "messages",
			columns: []string{
				"id {key} PRIMARY KEY",
				"conversation_id {key} NOT NULL",
				"seq BIGINT NOT NULL",
				"user_id {key} NOT NULL",
				"role VARCHAR(20) NOT NULL",
				"content TEXT NOT NULL",
				"sources TEXT NOT NULL",
				"tool_used VARCHAR(100) NOT NULL DEFAULT ''",
				"has_attachments INTEGER NOT NULL DEFAULT 0",
				"created_at BIGINT NOT NULL",
				"UNIQUE (conversation_id, seq)",
			},
		},
		{
			name: "file_attachments",
			columns: []string{
				"id {key} PRIMARY KEY",
				"user_id {key} NOT NULL",
				"filename VARCHAR(255) NOT NULL",
				"original_filename VARCHAR(255) NOT NULL",
				"file_type VARCHAR(50) NOT NULL",
				"file_size BIGINT NOT NULL",
				"mime_type VARCHAR(100) NOT NULL",
				"bucket VARCHAR(100) NOT NULL",
				"object_key VARCHAR(512) NOT NULL",
				"url TEXT NOT NULL",
				"checksum VARCHAR(64) NOT NULL DEFAULT ''",
				"created_at BIGINT NOT NULL",
			},
			indexes: []index{{"idx_file_attachments_created", "created_at"}},
		},
		{
			name: "message_attachments",
			columns: []string{
				"message_id {key} NOT NULL",
				"attachment_id {key} NOT NULL",
				"position INTEGER NOT NULL DEFAULT 0",
				"PRIMARY KEY (message_id, attachment_id)",
			},
			indexes: []index{{"idx_message_attachments_attachment", "attachment_id"}},
		},
	}},
	{version: 2, tables: []table{
		{
			name: "user_searches",
			columns: []string{
				"id {key} PRIMARY KEY",
				"user_id {key} NOT NULL",
				"reddit_username {key} NOT NULL",
				"reddit_avatar TEXT",
				"reddit_karma BIGINT",
				"searched_at BIGINT NOT NULL",
				"UNIQUE (user_id, reddit_username)",
			},
		},
	}},
}

// statements renders the DDL of m for d. All statements are idempotent.
func (m migration) statements(d dialect) []string {
	var out []string
	for _, t := range m.tables {
		cols := make([]string, 0, len(t.columns)+len(t.indexes))
		for _, c := range t.columns {
			cols = append(cols, strings.ReplaceAll(c, "{key}", d.keyType))
		}
		if d.inlineIndexes {
			for _, ix := range t.indexes {
				cols = append(cols, fmt.Sprintf("INDEX %s (%s)", ix.name, ix.columns))
			}
		}
		out = append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.name, strings.Join(cols, ",\n\t")))
		if !d.inlineIndexes {
			for _, ix := range t.indexes {
				out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", ix.name, t.name, ix.columns))
			}
		}
	}
	return out
}

// latestVersion is the schema version a fully migrated database reports.
func latestVersion() int {
	return migrations[len(migrations)-1].version
}

// migrate brings the schema up to the latest version.
func migrate(ctx context.Context, db *sql.DB, d dialect) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlstore: create schema_version: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, d, m); err != nil {
			return err
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return 0, fmt.Errorf("sqlstore: read schema version: %w", err)
	}
	return current, nil
}

func applyMigration(ctx context.Context, db *sql.DB, d dialect, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin migration %d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements(d) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate to %d: %w\nstatement: %s", m.version, err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, d.rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
		return fmt.Errorf("sqlstore: record schema version %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit migration %d: %w", m.version, err)
	}
	return nil
}
