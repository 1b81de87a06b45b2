package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flemzord/reddichat/internal/store"
)

// RecordUserSearch implements store.Store.
func (s *Store) RecordUserSearch(ctx context.Context, us store.UserSearch) (store.UserSearch, error) {
	var avatar sql.NullString
	if us.RedditAvatar != "" {
		avatar = sql.NullString{String: us.RedditAvatar, Valid: true}
	}
	var karma sql.NullInt64
	if us.RedditKarma != nil {
		karma = sql.NullInt64{Int64: int64(*us.RedditKarma), Valid: true}
	}

	_, err := s.exec(ctx,
		`INSERT INTO user_searches (id, user_id, reddit_username, reddit_avatar, reddit_karma, searched_at)
		VALUES (?, ?, ?, ?, ?, ?) `+s.d.upsertSearch,
		s.newID(), us.UserID, us.RedditUsername, avatar, karma, toMillis(s.now()))
	if err != nil {
		return store.UserSearch{}, fmt.Errorf("sqlstore: record user search: %w", err)
	}

	row := s.queryRow(ctx,
		`SELECT id, user_id, reddit_username, reddit_avatar, reddit_karma, searched_at
		FROM user_searches WHERE user_id = ? AND reddit_username = ?`,
		us.UserID, us.RedditUsername)
	out, err := scanUserSearch(row)
	if err != nil {
		return store.UserSearch{}, fmt.Errorf("sqlstore: read user search: %w", err)
	}
	return out, nil
}

func scanUserSearch(row scanner) (store.UserSearch, error) {
	var (
		us       store.UserSearch
		avatar   sql.NullString
		karma    sql.NullInt64
		searched int64
	)
	if err := row.Scan(&us.ID, &us.UserID, &us.RedditUsername, &avatar, &karma, &searched); err != nil {
		return store.UserSearch{}, err
	}
	us.RedditAvatar = avatar.String
	if karma.Valid {
		k := int(karma.Int64)
		us.RedditKarma = &k
	}
	us.SearchedAt = fromMillis(searched)
	return us, nil
}

// UserSearches implements store.Store.
func (s *Store) UserSearches(ctx context.Context, userID, prefix string, limit int) ([]store.UserSearch, error) {
	rows, err := s.query(ctx,
		`SELECT id, user_id, reddit_username, reddit_avatar, reddit_karma, searched_at
		FROM user_searches
		WHERE user_id = ? AND LOWER(reddit_username) LIKE ? ESCAPE '!'
		ORDER BY searched_at DESC LIMIT ?`,
		userID, likePrefix(prefix), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: user searches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []store.UserSearch{}
	for rows.Next() {
		us, err := scanUserSearch(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan user search: %w", err)
		}
		out = append(out, us)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: user search rows: %w", err)
	}
	return out, nil
}
