package sqlstore

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
	driverMySQL    = "mysql"
)

// sqliteConstraint is SQLITE_CONSTRAINT; extended codes keep it in the
// low byte.
const sqliteConstraint = 19

// dialect captures the differences between the supported databases.
// Queries are written with "?" placeholders and rebound per dialect.
type dialect struct {
	name string

	// keyType is the column type for ids and other indexed strings. MySQL
	// cannot index unbounded TEXT.
	keyType string

	// inlineIndexes declares secondary indexes inside CREATE TABLE
	// instead of separate CREATE INDEX IF NOT EXISTS statements.
	inlineIndexes bool

	// upsertSearch is the conflict clause appended to the user_searches
	// insert.
	upsertSearch string
}

var dialects = map[string]dialect{
	driverSQLite: {
		name:         driverSQLite,
		keyType:      "TEXT",
		upsertSearch: "ON CONFLICT (user_id, reddit_username) DO UPDATE SET reddit_avatar = excluded.reddit_avatar, reddit_karma = excluded.reddit_karma, searched_at = excluded.searched_at",
	},
	driverPostgres: {
		name:         driverPostgres,
		keyType:      "TEXT",
		upsertSearch: "ON CONFLICT (user_id, reddit_username) DO UPDATE SET reddit_avatar = EXCLUDED.reddit_avatar, reddit_karma = EXCLUDED.reddit_karma, searched_at = EXCLUDED.searched_at",
	},
	driverMySQL: {
		name:          driverMySQL,
		keyType:       "VARCHAR(191)",
		inlineIndexes: true,
		upsertSearch:  "ON DUPLICATE KEY UPDATE reddit_avatar = VALUES(reddit_avatar), reddit_karma = VALUES(reddit_karma), searched_at = VALUES(searched_at)",
	},
}

// rebind rewrites "?" placeholders to "$1", "$2", ... for postgres.
func (d dialect) rebind(query string) string {
	if d.name != driverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure.
func (d dialect) isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	switch d.name {
	case driverPostgres:
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	case driverMySQL:
		var myErr *mysql.MySQLError
		return errors.As(err, &myErr) && myErr.Number == 1062
	default:
		var sqlErr *sqlite.Error
		return errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqliteConstraint
	}
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// likePrefix turns a user supplied prefix into a LIKE pattern using "!"
// as the escape character, which all three dialects accept.
func likePrefix(prefix string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(strings.ToLower(prefix)) + "%"
}
