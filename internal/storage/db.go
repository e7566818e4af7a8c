/**
 * Tenant database handles
 *
 * Opens and pools the per-church database used for drafts, finalize history,
 * extractor configuration and record tables.
 */

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect is the SQL flavour of a tenant database
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

//go:embed schema/postgres.sql
var postgresSchema string

//go:embed schema/sqlite.sql
var sqliteSchema string

// PoolOptions configures the connection pool
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ParseDialect maps a driver name to a dialect
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Open opens and pings a tenant database
func Open(ctx context.Context, dialect Dialect, dsn string, opts PoolOptions) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate creates the tables used by the fusion worker when missing
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	schema := postgresSchema
	if dialect == DialectSQLite {
		schema = sqliteSchema
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Rebind rewrites ? placeholders to $N for postgres
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// inClause renders "column IN (...)" and appends its arguments.
// Postgres binds the whole list as one array parameter.
func (d Dialect) inClause(column string, values []string, args []interface{}) (string, []interface{}) {
	if d == DialectPostgres {
		return column + " = ANY(?)", append(args, pq.Array(values))
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		args = append(args, v)
	}
	return column + " IN (" + strings.Join(marks, ", ") + ")", args
}

func (d Dialect) inIntClause(column string, values []int, args []interface{}) (string, []interface{}) {
	if d == DialectPostgres {
		ints := make([]int64, len(values))
		for i, v := range values {
			ints[i] = int64(v)
		}
		return column + " = ANY(?)", append(args, pq.Array(ints))
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		args = append(args, v)
	}
	return column + " IN (" + strings.Join(marks, ", ") + ")", args
}

// isUndefinedTable reports a query against a table that does not exist yet
func isUndefinedTable(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	return strings.Contains(err.Error(), "no such table")
}

var timeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// scanTime reads timestamps that sqlite may hand back as text
type scanTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner
func (t *scanTime) Scan(v interface{}) error {
	switch x := v.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = x, true
		return nil
	case []byte:
		return t.parse(string(x))
	case string:
		return t.parse(x)
	default:
		return fmt.Errorf("cannot scan %T into a timestamp", v)
	}
}

func (t *scanTime) parse(s string) error {
	for _, layout := range timeFormats {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
