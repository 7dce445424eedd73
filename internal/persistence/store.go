package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"MarginLedger/internal/command"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names a supported database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Store is the op-log and snapshot store. Postgres keeps its tables in the
// oplog schema; SQLite has no schemas and uses prefixed table names.
type Store struct {
	db      *sql.DB
	dialect Dialect

	operations string
	snapshots  string
}

// NewPostgresStore wraps an open lib/pq handle.
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{db: db, dialect: Postgres, operations: "oplog.operations", snapshots: "oplog.snapshots"}
}

// NewSQLiteStore wraps an open modernc.org/sqlite handle.
func NewSQLiteStore(db *sql.DB) *Store {
	return &Store{db: db, dialect: SQLite, operations: "oplog_operations", snapshots: "oplog_snapshots"}
}

// OpenPostgres opens dsn and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Open opens the store selected by driver: dsn is used for postgres and
// path for sqlite.
func Open(ctx context.Context, driver, dsn, path string) (*Store, error) {
	switch Dialect(driver) {
	case Postgres, "":
		if dsn == "" {
			return nil, errors.New("postgres dsn is empty")
		}
		db, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(db), nil
	case SQLite:
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db), nil
	default:
		return nil, fmt.Errorf("unknown op-log driver %q", driver)
	}
}

func (s *Store) DB() *sql.DB      { return s.db }
func (s *Store) Dialect() Dialect { return s.dialect }
func (s *Store) Close() error     { return s.db.Close() }

// Rebind rewrites $n placeholders to SQLite's ?n form.
func (s *Store) Rebind(query string) string {
	if s.dialect == SQLite {
		return strings.ReplaceAll(query, "$", "?")
	}
	return query
}

// HistoryTable names a history table: history.<name> on Postgres,
// history_<name> on SQLite.
func (s *Store) HistoryTable(name string) string {
	if s.dialect == SQLite {
		return "history_" + name
	}
	return "history." + name
}

// LoadAfter returns up to limit entries with id > afterID in id order.
func (s *Store) LoadAfter(ctx context.Context, afterID uint64, limit int) ([]command.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.Rebind(fmt.Sprintf(`
		SELECT id, time, method, params
		FROM %s
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, s.operations)), int64(afterID), limit)
	if err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}
	defer rows.Close()

	var out []command.Entry
	for rows.Next() {
		var (
			id     int64
			t      float64
			method string
			params []byte
		)
		if err := rows.Scan(&id, &t, &method, &params); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		cmd, err := command.Decode(command.Method(method), params)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", id, err)
		}
		out = append(out, command.Entry{ID: uint64(id), Time: t, Command: cmd})
	}
	return out, rows.Err()
}

// LastID returns the highest stored op-log id, 0 for an empty log.
func (s *Store) LastID(ctx context.Context) (uint64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(id) FROM %s`, s.operations)).Scan(&id)
	if err != nil {
		return 0, err
	}
	if !id.Valid {
		return 0, nil
	}
	return uint64(id.Int64), nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.operations)).Scan(&n)
	return n, err
}
