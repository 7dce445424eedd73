package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// Migrator runs SQL migration files in order.
// File naming follows golang-migrate: {version}_{name}.up.sql / .down.sql
type Migrator struct {
	store  *Store
	files  fs.FS
	table  string
	logger zerolog.Logger
}

// NewMigrator uses the migrations embedded for the store's dialect.
func NewMigrator(store *Store, logger zerolog.Logger) *Migrator {
	sub, err := fs.Sub(migrationFiles, "migrations/"+string(store.dialect))
	if err != nil {
		panic(fmt.Sprintf("FATAL: embedded migrations for %s: %v", store.dialect, err))
	}
	return NewMigratorFS(store, sub, logger)
}

// NewMigratorFS reads migrations from files instead.
func NewMigratorFS(store *Store, files fs.FS, logger zerolog.Logger) *Migrator {
	table := "public.schema_migrations"
	if store.dialect == SQLite {
		table = "schema_migrations"
	}
	return &Migrator{store: store, files: files, table: table, logger: logger}
}

// Up applies all pending up-migrations in order and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return 0, fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("get applied versions: %w", err)
	}

	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}

	n := 0
	for _, f := range files {
		version := extractVersion(f)
		if applied[version] {
			continue
		}
		if err := m.run(ctx, f, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, m.store.Rebind(fmt.Sprintf(
				`INSERT INTO %s (version, filename) VALUES ($1, $2)`, m.table)), version, f)
			return err
		}); err != nil {
			return n, err
		}
		m.logger.Info().Str("file", f).Msg("applied migration")
		n++
	}
	return n, nil
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return err
	}

	var version, filename string
	err := m.store.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT version, filename FROM %s ORDER BY version DESC LIMIT 1`, m.table),
	).Scan(&version, &filename)
	if err == sql.ErrNoRows {
		m.logger.Info().Msg("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get latest migration: %w", err)
	}

	downFile := strings.Replace(filename, ".up.sql", ".down.sql", 1)
	if err := m.run(ctx, downFile, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, m.store.Rebind(fmt.Sprintf(
			`DELETE FROM %s WHERE version = $1`, m.table)), version)
		return err
	}); err != nil {
		return err
	}

	m.logger.Info().Str("file", downFile).Msg("rolled back migration")
	return nil
}

// Versions lists the applied migration versions in order.
func (m *Migrator) Versions(ctx context.Context) ([]string, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(applied))
	for v := range applied {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// run executes one migration file and its bookkeeping in a transaction.
func (m *Migrator) run(ctx context.Context, file string, record func(*sql.Tx) error) error {
	content, err := fs.ReadFile(m.files, file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := m.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	appliedAt := "TIMESTAMPTZ NOT NULL DEFAULT NOW()"
	if m.store.dialect == SQLite {
		appliedAt = "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"
	}
	_, err := m.store.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at %s
		)
	`, m.table, appliedAt))
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.store.db.QueryContext(ctx, fmt.Sprintf(`SELECT version FROM %s`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) listMigrationFiles(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}

	sort.Strings(files)
	return files, nil
}

// extractVersion returns the numeric prefix from a migration filename,
// e.g. "000001_oplog.up.sql" gives "000001".
func extractVersion(filename string) string {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) > 0 {
		return parts[0]
	}
	return filename
}
