package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"MarginLedger/internal/command"
)

// EntryRow is one row of the operations table.
type EntryRow struct {
	ID     uint64
	Time   float64
	Method string
	Params string // JSON array
}

// NewEntryRow encodes an entry for storage.
func NewEntryRow(e *command.Entry) (EntryRow, error) {
	params, err := command.Encode(e.Command)
	if err != nil {
		return EntryRow{}, fmt.Errorf("encode entry %d: %w", e.ID, err)
	}
	return EntryRow{ID: e.ID, Time: e.Time, Method: string(e.Command.Method()), Params: string(params)}, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WriteEntries writes a batch of rows using one multi-row INSERT. Ids are
// assigned by the engine, so a re-sent batch is a no-op.
func (s *Store) WriteEntries(ctx context.Context, ex execer, rows []EntryRow) error {
	if len(rows) == 0 {
		return nil
	}

	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*4)
	for i, r := range rows {
		base := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, int64(r.ID), r.Time, r.Method, r.Params)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, time, method, params) VALUES `, s.operations) +
		strings.Join(values, ", ") +
		" ON CONFLICT (id) DO NOTHING"

	_, err := ex.ExecContext(ctx, s.Rebind(query), args...)
	return err
}

// Append writes entries in one transaction.
func (s *Store) Append(ctx context.Context, entries []command.Entry) error {
	rows := make([]EntryRow, 0, len(entries))
	for i := range entries {
		r, err := NewEntryRow(&entries[i])
		if err != nil {
			return err
		}
		rows = append(rows, r)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.WriteEntries(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}
