package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"MarginLedger/internal/core"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading engine images for recovery.
// A snapshot is marked verified once every op-log entry it covers is known
// to be stored; only verified snapshots are used to boot.
type SnapshotManager struct {
	store *Store
}

// SnapshotInfo describes a stored snapshot without its image.
type SnapshotInfo struct {
	ID          string
	LastOplogID uint64
	StateHash   string
	SizeBytes   int
	Verified    bool
	CreatedAt   time.Time
}

func NewSnapshotManager(store *Store) *SnapshotManager {
	return &SnapshotManager{store: store}
}

// SaveSnapshot persists an image and returns its id. A later image at the
// same op-log id replaces the earlier one.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, img *core.Image, verified bool) (string, int, error) {
	id := uuid.New().String()
	img.ID = id
	data, err := json.Marshal(img)
	if err != nil {
		return "", 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	s := sm.store
	_, err = s.db.ExecContext(ctx, s.Rebind(fmt.Sprintf(`
		INSERT INTO %s
			(snapshot_id, last_oplog_id, data, state_hash, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (last_oplog_id) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			data = excluded.data,
			state_hash = excluded.state_hash,
			size_bytes = excluded.size_bytes,
			verified = excluded.verified,
			created_at = excluded.created_at
	`, s.snapshots)), id, int64(img.LastOplogID), string(data), img.StateHash, len(data), verified, time.Now().UTC())
	if err != nil {
		return "", 0, fmt.Errorf("save snapshot: %w", err)
	}
	return id, len(data), nil
}

// LoadLatestSnapshot loads the most recent verified image, nil when there
// is none (cold start).
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.Image, error) {
	s := sm.store
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT data FROM %s
		WHERE verified = TRUE
		ORDER BY last_oplog_id DESC
		LIMIT 1
	`, s.snapshots))

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var img core.Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &img, nil
}

// MarkVerified marks the snapshot taken at lastOplogID as verified.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, lastOplogID uint64) error {
	s := sm.store
	_, err := s.db.ExecContext(ctx, s.Rebind(fmt.Sprintf(`
		UPDATE %s SET verified = TRUE WHERE last_oplog_id = $1
	`, s.snapshots)), int64(lastOplogID))
	return err
}

// List returns every stored snapshot, newest first.
func (sm *SnapshotManager) List(ctx context.Context) ([]SnapshotInfo, error) {
	s := sm.store
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT snapshot_id, last_oplog_id, state_hash, size_bytes, verified, created_at
		FROM %s
		ORDER BY last_oplog_id DESC
	`, s.snapshots))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info SnapshotInfo
			last int64
		)
		if err := rows.Scan(&info.ID, &last, &info.StateHash, &info.SizeBytes, &info.Verified, &info.CreatedAt); err != nil {
			return nil, err
		}
		info.LastOplogID = uint64(last)
		out = append(out, info)
	}
	return out, rows.Err()
}
