package persistence

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"MarginLedger/internal/core"
	"MarginLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Retry backoff bounds for a failed flush.
const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// PersistenceWorker drains the persist channel and batch-writes the op-log.
// The engine sends to it blocking, so if this worker falls behind the
// engine stalls and no entry is lost. Snapshots arrive on the same channel
// and are saved only after every entry queued before them is written.
type PersistenceWorker struct {
	store        *Store
	snapshots    *SnapshotManager
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	healthy atomic.Bool
	lastID  atomic.Uint64
}

func NewPersistenceWorker(
	store *Store,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	pw := &PersistenceWorker{
		store:        store,
		snapshots:    NewSnapshotManager(store),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
	pw.healthy.Store(true)
	return pw
}

// Healthy is false while a flush is failing.
func (pw *PersistenceWorker) Healthy() bool { return pw.healthy.Load() }

// LastID is the highest op-log id known to be stored.
func (pw *PersistenceWorker) LastID() uint64 { return pw.lastID.Load() }

// SetLastID seeds LastID after boot.
func (pw *PersistenceWorker) SetLastID(id uint64) { pw.lastID.Store(id) }

// Run batches incoming entries and flushes when the batch is full or the
// flush timeout expires. It returns when the input channel is closed, or
// when ctx is cancelled after draining what is already queued.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]EntryRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, batch); err != nil {
			pw.logger.Error().Err(err).Int("entries", len(batch)).Msg("batch flush failed after retries")
		}
		batch = batch[:0]
	}

	handle := func(ctx context.Context, out core.Output) {
		if out.Entry != nil {
			row, err := NewEntryRow(out.Entry)
			if err != nil {
				pw.logger.Error().Err(err).Msg("dropping unencodable entry")
				pw.countError("encode")
				return
			}
			batch = append(batch, row)
			if len(batch) >= pw.batchSize {
				flush(ctx)
				timer.Reset(pw.flushTimeout)
			}
		}
		if out.Snapshot != nil {
			flush(ctx)
			pw.saveSnapshot(ctx, out.Snapshot)
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: write what is already queued.
			final := context.Background()
			for {
				select {
				case out, ok := <-pw.inputChan:
					if !ok {
						flush(final)
						return ctx.Err()
					}
					handle(final, out)
				default:
					flush(final)
					return ctx.Err()
				}
			}

		case out, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background())
				return nil
			}
			handle(ctx, out)

		case <-timer.C:
			flush(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries a failed write with exponential backoff. The
// worker never drops entries: it retries until the write succeeds or the
// context is cancelled, then makes one last attempt.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, rows []EntryRow) error {
	backoff := initialBackoff

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("entries", len(rows)).Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), rows); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, rows)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Error().Err(err).Msg("persistence flush failed")
		if pw.metrics != nil {
			pw.metrics.PersistRetry.Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, rows []EntryRow) error {
	start := time.Now()

	tx, err := pw.store.db.BeginTx(ctx, nil)
	if err != nil {
		pw.fail("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.store.WriteEntries(ctx, tx, rows); err != nil {
		pw.fail("write_entries")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.fail("tx_commit")
		return err
	}

	last := rows[len(rows)-1].ID
	pw.lastID.Store(last)
	pw.healthy.Store(true)
	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(rows)))
		pw.metrics.PersistEntriesWritten.Add(float64(len(rows)))
		pw.metrics.PersistLastID.Set(float64(last))
	}
	return nil
}

func (pw *PersistenceWorker) saveSnapshot(ctx context.Context, img *core.Image) {
	verified := pw.lastID.Load() >= img.LastOplogID
	id, size, err := pw.snapshots.SaveSnapshot(ctx, img, verified)
	if err != nil {
		pw.logger.Error().Err(err).Uint64("last_oplog_id", img.LastOplogID).Msg("snapshot save failed")
		pw.countError("snapshot")
		return
	}
	pw.logger.Info().
		Str("snapshot_id", id).
		Uint64("last_oplog_id", img.LastOplogID).
		Int("size_bytes", size).
		Bool("verified", verified).
		Msg("snapshot saved")
	if pw.metrics != nil {
		pw.metrics.SnapshotTaken.Inc()
		pw.metrics.SnapshotSizeBytes.Set(float64(size))
		pw.metrics.SnapshotLastID.Set(float64(img.LastOplogID))
	}
}

func (pw *PersistenceWorker) fail(kind string) {
	pw.healthy.Store(false)
	pw.countError(kind)
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
