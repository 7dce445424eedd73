package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarginLedger/internal/command"
)

var ErrReplayDiverged = errors.New("replay diverged from op-log")

// Replay re-applies one logged entry. Nothing is published, recorded or
// logged. Any failure means the log and the code disagree and is fatal.
func (e *Engine) Replay(entry command.Entry) error {
	if err := e.seq.Validate(entry.ID); err != nil {
		return err
	}
	code, logged := e.apply(entry.Command)
	if !code.OK() {
		return fmt.Errorf("%w: entry %d %s: %w", ErrReplayDiverged, entry.ID, entry.Command.Method(), &CodeError{Code: code})
	}
	if logged == nil || logged.Method() != entry.Command.Method() {
		return fmt.Errorf("%w: entry %d %s was not reproduced", ErrReplayDiverged, entry.ID, entry.Command.Method())
	}
	e.chain(entry)
	return nil
}

// EntrySource yields op-log entries in ascending id order, starting after
// a given id. It is implemented by the op-log stores.
type EntrySource interface {
	LoadAfter(ctx context.Context, afterID uint64, limit int) ([]command.Entry, error)
}

// ReplayBatchSize is how many entries are loaded per round trip.
const ReplayBatchSize = 1000

// ReplayFrom replays every entry after the engine's current op-log id.
func (e *Engine) ReplayFrom(ctx context.Context, src EntrySource) (int, error) {
	start := time.Now()
	n := 0
	for {
		batch, err := src.LoadAfter(ctx, e.seq.Last(), ReplayBatchSize)
		if err != nil {
			return n, fmt.Errorf("load op-log after %d: %w", e.seq.Last(), err)
		}
		for _, entry := range batch {
			if err := e.Replay(entry); err != nil {
				return n, err
			}
			n++
		}
		if e.metrics != nil {
			e.metrics.ReplayEntriesTotal.Add(float64(len(batch)))
		}
		if len(batch) < ReplayBatchSize {
			break
		}
	}
	if e.metrics != nil {
		e.metrics.ReplayDuration.Set(time.Since(start).Seconds())
		e.metrics.OplogID.Set(float64(e.seq.Last()))
	}
	e.log.Info().Int("entries", n).Uint64("last_id", e.seq.Last()).Dur("took", time.Since(start)).Msg("replay complete")
	return n, nil
}
