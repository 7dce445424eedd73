package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"MarginLedger/internal/persistence"

	"github.com/spf13/cobra"
)

// ErrDiverged is returned by verify when two replays disagree.
var ErrDiverged = errors.New("replays diverged")

func newReplayCmd(opts *options) *cobra.Command {
	var fromSnapshot bool
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild engine state from the op-log and print its hashes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir, err := opts.loadDirectory()
			if err != nil {
				return err
			}
			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := opts.replay(ctx, store, dir, fromSnapshot)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Snapshot != "" {
				fmt.Fprintf(out, "snapshot:   %s\n", res.Snapshot)
			}
			fmt.Fprintf(out, "entries:    %d\n", res.Entries)
			fmt.Fprintf(out, "last id:    %d\n", res.LastID)
			fmt.Fprintf(out, "state hash: %s\n", res.Hash)
			fmt.Fprintf(out, "digest:     %s\n", res.Digest)
			fmt.Fprintf(out, "took:       %s\n", res.Took)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromSnapshot, "from-snapshot", false, "start from the latest verified snapshot")
	return cmd
}

func newVerifyCmd(opts *options) *cobra.Command {
	var fromSnapshot bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay the op-log twice and check both runs reach the same state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir, err := opts.loadDirectory()
			if err != nil {
				return err
			}
			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			first, err := opts.replay(ctx, store, dir, fromSnapshot)
			if err != nil {
				return fmt.Errorf("first run: %w", err)
			}
			second, err := opts.replay(ctx, store, dir, fromSnapshot)
			if err != nil {
				return fmt.Errorf("second run: %w", err)
			}

			out := cmd.OutOrStdout()
			if first.LastID != second.LastID {
				return fmt.Errorf("%w: last id %d vs %d", ErrDiverged, first.LastID, second.LastID)
			}
			if first.Hash != second.Hash {
				return fmt.Errorf("%w: state hash %s vs %s", ErrDiverged, first.Hash, second.Hash)
			}
			if first.Digest != second.Digest {
				return fmt.Errorf("%w: digest %s vs %s", ErrDiverged, first.Digest, second.Digest)
			}
			fmt.Fprintf(out, "OK %d entries, last id %d, digest %s\n", first.Entries, first.LastID, first.Digest)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromSnapshot, "from-snapshot", false, "start both runs from the latest verified snapshot")
	return cmd
}

func newDumpCmd(opts *options) *cobra.Command {
	var (
		after  uint64
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print op-log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			printed := 0
			for limit <= 0 || printed < limit {
				batch, err := store.LoadAfter(ctx, after, 1000)
				if err != nil {
					return err
				}
				if len(batch) == 0 {
					return nil
				}
				for i := range batch {
					if limit > 0 && printed >= limit {
						return nil
					}
					row, err := persistence.NewEntryRow(&batch[i])
					if err != nil {
						return err
					}
					if asJSON {
						enc.Encode(map[string]any{
							"id":     row.ID,
							"time":   row.Time,
							"method": row.Method,
							"params": json.RawMessage(row.Params),
						})
					} else {
						fmt.Fprintf(out, "%d\t%.6f\t%s\t%s\n", row.ID, row.Time, row.Method, row.Params)
					}
					after = row.ID
					printed++
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "print entries with id greater than this")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many entries (0 prints all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per line")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	var markVerified bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show op-log size and stored snapshots",
		Long: `status prints the number of stored entries, the highest id and every
snapshot. With --mark-verified, unverified snapshots whose entries are all
stored are marked verified so the service can boot from them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := store.Count(ctx)
			if err != nil {
				return err
			}
			last, err := store.LastID(ctx)
			if err != nil {
				return err
			}
			snaps := persistence.NewSnapshotManager(store)
			infos, err := snaps.List(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "entries: %d\nlast id: %d\n", count, last)
			if len(infos) == 0 {
				fmt.Fprintln(out, "no snapshots")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SNAPSHOT\tLAST ID\tSIZE\tVERIFIED\tCREATED")
			for _, info := range infos {
				verified := info.Verified
				if !verified && markVerified && info.LastOplogID <= last {
					if err := snaps.MarkVerified(ctx, info.LastOplogID); err != nil {
						return err
					}
					verified = true
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%t\t%s\n", info.ID, info.LastOplogID, info.SizeBytes, verified,
					info.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&markVerified, "mark-verified", false, "verify snapshots covered by the stored log")
	return cmd
}
