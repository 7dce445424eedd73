package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"MarginLedger/internal/book"
	"MarginLedger/internal/command"
	"MarginLedger/internal/core"
	"MarginLedger/internal/persistence"
	"MarginLedger/internal/price"
	"MarginLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedLog runs a few operations on a live engine and stores its op-log in a
// fresh SQLite database. It returns the flags that point oplogctl at it.
func seedLog(t *testing.T) []string {
	t.Helper()
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "oplog.db")
	dirPath := filepath.Join(tmp, "directory.yaml")
	require.NoError(t, os.WriteFile(dirPath, []byte(testutil.DirectoryYAML), 0o644))

	db, err := persistence.OpenSQLite(dbPath)
	require.NoError(t, err)
	store := persistence.NewSQLiteStore(db)
	defer store.Close()
	_, err = persistence.NewMigrator(store, zerolog.Nop()).Up(context.Background())
	require.NoError(t, err)

	now := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)
	quotes := price.NewCache(nil)
	quotes.Update(price.Quote{Symbol: "EURUSD", Bid: decimal.RequireFromString("1.1"), Ask: decimal.RequireFromString("1.1002"), Time: now})

	persist := make(chan core.Output, 64)
	eng := core.New(testutil.Directory(t), quotes, core.Config{
		StopOutLevel: decimal.RequireFromString("0.5"),
		Clock:        func() time.Time { return now },
	}, core.Outputs{Persist: persist}, zerolog.Nop(), nil)

	_, code := eng.UpdateBalance(1001, decimal.NewFromInt(1000), "deposit")
	require.Equal(t, core.CodeOK, code)
	o, code := eng.Open(core.OpenRequest{
		SID: 1001, Group: "standard", Symbol: "EURUSD", Side: book.SideBuy,
		Lot: decimal.RequireFromString("0.1"),
	})
	require.Equal(t, core.CodeOK, code)
	_, code = eng.Close(core.OrderRef{SID: 1001, Symbol: "EURUSD", ID: o.ID}, "")
	require.Equal(t, core.CodeOK, code)

	var entries []command.Entry
	for len(persist) > 0 {
		if out := <-persist; out.Entry != nil {
			entries = append(entries, *out.Entry)
		}
	}
	require.Len(t, entries, 3)
	require.NoError(t, store.Append(context.Background(), entries))
	_, _, err = persistence.NewSnapshotManager(store).SaveSnapshot(context.Background(), eng.Image(), false)
	require.NoError(t, err)

	return []string{"--driver", "sqlite", "--sqlite-path", dbPath, "--directory", dirPath}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVerify_ReplaysMatch(t *testing.T) {
	flags := seedLog(t)
	out, err := run(t, append([]string{"verify"}, flags...)...)
	require.NoError(t, err, out)
	assert.True(t, strings.HasPrefix(out, "OK 3 entries, last id 3"), out)
}

func TestReplay_PrintsHashes(t *testing.T) {
	flags := seedLog(t)
	out, err := run(t, append([]string{"replay"}, flags...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "entries:    3")
	assert.Contains(t, out, "last id:    3")
	assert.Contains(t, out, "state hash: ")
}

func TestDump_Limit(t *testing.T) {
	flags := seedLog(t)
	out, err := run(t, append([]string{"dump", "--after", "1", "--limit", "1"}, flags...)...)
	require.NoError(t, err, out)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "2\t"), lines[0])
	assert.Contains(t, lines[0], string(command.MethodOpenOrder))

	out, err = run(t, append([]string{"dump", "--json"}, flags...)...)
	require.NoError(t, err, out)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)
	assert.Contains(t, out, `"method":"update_balance"`)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := run(t, "dump", "--driver", "mysql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown op-log driver")
}

func TestStatus_MarkVerified(t *testing.T) {
	flags := seedLog(t)
	out, err := run(t, append([]string{"status"}, flags...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "entries: 3")
	assert.Contains(t, out, "last id: 3")
	assert.Contains(t, out, "false")

	out, err = run(t, append([]string{"status", "--mark-verified"}, flags...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "true")

	// the promoted snapshot now boots a replay
	out, err = run(t, append([]string{"replay", "--from-snapshot"}, flags...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "snapshot:")
	assert.Contains(t, out, "entries:    0")
	assert.Contains(t, out, "last id:    3")
}
