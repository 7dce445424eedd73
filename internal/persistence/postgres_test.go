package persistence_test

import (
	"context"
	"testing"

	"MarginLedger/internal/command"
	"MarginLedger/internal/core"
	"MarginLedger/internal/persistence"
	"MarginLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Integration(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := persistence.NewPostgresStore(db)
	ctx := context.Background()

	_, err := persistence.NewMigrator(store, zerolog.Nop()).Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, "history.balance", store.HistoryTable("balance"))

	entries := []command.Entry{deposit(1, "100"), deposit(2, "-40")}
	require.NoError(t, store.Append(ctx, entries))
	require.NoError(t, store.Append(ctx, entries))

	got, err := store.LoadAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entries[1].Time, got[1].Time)

	sm := persistence.NewSnapshotManager(store)
	_, _, err = sm.SaveSnapshot(ctx, &core.Image{LastOplogID: 2, StateHash: "ff"}, true)
	require.NoError(t, err)
	img, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "ff", img.StateHash)
}
