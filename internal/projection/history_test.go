package projection_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"MarginLedger/internal/book"
	"MarginLedger/internal/core"
	"MarginLedger/internal/persistence"
	"MarginLedger/internal/projection"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHistory(t *testing.T) (*projection.HistoryWriter, *persistence.Store) {
	t.Helper()
	db, err := persistence.OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	store := persistence.NewSQLiteStore(db)
	t.Cleanup(func() { store.Close() })
	_, err = persistence.NewMigrator(store, zerolog.Nop()).Up(context.Background())
	require.NoError(t, err)
	return projection.NewHistoryWriter(store), store
}

func position(id uint64) *book.Order {
	return &book.Order{
		ID: id, Kind: book.KindMarket, Side: book.SideBuy, SID: 1001, Symbol: "EURUSD",
		Lot: decimal.RequireFromString("0.1"), Price: decimal.RequireFromString("1.1001"),
		Margin: decimal.RequireFromString("110.01"), Fee: decimal.RequireFromString("0.7"),
		CreateTime: 1760000000.5,
	}
}

func TestHistoryWriter_BalanceRows(t *testing.T) {
	h, _ := newHistory(t)
	ctx := context.Background()

	for i, change := range []string{"10000", "-0.7", "12.5"} {
		require.NoError(t, h.WriteBalance(ctx, &core.BalanceRecord{
			Time: 1760000000 + float64(i), SID: 1001, OrderID: uint64(i), Business: core.BusinessTrade,
			Change: decimal.RequireFromString(change), Balance: decimal.RequireFromString("100"), Comment: "c",
		}))
	}
	require.NoError(t, h.WriteBalance(ctx, &core.BalanceRecord{SID: 1002, Business: core.BusinessUpdate,
		Change: decimal.NewFromInt(1), Balance: decimal.NewFromInt(1)}))

	rows, err := h.Balances(ctx, 1001, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "12.5", rows[0].Change)
	assert.Equal(t, uint64(2), rows[0].OrderID)
	assert.Equal(t, core.BusinessTrade, rows[0].Business)
	assert.True(t, h.Healthy())
}

func TestHistoryWriter_PositionAppendThenFinish(t *testing.T) {
	h, store := newHistory(t)
	ctx := context.Background()

	o := position(7)
	require.NoError(t, h.Apply(ctx, core.Notification{Kind: core.NotePositionOpen, Order: o}))

	closed := o.Clone()
	closed.ClosePrice = decimal.RequireFromString("1.11")
	closed.Profit = decimal.RequireFromString("99.9")
	closed.FinishTime = 1760000100.25
	closed.Comment = "tp"
	require.NoError(t, h.Apply(ctx, core.Notification{Kind: core.NotePositionFinish, Order: closed}))

	var (
		n       int
		profit  string
		comment string
	)
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM history_positions`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, store.DB().QueryRow(`SELECT profit, comment FROM history_positions WHERE order_id = 7`).Scan(&profit, &comment))
	assert.Equal(t, "99.9", profit)
	assert.Equal(t, "tp", comment)
}

func TestHistoryWriter_PendingStatus(t *testing.T) {
	h, _ := newHistory(t)
	ctx := context.Background()

	cases := []struct {
		name string
		note core.Notification
		want projection.PendingStatus
	}{
		{"cancelled", core.Notification{Kind: core.NoteLimitFinish, Event: core.EventCancel}, projection.PendingCancelled},
		{"expired", core.Notification{Kind: core.NoteLimitFinish, Event: core.EventExpire}, projection.PendingExpired},
		{"activated", core.Notification{Kind: core.NoteLimitFinish, Activated: true}, projection.PendingActivated},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := position(uint64(100 + i))
			o.Kind = book.KindLimit
			require.NoError(t, h.Apply(ctx, core.Notification{Kind: core.NoteLimitPlace, Order: o}))

			status, err := h.PendingStatusOf(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, projection.PendingOpen, status)

			tc.note.Order = o
			require.NoError(t, h.Apply(ctx, tc.note))
			status, err = h.PendingStatusOf(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, status)
		})
	}

	_, err := h.PendingStatusOf(ctx, 999)
	assert.ErrorIs(t, err, book.ErrOrderNotFound)
}

func TestHistoryWriter_UnhealthyAfterFailure(t *testing.T) {
	h, store := newHistory(t)
	require.NoError(t, store.Close())

	err := h.AppendPosition(context.Background(), position(1))
	require.Error(t, err)
	assert.False(t, h.Healthy())
}

// ============================================================================
// Worker
// ============================================================================

type recorder struct {
	mu       sync.Mutex
	orders   []core.EventCode
	balances []decimal.Decimal
	history  []core.NotificationKind
	err      error
}

func (r *recorder) PublishOrder(_ context.Context, ev core.EventCode, _ *book.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, ev)
	return r.err
}

func (r *recorder) PublishBalance(_ context.Context, b *core.BalanceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances = append(r.balances, b.Change)
	return r.err
}

func (r *recorder) Apply(_ context.Context, n core.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, n.Kind)
	return r.err
}

func TestProjectionWorker_RoutesByKind(t *testing.T) {
	rec := &recorder{}
	in := make(chan core.Notification, 8)
	w := projection.NewProjectionWorker(in, rec, rec, nil, zerolog.Nop())

	in <- core.Notification{Kind: core.NoteOrderEvent, Event: core.EventOpen, Order: position(1)}
	in <- core.Notification{Kind: core.NoteBalanceMessage, Balance: &core.BalanceRecord{Change: decimal.NewFromInt(5)}}
	in <- core.Notification{Kind: core.NotePositionOpen, Order: position(1)}
	in <- core.Notification{Kind: core.NoteBalanceHistory, Balance: &core.BalanceRecord{}}
	close(in)

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, []core.EventCode{core.EventOpen}, rec.orders)
	require.Len(t, rec.balances, 1)
	assert.Equal(t, []core.NotificationKind{core.NotePositionOpen, core.NoteBalanceHistory}, rec.history)
}

func TestProjectionWorker_ContinuesAfterFailure(t *testing.T) {
	rec := &recorder{err: errors.New("down")}
	in := make(chan core.Notification, 4)
	w := projection.NewProjectionWorker(in, rec, nil, nil, zerolog.Nop())

	in <- core.Notification{Kind: core.NotePositionOpen, Order: position(1)}
	in <- core.Notification{Kind: core.NoteOrderEvent, Event: core.EventOpen, Order: position(1)}
	in <- core.Notification{Kind: core.NotePositionFinish, Order: position(1)}
	close(in)

	require.NoError(t, w.Run(context.Background()))
	assert.Len(t, rec.history, 2)
	assert.Empty(t, rec.orders, "no publisher configured")
}
