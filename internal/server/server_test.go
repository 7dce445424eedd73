package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"MarginLedger/internal/book"
	"MarginLedger/internal/core"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/price"
	"MarginLedger/internal/projection"
	"MarginLedger/internal/query"
	"MarginLedger/internal/server"
	"MarginLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// --- Test helpers ---

const alice uint64 = 1001

type flag struct{ down atomic.Bool }

func (f *flag) Healthy() bool { return !f.down.Load() }

type fixture struct {
	client  *server.Client
	queries *query.QueryService
	gate    *flag
	stop    func()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := testutil.Directory(t)
	quotes := price.NewCache(dir.FixedQuotes())
	wednesday := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)
	quotes.Update(price.Quote{Symbol: "EURUSD", Bid: decimal.RequireFromString("1.1"), Ask: decimal.RequireFromString("1.1001"), Time: wednesday})

	eng := core.New(dir, quotes, core.Config{
		StopOutLevel: decimal.RequireFromString("0.5"),
		Location:     time.UTC,
		Clock:        func() time.Time { return wednesday },
	}, core.Outputs{}, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		eng.Run(ctx, core.LoopConfig{})
	}()

	gate := &flag{}
	queries := query.NewQueryService(eng, quotes, nil)
	svc := server.NewService(eng, queries, gate)
	srv := server.NewGRPCServer("bufnet", svc, observability.NewMetricsWith(nil), zerolog.Nop())

	lis := bufconn.Listen(1 << 20)
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		srv.Serve(ctx, lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	f := &fixture{client: server.NewClient(conn), queries: queries, gate: gate}
	f.stop = func() {
		conn.Close()
		cancel()
		<-serveDone
		<-loopDone
	}
	t.Cleanup(f.stop)
	return f
}

func (f *fixture) call(t *testing.T, method string, params []any, out any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.client.Call(ctx, method, params, out)
}

func (f *fixture) deposit(t *testing.T, amount string) {
	t.Helper()
	var view core.BalanceView
	require.NoError(t, f.call(t, "balance.update", []any{alice, amount, "deposit"}, &view))
}

func openParams(lot string) []any {
	return []any{alice, "standard", "EURUSD", int(book.SideBuy), lot, "", "", 0, "rpc"}
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, server.ParseError(err).Code, err.Error())
}

// --- Tests ---

func TestService_BalanceUpdateAndQuery(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "1000")

	var view core.BalanceView
	require.NoError(t, f.call(t, "balance.query", []any{alice}, &view))
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(1000)), view.Balance.String())
	assert.True(t, view.MarginFree.Equal(decimal.NewFromInt(1000)), view.MarginFree.String())
}

func TestService_OpenCloseRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "1000")

	var o book.Order
	require.NoError(t, f.call(t, "order.open", openParams("0.1"), &o))
	assert.NotZero(t, o.ID)
	assert.Equal(t, "EURUSD", o.Symbol)
	assert.Equal(t, "rpc", o.Comment)

	var recs query.Records
	require.NoError(t, f.call(t, "order.position", []any{alice}, &recs))
	require.Equal(t, 1, recs.Total)
	assert.Equal(t, o.ID, recs.Records[0].ID)

	var closed book.Order
	require.NoError(t, f.call(t, "order.close", []any{alice, "EURUSD", o.ID, ""}, &closed))
	assert.Equal(t, o.ID, closed.ID)

	require.NoError(t, f.call(t, "order.position", []any{alice}, &recs))
	assert.Equal(t, 0, recs.Total)
	assert.Empty(t, recs.Records)
}

func TestService_ErrorCodes(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "1000")

	t.Run("insufficient balance", func(t *testing.T) {
		var trailer metadata.MD
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := f.client.Call(ctx, "order.open", openParams("100"), &book.Order{}, grpc.Trailer(&trailer))
		requireCode(t, err, server.ErrBalanceNotEnough.Code)
		assert.Equal(t, codes.FailedPrecondition, status.Code(err))
		assert.Equal(t, []string{"10"}, trailer.Get(server.ErrorCodeTrailer))
	})

	t.Run("wrong arity", func(t *testing.T) {
		err := f.call(t, "balance.query", []any{}, &core.BalanceView{})
		requireCode(t, err, server.ErrInvalidArgument.Code)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("wrong param type", func(t *testing.T) {
		err := f.call(t, "balance.update", []any{alice, 5, "deposit"}, &core.BalanceView{})
		requireCode(t, err, server.ErrInvalidArgument.Code)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		params := []any{alice, "standard", "NOPE", int(book.SideBuy), "0.1", "", "", 0, ""}
		requireCode(t, f.call(t, "order.open", params, &book.Order{}), server.ErrInvalidArgument.Code)
	})

	t.Run("close unknown position", func(t *testing.T) {
		err := f.call(t, "order.close", []any{alice, "EURUSD", 999, ""}, &book.Order{})
		requireCode(t, err, server.ErrOrderNotFound.Code)
	})

	t.Run("cancel unknown pending keeps its own number", func(t *testing.T) {
		err := f.call(t, "order.cancel", []any{alice, "EURUSD", 999, ""}, &book.Order{})
		requireCode(t, err, 10)
	})

	t.Run("limit with market kind", func(t *testing.T) {
		params := []any{alice, "standard", "EURUSD", int(book.SideBuy), "0.1", int(book.KindMarket), "1.05", "", "", 0, 0, ""}
		requireCode(t, f.call(t, "order.limit", params, &book.Order{}), server.ErrInvalidArgument.Code)
	})
}

func TestService_PendingLifecycle(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "1000")

	var o book.Order
	params := []any{alice, "standard", "EURUSD", int(book.SideBuy), "0.1", int(book.KindLimit), "1.05", "", "", 0, 0, ""}
	require.NoError(t, f.call(t, "order.limit", params, &o))
	assert.Equal(t, book.KindLimit, o.Kind)

	var recs query.Records
	require.NoError(t, f.call(t, "order.pending", []any{alice}, &recs))
	require.Equal(t, 1, recs.Total)

	err := f.call(t, "order.cancel", []any{alice + 1, "EURUSD", o.ID, ""}, &book.Order{})
	requireCode(t, err, 11)

	require.NoError(t, f.call(t, "order.cancel", []any{alice, "EURUSD", o.ID, "user"}, &book.Order{}))
	require.NoError(t, f.call(t, "order.pending", []any{alice}, &recs))
	assert.Equal(t, 0, recs.Total)
}

func TestService_UnhealthyGateRefusesMutations(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "1000")
	f.gate.down.Store(true)

	err := f.call(t, "balance.update", []any{alice, "5", "deposit"}, &core.BalanceView{})
	requireCode(t, err, server.ErrUnavailable.Code)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	// reads still work
	var view core.BalanceView
	require.NoError(t, f.call(t, "balance.query", []any{alice}, &view))
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(1000)))

	f.gate.down.Store(false)
	require.NoError(t, f.call(t, "balance.update", []any{alice, "5", "deposit"}, &view))
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(1005)))
}

func TestService_DirectoryQueries(t *testing.T) {
	f := newFixture(t)

	var groups []query.GroupInfo
	require.NoError(t, f.call(t, "group.list", nil, &groups))
	assert.Len(t, groups, 3)

	var symbols []query.SymbolInfo
	require.NoError(t, f.call(t, "symbol.list", nil, &symbols))
	require.NotEmpty(t, symbols)
	for _, s := range symbols {
		if s.Name == "EURUSD" {
			assert.True(t, s.Ask.Equal(decimal.RequireFromString("1.1001")))
		}
	}

	var st query.TickStatus
	require.NoError(t, f.call(t, "tick.status", nil, &st))
	assert.Equal(t, 0, st.Status)

	requireCode(t, f.call(t, "group.list", []any{1}, &groups), server.ErrInvalidArgument.Code)
}

func TestRPCError_ParseRoundTrip(t *testing.T) {
	err := status.Error(codes.FailedPrecondition, server.ErrMarketClosed.Error())
	got := server.ParseError(err)
	assert.Equal(t, 20, got.Code)
	assert.Equal(t, "market is close", got.Message)

	assert.Nil(t, server.ParseError(nil))
	assert.Equal(t, 2, server.ParseError(status.Error(codes.Unknown, "boom")).Code)
}

// --- Admin router ---

func TestAdminRouter(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "250")

	health := observability.NewHealthChecker()
	writer := &flag{}
	health.Register("oplog", writer.Healthy)
	ts := httptest.NewServer(server.NewAdminRouter(f.queries, nil, health, http.NotFoundHandler()))
	defer ts.Close()

	get := func(path string) (int, map[string]any) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	code, _ := get("/health/live")
	assert.Equal(t, http.StatusOK, code)

	code, body := get("/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "replaying", body["boot"])

	health.SetReady(true)
	code, _ = get("/health/ready")
	assert.Equal(t, http.StatusOK, code)

	writer.down.Store(true)
	code, body = get("/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, []any{"oplog"}, body["failing"])

	code, body = get("/v1/balance/1001")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "250", body["balance"])

	code, body = get("/v1/positions/1001")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["total"])

	code, body = get("/v1/balance/abc")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.EqualValues(t, 1, body["code"])

	code, body = get("/v1/tick/status")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["status"])
}

type fakeHistory struct{ limit int }

func (h *fakeHistory) Balances(_ context.Context, sid uint64, limit int) ([]projection.BalanceRow, error) {
	h.limit = limit
	if sid != alice {
		return nil, nil
	}
	return []projection.BalanceRow{{SID: sid, Business: core.BusinessUpdate, Change: "250", Balance: "250"}}, nil
}

func (h *fakeHistory) PendingStatusOf(_ context.Context, id uint64) (projection.PendingStatus, error) {
	if id != 42 {
		return 0, book.ErrOrderNotFound
	}
	return projection.PendingCancelled, nil
}

func TestAdminRouter_BalanceHistory(t *testing.T) {
	f := newFixture(t)
	hist := &fakeHistory{}
	ts := httptest.NewServer(server.NewAdminRouter(f.queries, hist, observability.NewHealthChecker(), http.NotFoundHandler()))
	defer ts.Close()

	get := func(path string) (int, []map[string]any) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	code, rows := get("/v1/history/balance/1001?limit=5")
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, rows, 1)
	assert.Equal(t, "250", rows[0]["balance"])
	assert.Equal(t, 5, hist.limit)

	code, rows = get("/v1/history/balance/7?limit=5000")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, rows)
	assert.Equal(t, 100, hist.limit)

	resp, err := http.Get(ts.URL + "/v1/history/pending/42")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, projection.PendingCancelled, st["status"])

	resp, err = http.Get(ts.URL + "/v1/history/pending/43")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
