package query

import (
	"context"
	"time"

	"MarginLedger/internal/book"
	"MarginLedger/internal/core"
	"MarginLedger/internal/price"
	"MarginLedger/internal/symbol"
)

// FeedStatus is the read side of the tick feed.
type FeedStatus interface {
	Status() int
	LastTick() time.Time
}

// QueryService serves read models. Account state is read on the engine
// loop, so every answer reflects a consistent point between two commands.
// The directory and price cache are safe to read from any goroutine.
type QueryService struct {
	engine *core.Engine
	dir    *symbol.Directory
	quotes *price.Cache
	feed   FeedStatus
}

// NewQueryService accepts a nil feed, which reports disconnected.
func NewQueryService(engine *core.Engine, quotes *price.Cache, feed FeedStatus) *QueryService {
	return &QueryService{engine: engine, dir: engine.Directory(), quotes: quotes, feed: feed}
}

func (qs *QueryService) Balance(ctx context.Context, sid uint64) (core.BalanceView, error) {
	var view core.BalanceView
	err := qs.engine.Do(ctx, func(e *core.Engine) { view = e.Balance(sid) })
	return view, err
}

func (qs *QueryService) Positions(ctx context.Context, sid uint64) (Records, error) {
	var out []*book.Order
	err := qs.engine.Do(ctx, func(e *core.Engine) { out = e.Positions(sid) })
	return records(out), err
}

func (qs *QueryService) Pending(ctx context.Context, sid uint64) (Records, error) {
	var out []*book.Order
	err := qs.engine.Do(ctx, func(e *core.Engine) { out = e.PendingOrders(sid) })
	return records(out), err
}

func records(orders []*book.Order) Records {
	if orders == nil {
		orders = []*book.Order{}
	}
	return Records{Total: len(orders), Records: orders}
}

func (qs *QueryService) Symbols() []SymbolInfo {
	syms := qs.dir.Symbols()
	out := make([]SymbolInfo, 0, len(syms))
	for _, s := range syms {
		out = append(out, SymbolInfo{
			Name:          s.Name,
			Security:      s.Security,
			Currency:      s.Currency,
			Digit:         s.Digit,
			ContractSize:  s.ContractSize,
			Percentage:    s.Percentage,
			TickSize:      s.TickSize,
			TickPrice:     s.TickPrice,
			MarginCalc:    int(s.MarginCalc),
			ProfitCalc:    int(s.ProfitCalc),
			SwapCalc:      int(s.SwapCalc),
			Schedule:      s.Schedule,
			StopOutExempt: s.StopOutExempt,
			Bid:           qs.quotes.Bid(s.Name),
			Ask:           qs.quotes.Ask(s.Name),
		})
	}
	return out
}

func (qs *QueryService) Groups() []GroupInfo {
	groups := qs.dir.Groups()
	out := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupInfo{Name: g.Name, Leverage: g.Leverage})
	}
	return out
}

func (qs *QueryService) TickStatus() TickStatus {
	if qs.feed == nil {
		return TickStatus{}
	}
	st := TickStatus{Status: qs.feed.Status()}
	if t := qs.feed.LastTick(); !t.IsZero() {
		st.LastTick = float64(t.UnixNano()) / 1e9
	}
	return st
}
