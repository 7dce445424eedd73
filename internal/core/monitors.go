package core

import (
	"fmt"
	"sort"

	"MarginLedger/internal/book"
	"MarginLedger/internal/command"
	"MarginLedger/internal/ledger"
	"MarginLedger/internal/margin"

	"github.com/shopspring/decimal"
)

// MarkDirty records that symbol's quote moved. The tp/sl, stop-out and
// limit sweeps only look at dirty symbols. The first tick arms stop-out.
func (e *Engine) MarkDirty(symbol string) {
	if e.book.Market(symbol) == nil {
		return
	}
	e.markDirty(symbol)
	e.started = true
}

func (e *Engine) markDirty(symbol string) {
	e.tpslDirty[symbol] = struct{}{}
	e.stopDirty[symbol] = struct{}{}
	e.limitDirty[symbol] = struct{}{}
}

// pairPrice is the quote of a conversion pair, 1 when there is none.
func (e *Engine) pairPrice(pair string, buy bool) decimal.Decimal {
	if pair == "" {
		return decimal.NewFromInt(1)
	}
	if buy {
		return e.quotes.Ask(pair)
	}
	return e.quotes.Bid(pair)
}

// profitPrices returns the bid and ask of the symbol's profit pair.
func (e *Engine) profitPrices(pair string) (bid, ask decimal.Decimal) {
	if pair == "" {
		one := decimal.NewFromInt(1)
		return one, one
	}
	return e.quotes.Bid(pair), e.quotes.Ask(pair)
}

// markToMarket moves o's floating profit to closing at price and records
// the close prices it would realize at.
func (e *Engine) markToMarket(o *book.Order, price, profitPrice decimal.Decimal) {
	sym := e.dir.Symbol(o.Symbol)
	profit := margin.Profit(sym, o, price, profitPrice)
	e.ledger.SubFloat(o.SID, ledger.TypeFloat, o.Profit)
	e.ledger.AddFloat(o.SID, ledger.TypeFloat, profit)
	o.Profit = profit
	o.ClosePrice = price
	o.ProfitPrice = profitPrice
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// TP/SL
// =============================================================================

// SweepTPSL closes positions whose take-profit or stop-loss was crossed on
// every dirty symbol. It returns the number of positions closed.
func (e *Engine) SweepTPSL() int {
	closed := 0
	now := unix(e.now())
	for _, name := range sortedKeys(e.tpslDirty) {
		m := e.book.Market(name)
		sym := e.dir.Symbol(name)
		if m == nil || sym == nil {
			continue
		}
		if m.Len(book.IndexBuyTP)+m.Len(book.IndexBuySL)+m.Len(book.IndexSellTP)+m.Len(book.IndexSellSL) == 0 {
			continue
		}
		bid, ask := e.quotes.Bid(name), e.quotes.Ask(name)
		if !bid.IsPositive() || !ask.IsPositive() {
			continue
		}
		profitBid, profitAsk := e.profitPrices(sym.ProfitPair())
		if !profitBid.IsPositive() || !profitAsk.IsPositive() {
			continue
		}

		var hits []*book.Order
		seen := make(map[uint64]bool)
		collect := func(idx book.Index, hit func(*book.Order) bool, price, profitPrice decimal.Decimal, comment string) {
			m.Scan(idx, func(o *book.Order) bool {
				if !hit(o) {
					return false
				}
				if !seen[o.ID] {
					seen[o.ID] = true
					e.markToMarket(o, price, profitPrice)
					o.Comment = comment
					o.FinishTime = now
					hits = append(hits, o)
				}
				return true
			})
		}
		collect(book.IndexBuyTP, func(o *book.Order) bool { return !bid.LessThan(o.TP) }, bid, profitBid, "tp")
		collect(book.IndexBuySL, func(o *book.Order) bool { return !bid.GreaterThan(o.SL) }, bid, profitBid, "sl")
		collect(book.IndexSellTP, func(o *book.Order) bool { return !ask.GreaterThan(o.TP) }, ask, profitAsk, "tp")
		collect(book.IndexSellSL, func(o *book.Order) bool { return !ask.LessThan(o.SL) }, ask, profitAsk, "sl")

		for _, o := range hits {
			cmd := command.TPSLOrder{Close: command.Close{
				SID:         o.SID,
				Symbol:      o.Symbol,
				OrderID:     o.ID,
				Comment:     o.Comment,
				Price:       o.ClosePrice,
				ProfitPrice: o.ProfitPrice,
				FinishTime:  o.FinishTime,
			}}
			if code := e.Execute(cmd); code.OK() {
				closed++
				e.autoClosed(o.Comment)
			} else {
				e.log.Error().Uint64("order_id", o.ID).Str("code", code.String()).Msg("tp/sl close failed")
			}
		}
	}
	clear(e.tpslDirty)
	return closed
}

func (e *Engine) autoClosed(reason string) {
	if e.metrics != nil {
		e.metrics.AutoClosed.WithLabelValues(reason).Inc()
	}
}

// =============================================================================
// Stop-out
// =============================================================================

// SweepStopOut checks the next dirty symbol in round-robin order and
// liquidates accounts on it whose margin level fell below the threshold.
// Nothing happens before the first tick.
func (e *Engine) SweepStopOut() int {
	if !e.started {
		return 0
	}
	symbols := e.dir.Symbols()
	if len(symbols) == 0 {
		return 0
	}
	closed := 0
	for range symbols {
		sym := symbols[e.stopPos%len(symbols)]
		e.stopPos = (e.stopPos + 1) % len(symbols)

		if _, ok := e.stopDirty[sym.Name]; !ok {
			continue
		}
		bid, ask := e.quotes.Bid(sym.Name), e.quotes.Ask(sym.Name)
		if !bid.IsPositive() || !ask.IsPositive() {
			continue
		}
		profitBid, profitAsk := e.profitPrices(sym.ProfitPair())
		if !profitBid.IsPositive() || !profitAsk.IsPositive() {
			continue
		}
		delete(e.stopDirty, sym.Name)

		m := e.book.Market(sym.Name)
		var victims []uint64
		for _, sid := range m.Users() {
			for _, o := range m.Orders(sid) {
				if o.IsBuy() {
					e.markToMarket(o, bid, profitBid)
				} else {
					e.markToMarket(o, ask, profitAsk)
				}
			}
			if e.belowStopOut(sid) {
				victims = append(victims, sid)
			}
		}
		for _, sid := range victims {
			closed += e.stopOut(sid)
		}
		// One valid symbol per tick.
		break
	}
	return closed
}

// marginLevel is (equity + pnl) / margin. ok is false without margin.
func (e *Engine) marginLevel(sid uint64) (level, equity, m decimal.Decimal, ok bool) {
	m, found := e.ledger.GetV2(sid, ledger.TypeMargin)
	if !found || m.IsZero() {
		return decimal.Zero, decimal.Zero, m, false
	}
	equity = e.ledger.Amount(sid, ledger.TypeEquity).Add(e.ledger.Amount(sid, ledger.TypeFloat))
	return equity.Div(m), equity, m, true
}

func (e *Engine) belowStopOut(sid uint64) bool {
	pnl, ok := e.ledger.GetV2(sid, ledger.TypeFloat)
	if !ok {
		return false
	}
	if e.ledger.Amount(sid, ledger.TypeBalance).IsPositive() && !pnl.IsNegative() {
		return false
	}
	level, _, _, ok := e.marginLevel(sid)
	return ok && level.LessThan(e.cfg.StopOutLevel)
}

// stopOut closes sid's worst position until its margin level recovers.
func (e *Engine) stopOut(sid uint64) int {
	closed := 0
	for {
		level, equity, m, ok := e.marginLevel(sid)
		if !ok || !level.LessThan(e.cfg.StopOutLevel) {
			return closed
		}
		victim := e.worstPosition(sid)
		if victim == nil {
			return closed
		}
		comment := fmt.Sprintf("so:%s/%s/%s", ledger.Format(ledger.Rescale(level, 3)), ledger.Format(equity), ledger.Format(m))
		cmd := command.StopOutOrder{Close: command.Close{
			SID:         sid,
			Symbol:      victim.Symbol,
			OrderID:     victim.ID,
			Comment:     comment,
			Price:       victim.ClosePrice,
			ProfitPrice: victim.ProfitPrice,
			FinishTime:  unix(e.now()),
		}}
		if code := e.Execute(cmd); !code.OK() {
			e.log.Error().Uint64("sid", sid).Uint64("order_id", victim.ID).Str("code", code.String()).Msg("stop-out close failed")
			return closed
		}
		closed++
		e.autoClosed("stop_out")
		e.log.Warn().Uint64("sid", sid).Uint64("order_id", victim.ID).Str("comment", comment).Msg("stop out")
	}
}

// worstPosition is the lowest-profit position of sid that has been marked
// to market, skipping exempt symbols.
func (e *Engine) worstPosition(sid uint64) *book.Order {
	var worst *book.Order
	for _, m := range e.book.Markets() {
		if sym := e.dir.Symbol(m.Name); sym == nil || sym.StopOutExempt {
			continue
		}
		for _, o := range m.Orders(sid) {
			if !o.ClosePrice.IsPositive() {
				continue
			}
			if worst == nil || o.Profit.LessThan(worst.Profit) {
				worst = o
			}
		}
	}
	return worst
}

// =============================================================================
// Pending activation
// =============================================================================

// SweepLimits activates pending orders whose trigger was crossed on every
// dirty symbol.
func (e *Engine) SweepLimits() int {
	activated := 0
	now := unix(e.now())
	for _, name := range sortedKeys(e.limitDirty) {
		m := e.book.Market(name)
		sym := e.dir.Symbol(name)
		if m == nil || sym == nil || m.PendingCount() == 0 {
			continue
		}
		bid, ask := e.quotes.Bid(name), e.quotes.Ask(name)
		if !bid.IsPositive() || !ask.IsPositive() {
			continue
		}
		pair := sym.MarginPair()
		marginAsk := e.pairPrice(pair, true)
		marginBid := e.pairPrice(pair, false)
		if !marginAsk.IsPositive() || !marginBid.IsPositive() {
			continue
		}

		// Each side is a prefix scan: the first order that does not trigger
		// ends it, even when a break order hides a crossed limit behind it.
		var buys, sells []*book.Order
		m.Scan(book.IndexLimitBuys, func(o *book.Order) bool {
			if o.Kind == book.KindLimit && !o.Price.LessThan(ask) || o.Kind == book.KindBreak && !o.Price.GreaterThan(ask) {
				buys = append(buys, o)
				return true
			}
			return false
		})
		m.Scan(book.IndexLimitSells, func(o *book.Order) bool {
			if o.Kind == book.KindLimit && !o.Price.GreaterThan(bid) || o.Kind == book.KindBreak && !o.Price.LessThan(bid) {
				sells = append(sells, o)
				return true
			}
			return false
		})

		activate := func(o *book.Order, price, marginPrice decimal.Decimal) {
			cmd := command.LimitOpen{
				SID:         o.SID,
				Symbol:      o.Symbol,
				OrderID:     o.ID,
				Price:       price,
				MarginPrice: marginPrice,
				UpdateTime:  now,
			}
			switch code := e.Execute(cmd); code {
			case CodeOK:
				activated++
				e.autoClosed("limit_open")
			case CodeInsufficient:
				e.autoClosed("limit_cancel")
			default:
				e.log.Error().Uint64("order_id", o.ID).Str("code", code.String()).Msg("limit activation failed")
			}
		}
		for _, o := range buys {
			activate(o, ask, marginAsk)
		}
		for _, o := range sells {
			activate(o, bid, marginBid)
		}
	}
	clear(e.limitDirty)
	return activated
}

// =============================================================================
// Expiry
// =============================================================================

// SweepExpired cancels every pending order whose expiry has passed.
func (e *Engine) SweepExpired() int {
	n := 0
	for _, o := range e.book.Expired(unix(e.now())) {
		c := command.CancelOrder{
			SID:        o.SID,
			Symbol:     o.Symbol,
			OrderID:    o.ID,
			Comment:    "expire",
			FinishTime: float64(o.ExpireTime),
		}
		code := e.execute(command.MethodCancelOrder, func() (Code, command.Command) {
			code := e.cancel(c.SID, c.Symbol, c.OrderID, false, c.Comment, c.FinishTime, EventExpire)
			if !code.OK() {
				return code, nil
			}
			return code, c
		})
		if code.OK() {
			n++
			e.autoClosed("expire")
		}
	}
	return n
}
