package core

import (
	"MarginLedger/internal/book"
	"MarginLedger/internal/command"
	"MarginLedger/internal/ledger"

	"github.com/shopspring/decimal"
)

// Requests are validated against the live quotes and clock, turned into a
// command carrying every value decided here, and executed. They must run
// on the engine loop.

type OpenRequest struct {
	SID      uint64
	Group    string
	Symbol   string
	Side     book.Side
	Lot      decimal.Decimal
	TP       decimal.Decimal
	SL       decimal.Decimal
	External uint64
	Comment  string
}

// OrderRef names an order by id, or by broker id when External is set.
type OrderRef struct {
	SID      uint64
	Symbol   string
	ID       uint64
	External bool
}

type LimitRequest struct {
	SID        uint64
	Group      string
	Symbol     string
	Side       book.Side
	Lot        decimal.Decimal
	Kind       book.Kind
	Price      decimal.Decimal
	TP         decimal.Decimal
	SL         decimal.Decimal
	ExpireTime uint64
	External   uint64
	Comment    string
}

// BalanceView is an account's balances as reported to clients.
type BalanceView struct {
	Balance    decimal.Decimal `json:"balance"`
	PnL        decimal.Decimal `json:"pnl"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     decimal.Decimal `json:"margin"`
	MarginFree decimal.Decimal `json:"margin_free"`
}

func (e *Engine) Balance(sid uint64) BalanceView {
	return BalanceView{
		Balance:    e.ledger.Amount(sid, ledger.TypeBalance),
		PnL:        e.ledger.Amount(sid, ledger.TypeFloat),
		Equity:     e.ledger.Amount(sid, ledger.TypeEquity),
		Margin:     e.ledger.Amount(sid, ledger.TypeMargin),
		MarginFree: e.ledger.Amount(sid, ledger.TypeFree),
	}
}

// Positions returns detached copies of sid's open positions.
func (e *Engine) Positions(sid uint64) []*book.Order {
	return clones(e.book.Positions(sid))
}

// PendingOrders returns detached copies of sid's pending orders.
func (e *Engine) PendingOrders(sid uint64) []*book.Order {
	return clones(e.book.PendingOrders(sid))
}

func clones(in []*book.Order) []*book.Order {
	out := make([]*book.Order, len(in))
	for i, o := range in {
		out[i] = o.Clone()
	}
	return out
}

// =============================================================================
// Mutations
// =============================================================================

func (e *Engine) UpdateBalance(sid uint64, change decimal.Decimal, comment string) (BalanceView, Code) {
	code := e.Execute(command.UpdateBalance{SID: sid, Change: ledger.Rescale(change, ledger.PrecDefault), Comment: comment})
	return e.Balance(sid), code
}

// checkTrigger validates tp/sl for a position of side against the reference
// prices: a buy needs tp above tpRef and sl below slRef, a sell the reverse.
func checkTrigger(side book.Side, tp, sl, tpRef, slRef decimal.Decimal) Code {
	if tp.IsPositive() {
		if side == book.SideBuy && !tp.GreaterThan(tpRef) || side == book.SideSell && !tp.LessThan(tpRef) {
			return CodeInvalidTP
		}
	}
	if sl.IsPositive() {
		if side == book.SideBuy && !sl.LessThan(slRef) || side == book.SideSell && !sl.GreaterThan(slRef) {
			return CodeInvalidSL
		}
	}
	return CodeOK
}

// liveTriggerRefs are the quotes tp/sl of a live position are checked
// against: tp against the fill side, sl against the close side.
func (e *Engine) liveTriggerRefs(sym string, side book.Side) (tpRef, slRef decimal.Decimal) {
	bid, ask := e.quotes.Bid(sym), e.quotes.Ask(sym)
	if side == book.SideBuy {
		return ask, bid
	}
	return bid, ask
}

func (e *Engine) Open(req OpenRequest) (*book.Order, Code) {
	sym := e.dir.Symbol(req.Symbol)
	if sym == nil || !req.Side.Valid() || !req.Lot.IsPositive() || e.dir.Leverage(req.Group) == 0 {
		return nil, CodeInvalidArgument
	}
	if req.TP.IsNegative() || req.SL.IsNegative() {
		return nil, CodeInvalidArgument
	}
	now := e.now()
	if !e.dir.InTradingHours(req.Symbol, now) {
		return nil, CodeMarketClosed
	}
	buy := req.Side == book.SideBuy
	price := e.quotes.Bid(req.Symbol)
	if buy {
		price = e.quotes.Ask(req.Symbol)
	}
	if !price.IsPositive() {
		return nil, CodeBadPrice
	}
	tpRef, slRef := e.liveTriggerRefs(req.Symbol, req.Side)
	if code := checkTrigger(req.Side, req.TP, req.SL, tpRef, slRef); !code.OK() {
		return nil, code
	}
	marginPrice := e.pairPrice(sym.MarginPair(), buy)
	if !marginPrice.IsPositive() {
		return nil, CodeBadMarginPrice
	}

	code := e.Execute(command.OpenOrder{
		SID:         req.SID,
		Group:       req.Group,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Lot:         ledger.Rescale(req.Lot, ledger.PrecDefault),
		TP:          req.TP,
		SL:          req.SL,
		External:    req.External,
		Comment:     req.Comment,
		Price:       price,
		MarginPrice: marginPrice,
		CreateTime:  unix(now),
	})
	if !code.OK() {
		return nil, code
	}
	o, _ := e.book.Market(req.Symbol).Order(e.book.LastID())
	return o.Clone(), CodeOK
}

func (e *Engine) Close(ref OrderRef, comment string) (*book.Order, Code) {
	sym := e.dir.Symbol(ref.Symbol)
	if sym == nil {
		return nil, CodeInvalidArgument
	}
	now := e.now()
	if !e.dir.InTradingHours(ref.Symbol, now) {
		return nil, CodeMarketClosed
	}
	_, o, code := e.lookup(ref.SID, ref.Symbol, ref.ID, ref.External)
	if !code.OK() {
		return nil, code
	}
	price := e.quotes.Ask(ref.Symbol)
	if o.IsBuy() {
		price = e.quotes.Bid(ref.Symbol)
	}
	if !price.IsPositive() {
		return nil, CodeBadPrice
	}
	profitBid, profitAsk := e.profitPrices(sym.ProfitPair())
	profitPrice := profitAsk
	if o.IsBuy() {
		profitPrice = profitBid
	}
	if !profitPrice.IsPositive() {
		return nil, CodeBadProfitPrice
	}

	var cmd command.Command
	if ref.External {
		cmd = command.CloseExternal{
			SID: ref.SID, Symbol: ref.Symbol, External: ref.ID, Comment: comment,
			Price: price, ProfitPrice: profitPrice, FinishTime: unix(now),
		}
	} else {
		cmd = command.CloseOrder{Close: command.Close{
			SID: ref.SID, Symbol: ref.Symbol, OrderID: ref.ID, Comment: comment,
			Price: price, ProfitPrice: profitPrice, FinishTime: unix(now),
		}}
	}
	if code := e.Execute(cmd); !code.OK() {
		return nil, code
	}
	return o.Clone(), CodeOK
}

func (e *Engine) Update(ref OrderRef, tp, sl decimal.Decimal) (*book.Order, Code) {
	if e.dir.Symbol(ref.Symbol) == nil || tp.IsNegative() || sl.IsNegative() {
		return nil, CodeInvalidArgument
	}
	_, o, code := e.lookup(ref.SID, ref.Symbol, ref.ID, ref.External)
	if !code.OK() {
		return nil, code
	}
	tpRef, slRef := e.liveTriggerRefs(ref.Symbol, o.Side)
	if code := checkTrigger(o.Side, tp, sl, tpRef, slRef); !code.OK() {
		return nil, code
	}

	var cmd command.Command
	if ref.External {
		cmd = command.UpdateExternal{SID: ref.SID, Symbol: ref.Symbol, External: ref.ID, TP: tp, SL: sl}
	} else {
		cmd = command.UpdateOrder{SID: ref.SID, Symbol: ref.Symbol, OrderID: ref.ID, TP: tp, SL: sl}
	}
	if code := e.Execute(cmd); !code.OK() {
		return nil, code
	}
	return o.Clone(), CodeOK
}

func (e *Engine) PlaceLimit(req LimitRequest) (*book.Order, Code) {
	if e.dir.Symbol(req.Symbol) == nil || !req.Side.Valid() || !req.Lot.IsPositive() || e.dir.Leverage(req.Group) == 0 {
		return nil, CodeInvalidArgument
	}
	if req.Kind != book.KindLimit && req.Kind != book.KindBreak {
		return nil, CodeInvalidArgument
	}
	if req.TP.IsNegative() || req.SL.IsNegative() {
		return nil, CodeInvalidArgument
	}
	now := e.now()
	if req.ExpireTime != 0 && float64(req.ExpireTime) < unix(now) {
		return nil, CodeInvalidArgument
	}
	if !e.dir.InTradingHours(req.Symbol, now) {
		return nil, CodeMarketClosed
	}
	if !req.Price.IsPositive() {
		return nil, CodeInvalidPrice
	}

	bid, ask := e.quotes.Bid(req.Symbol), e.quotes.Ask(req.Symbol)
	if !bid.IsPositive() || !ask.IsPositive() {
		return nil, CodeBadPrice
	}
	valid := true
	switch {
	case req.Side == book.SideBuy && req.Kind == book.KindLimit:
		valid = !req.Price.GreaterThan(ask)
	case req.Side == book.SideBuy && req.Kind == book.KindBreak:
		valid = !req.Price.LessThan(ask)
	case req.Side == book.SideSell && req.Kind == book.KindLimit:
		valid = !req.Price.LessThan(bid)
	case req.Side == book.SideSell && req.Kind == book.KindBreak:
		valid = !req.Price.GreaterThan(bid)
	}
	if !valid {
		return nil, CodeInvalidPrice
	}
	if code := checkTrigger(req.Side, req.TP, req.SL, req.Price, req.Price); !code.OK() {
		return nil, code
	}

	code := e.Execute(command.LimitOrder{
		SID:        req.SID,
		Group:      req.Group,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Lot:        ledger.Rescale(req.Lot, ledger.PrecDefault),
		Kind:       req.Kind,
		Price:      req.Price,
		TP:         req.TP,
		SL:         req.SL,
		ExpireTime: req.ExpireTime,
		External:   req.External,
		Comment:    req.Comment,
		CreateTime: unix(now),
	})
	if !code.OK() {
		return nil, code
	}
	o, _ := e.book.Market(req.Symbol).Pending(e.book.LastID())
	return o.Clone(), CodeOK
}

func (e *Engine) Cancel(ref OrderRef, comment string) (*book.Order, Code) {
	if e.dir.Symbol(ref.Symbol) == nil {
		return nil, CodeInvalidArgument
	}
	_, o, code := e.lookupPending(ref.SID, ref.Symbol, ref.ID, ref.External)
	if !code.OK() {
		return nil, code
	}
	finish := unix(e.now())
	var cmd command.Command
	if ref.External {
		cmd = command.CancelExternal{SID: ref.SID, Symbol: ref.Symbol, External: ref.ID, Comment: comment, FinishTime: finish}
	} else {
		cmd = command.CancelOrder{SID: ref.SID, Symbol: ref.Symbol, OrderID: ref.ID, Comment: comment, FinishTime: finish}
	}
	if code := e.Execute(cmd); !code.OK() {
		return nil, code
	}
	return o.Clone(), CodeOK
}
