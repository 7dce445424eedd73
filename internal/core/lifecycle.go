package core

import (
	"errors"

	"MarginLedger/internal/book"
	"MarginLedger/internal/command"
	"MarginLedger/internal/ledger"
	"MarginLedger/internal/margin"

	"github.com/shopspring/decimal"
)

// Comment written on a limit order cancelled at activation for lack of margin.
const commentNoMoney = "no enough money"

// =============================================================================
// Balance
// =============================================================================

func (e *Engine) updateBalance(c command.UpdateBalance) Code {
	l := e.ledger
	if !c.Change.IsNegative() {
		if c.Change.IsPositive() {
			_, err := l.AddV2(c.SID, ledger.TypeBalance, c.Change)
			e.consistency("update_balance", err)
			_, err = l.AddV2(c.SID, ledger.TypeEquity, c.Change)
			e.consistency("update_balance", err)
			_, err = l.AddV2(c.SID, ledger.TypeFree, c.Change)
			e.consistency("update_balance", err)
		}
	} else {
		out := c.Change.Neg()
		// The level counts floating PnL, which replay does not reproduce.
		if m, ok := l.GetV2(c.SID, ledger.TypeMargin); ok && m.IsPositive() && e.real {
			level := l.Amount(c.SID, ledger.TypeEquity).Add(c.Change).Add(l.Amount(c.SID, ledger.TypeFloat)).Div(m)
			if level.LessThan(decimal.NewFromInt(1)) {
				return CodeInsufficient
			}
		}
		for _, t := range []ledger.BalanceType{ledger.TypeFree, ledger.TypeEquity, ledger.TypeBalance} {
			if l.Amount(c.SID, t).LessThan(out) {
				return CodeInsufficient
			}
		}
		_, err := l.SubV2(c.SID, ledger.TypeFree, out)
		e.consistency("update_balance", err)
		_, err = l.SubV2(c.SID, ledger.TypeEquity, out)
		e.consistency("update_balance", err)
		_, err = l.SubV2(c.SID, ledger.TypeBalance, out)
		e.consistency("update_balance", err)
	}

	if e.real {
		rec := BalanceRecord{
			Time:     unix(e.now()),
			SID:      c.SID,
			Business: BusinessUpdate,
			Change:   c.Change,
			Balance:  l.Amount(c.SID, ledger.TypeBalance),
			Comment:  c.Comment,
		}
		e.balanceHistory(rec)
		e.balanceMessage(rec)
	}
	return CodeOK
}

// =============================================================================
// Open / close
// =============================================================================

func (e *Engine) open(c command.OpenOrder) Code {
	if !c.Price.IsPositive() {
		return CodeBadPrice
	}
	if !c.MarginPrice.IsPositive() {
		return CodeBadMarginPrice
	}
	sym := e.dir.Symbol(c.Symbol)
	m := e.book.Market(c.Symbol)
	leverage := e.dir.Leverage(c.Group)
	if sym == nil || m == nil || leverage == 0 {
		return CodeInternal
	}

	required := margin.Required(sym, leverage, e.dir.Percentage(c.Group, c.Symbol), c.Lot, c.Price, c.MarginPrice)
	fee := ledger.Rescale(e.dir.Fee(c.Group, c.Symbol).Mul(c.Lot), ledger.PrecDefault)

	cur := margin.CurMargin(m, c.SID)
	act, update := margin.PlanOpen(cur, c.Side, c.Lot, required, m.Orders(c.SID))
	next, err := e.postOpen(c.SID, act, required, update, cur, fee)
	if errors.Is(err, margin.ErrInsufficient) {
		return CodeInsufficient
	}
	e.consistency("open", err)
	m.SetCurMargin(c.SID, next)

	o := &book.Order{
		ID:          e.book.NextID(),
		Kind:        book.KindMarket,
		Side:        c.Side,
		External:    c.External,
		CreateTime:  c.CreateTime,
		SID:         c.SID,
		Symbol:      c.Symbol,
		Price:       c.Price,
		Lot:         c.Lot,
		Margin:      required,
		Fee:         fee,
		Swap:        e.swapRate(c.Group, c.Symbol, c.Side),
		TP:          c.TP,
		SL:          c.SL,
		MarginPrice: c.MarginPrice,
		ProfitPrice: decimal.NewFromInt(1),
		Comment:     c.Comment,
	}
	if err := m.Put(o); err != nil {
		e.consistency("open", err)
		return CodeInternal
	}
	e.markDirty(c.Symbol)

	e.history(NotePositionOpen, o)
	e.pushOrder(EventOpen, o)
	return CodeOK
}

// postOpen checks affordability only when live.
func (e *Engine) postOpen(sid uint64, a margin.Action, required, update, cur, fee decimal.Decimal) (decimal.Decimal, error) {
	if e.real {
		return margin.ApplyOpen(e.ledger, sid, a, required, update, cur, fee)
	}
	return margin.PostOpen(e.ledger, sid, a, required, update, cur, fee)
}

func (e *Engine) swapRate(group, symbol string, side book.Side) decimal.Decimal {
	if side == book.SideBuy {
		return e.dir.SwapLong(group, symbol)
	}
	return e.dir.SwapShort(group, symbol)
}

// lookup finds an open position by id, or by external id when byExternal.
func (e *Engine) lookup(sid uint64, sym string, id uint64, byExternal bool) (*book.Market, *book.Order, Code) {
	m := e.book.Market(sym)
	if m == nil {
		return nil, nil, CodeInvalidArgument
	}
	var o *book.Order
	var ok bool
	if byExternal {
		if id == 0 {
			return nil, nil, CodeInvalidArgument
		}
		o, ok = m.ExternalOrder(sid, id)
	} else {
		o, ok = m.Order(id)
	}
	if !ok {
		return m, nil, CodeNotFound
	}
	if o.SID != sid {
		return m, nil, CodeUserMismatch
	}
	return m, o, CodeOK
}

func (e *Engine) closeExternal(c command.CloseExternal) Code {
	_, o, code := e.lookup(c.SID, c.Symbol, c.External, true)
	if !code.OK() {
		return code
	}
	return e.closeOrder(command.Close{
		SID:         c.SID,
		Symbol:      c.Symbol,
		OrderID:     o.ID,
		Comment:     c.Comment,
		Price:       c.Price,
		ProfitPrice: c.ProfitPrice,
		FinishTime:  c.FinishTime,
	}, EventClose, false)
}

// closeOrder realizes a position at c.Price. Forced closes (tp/sl and
// stop-out) skip the price checks: once triggered they always complete.
func (e *Engine) closeOrder(c command.Close, ev EventCode, forced bool) Code {
	if !forced {
		if !c.Price.IsPositive() {
			return CodeBadPrice
		}
		if !c.ProfitPrice.IsPositive() {
			return CodeBadProfitPrice
		}
	}
	m, o, code := e.lookup(c.SID, c.Symbol, c.OrderID, false)
	if !code.OK() {
		return code
	}
	sym := e.dir.Symbol(c.Symbol)
	if sym == nil {
		return CodeInternal
	}
	l := e.ledger

	profit := margin.Profit(sym, o, c.Price, c.ProfitPrice)
	l.SubFloat(o.SID, ledger.TypeFloat, o.Profit)
	o.Profit = profit
	o.ClosePrice = c.Price
	o.ProfitPrice = c.ProfitPrice
	o.Comment = c.Comment
	o.FinishTime = c.FinishTime

	cur := margin.CurMargin(m, o.SID)
	act, update := margin.PlanClose(cur, o, m.Orders(o.SID))
	next, err := margin.ApplyClose(l, o.SID, act, o, update, cur)
	e.consistency("close", err)
	m.SetCurMargin(o.SID, next)

	if profit.IsPositive() {
		_, err = l.AddV2(o.SID, ledger.TypeEquity, profit)
		e.consistency("close", err)
		_, err = l.AddV2(o.SID, ledger.TypeFree, profit)
		e.consistency("close", err)
	} else {
		l.SubFloat(o.SID, ledger.TypeEquity, profit.Neg())
		l.SubFloat(o.SID, ledger.TypeFree, profit.Neg())
	}

	net := profit.Sub(o.Fee).Sub(o.Swaps)
	if net.IsPositive() {
		_, err = l.AddV2(o.SID, ledger.TypeBalance, net)
		e.consistency("close", err)
	} else {
		l.SubFloat(o.SID, ledger.TypeBalance, net.Neg())
	}

	m.Remove(o)

	if e.real {
		e.balanceHistory(BalanceRecord{
			Time:     c.FinishTime,
			SID:      o.SID,
			OrderID:  o.ID,
			Business: BusinessTrade,
			Change:   net,
			Balance:  l.Amount(o.SID, ledger.TypeBalance),
			Comment:  c.Comment,
		})
		e.history(NotePositionFinish, o)
		e.pushOrder(ev, o)
	}
	return CodeOK
}

// =============================================================================
// Update
// =============================================================================

func (e *Engine) update(sid uint64, sym string, id uint64, byExternal bool, tp, sl decimal.Decimal) Code {
	m, o, code := e.lookup(sid, sym, id, byExternal)
	if !code.OK() {
		return code
	}
	m.UpdateTPSL(o, tp, sl)
	e.markDirty(sym)
	e.pushOrder(EventUpdate, o)
	return CodeOK
}

// =============================================================================
// Pending orders
// =============================================================================

func (e *Engine) putLimit(c command.LimitOrder) Code {
	sym := e.dir.Symbol(c.Symbol)
	m := e.book.Market(c.Symbol)
	leverage := e.dir.Leverage(c.Group)
	if sym == nil || m == nil || leverage == 0 {
		return CodeInternal
	}
	o := &book.Order{
		ID:          e.book.NextID(),
		Kind:        c.Kind,
		Side:        c.Side,
		External:    c.External,
		CreateTime:  c.CreateTime,
		ExpireTime:  c.ExpireTime,
		SID:         c.SID,
		Symbol:      c.Symbol,
		Price:       c.Price,
		Lot:         c.Lot,
		Margin:      margin.Rate(e.dir.Percentage(c.Group, c.Symbol), leverage),
		Fee:         ledger.Rescale(e.dir.Fee(c.Group, c.Symbol).Mul(c.Lot), ledger.PrecDefault),
		Swap:        e.swapRate(c.Group, c.Symbol, c.Side),
		TP:          c.TP,
		SL:          c.SL,
		ProfitPrice: decimal.NewFromInt(1),
		Comment:     c.Comment,
	}
	if err := m.PutPending(o); err != nil {
		e.consistency("limit", err)
		return CodeInternal
	}
	e.limitDirty[c.Symbol] = struct{}{}

	e.history(NoteLimitPlace, o)
	e.pushOrder(EventLimit, o)
	return CodeOK
}

func (e *Engine) lookupPending(sid uint64, sym string, id uint64, byExternal bool) (*book.Market, *book.Order, Code) {
	m := e.book.Market(sym)
	if m == nil {
		return nil, nil, CodeInvalidArgument
	}
	var o *book.Order
	var ok bool
	if byExternal {
		if id == 0 {
			return nil, nil, CodeInvalidArgument
		}
		o, ok = m.ExternalPending(sid, id)
	} else {
		o, ok = m.Pending(id)
	}
	if !ok {
		return m, nil, CodeNotFound
	}
	if o.SID != sid {
		return m, nil, CodeUserMismatch
	}
	return m, o, CodeOK
}

func (e *Engine) cancel(sid uint64, sym string, id uint64, byExternal bool, comment string, finish float64, ev EventCode) Code {
	m, o, code := e.lookupPending(sid, sym, id, byExternal)
	if !code.OK() {
		return code
	}
	e.finishPending(m, o, comment, finish, ev)
	return CodeOK
}

func (e *Engine) finishPending(m *book.Market, o *book.Order, comment string, finish float64, ev EventCode) {
	m.RemovePending(o)
	o.Margin = decimal.Zero
	o.Fee = decimal.Zero
	o.Swap = decimal.Zero
	o.Comment = comment
	o.FinishTime = finish
	if e.real {
		e.emit(Notification{Kind: NoteLimitFinish, Event: ev, Order: o.Clone()})
		e.pushOrder(ev, o)
	}
}

// limitOpen activates a pending order at price. When the account cannot
// afford it the order is cancelled instead and the cancel is what gets
// logged.
func (e *Engine) limitOpen(c command.LimitOpen) (Code, command.Command) {
	m, o, code := e.lookupPending(c.SID, c.Symbol, c.OrderID, false)
	if !code.OK() {
		return code, nil
	}
	if !c.Price.IsPositive() {
		return CodeBadPrice, nil
	}
	if !c.MarginPrice.IsPositive() {
		return CodeBadMarginPrice, nil
	}
	sym := e.dir.Symbol(c.Symbol)
	if sym == nil {
		return CodeInternal, nil
	}

	required := margin.RequiredFromRate(sym, o.Margin, o.Lot, c.Price, c.MarginPrice)
	cur := margin.CurMargin(m, o.SID)
	act, update := margin.PlanOpen(cur, o.Side, o.Lot, required, m.Orders(o.SID))
	next, err := e.postOpen(o.SID, act, required, update, cur, o.Fee)
	if errors.Is(err, margin.ErrInsufficient) {
		e.finishPending(m, o, commentNoMoney, c.UpdateTime, EventCancel)
		return CodeInsufficient, command.CancelOrder{
			SID:        o.SID,
			Symbol:     o.Symbol,
			OrderID:    o.ID,
			Comment:    commentNoMoney,
			FinishTime: c.UpdateTime,
		}
	}
	e.consistency("limit_open", err)
	m.SetCurMargin(o.SID, next)

	m.RemovePending(o)
	o.UpdateTime = c.UpdateTime
	o.Price = c.Price
	o.Margin = required
	o.MarginPrice = c.MarginPrice
	o.ProfitPrice = decimal.NewFromInt(1)
	if err := m.Put(o); err != nil {
		e.consistency("limit_open", err)
		return CodeInternal, nil
	}
	e.markDirty(c.Symbol)

	if e.real {
		e.emit(Notification{Kind: NoteLimitFinish, Order: o.Clone(), Activated: true})
		e.history(NotePositionOpen, o)
		e.pushOrder(EventOpen, o)
	}
	return CodeOK, c
}
