package margin

import (
	"errors"
	"fmt"

	"MarginLedger/internal/book"
	"MarginLedger/internal/ledger"

	"github.com/shopspring/decimal"
)

// Action is a row of the hedged netting table. The net margin cache of an
// account is positive while it is net long and negative while net short.
type Action int

const (
	ActionNone     Action = 0 // exposure already covered, margin unchanged
	ActionBuy      Action = 1 // open: add to the long side; close: release from it
	ActionSell     Action = 2 // open: add to the short side; close: release from it
	ActionFlipSell Action = 3 // net side becomes short, margin re-summed from sells
	ActionFlipBuy  Action = 4 // net side becomes long, margin re-summed from buys
)

// ErrInsufficient rejects an open whose cost exceeds free margin plus floating PnL.
var ErrInsufficient = errors.New("insufficient margin")

// Recover rebuilds the net margin of an account from its open positions:
// the summed margin of whichever side holds more lots, negative for sells.
func Recover(orders []*book.Order) decimal.Decimal {
	lots := decimal.Zero
	buy := decimal.Zero
	sell := decimal.Zero
	for _, o := range orders {
		if o.IsBuy() {
			lots = lots.Add(o.Lot)
			buy = buy.Add(o.Margin)
		} else {
			lots = lots.Sub(o.Lot)
			sell = sell.Sub(o.Margin)
		}
	}
	if lots.IsNegative() {
		return sell
	}
	return buy
}

// CurMargin returns the cached net margin, recovering it when absent.
func CurMargin(m *book.Market, sid uint64) decimal.Decimal {
	if cur, ok := m.CurMargin(sid); ok {
		return cur
	}
	return Recover(m.Orders(sid))
}

// PlanOpen picks the netting action for a new order of side/lot whose own
// margin is margin. update is the re-summed margin of the new net side for
// the flip actions.
func PlanOpen(cur decimal.Decimal, side book.Side, lot, margin decimal.Decimal, orders []*book.Order) (Action, decimal.Decimal) {
	update := margin
	switch cur.Sign() {
	case 0:
		if side == book.SideBuy {
			return ActionBuy, update
		}
		return ActionSell, update
	case 1:
		if side == book.SideBuy {
			return ActionBuy, update
		}
		net := lot.Neg()
		for _, o := range orders {
			if o.IsBuy() {
				net = net.Add(o.Lot)
			} else {
				net = net.Sub(o.Lot)
				update = update.Add(o.Margin)
			}
		}
		if net.IsNegative() {
			return ActionFlipSell, update
		}
		return ActionNone, update
	default:
		if side == book.SideSell {
			return ActionSell, update
		}
		net := lot
		for _, o := range orders {
			if o.IsBuy() {
				net = net.Add(o.Lot)
				update = update.Add(o.Margin)
			} else {
				net = net.Sub(o.Lot)
			}
		}
		if net.IsNegative() {
			return ActionNone, update
		}
		return ActionFlipBuy, update
	}
}

// OpenCost is what free margin plus floating PnL must strictly exceed.
func OpenCost(a Action, margin, update, cur, fee decimal.Decimal) decimal.Decimal {
	switch a {
	case ActionBuy, ActionSell:
		return margin.Add(fee)
	case ActionFlipSell:
		return update.Sub(cur).Add(fee)
	case ActionFlipBuy:
		return update.Add(cur).Add(fee)
	default:
		return fee
	}
}

// Headroom is FREE + FLOAT, absent entries counting as zero.
func Headroom(l *ledger.Ledger, sid uint64) decimal.Decimal {
	return l.Amount(sid, ledger.TypeFree).Add(l.Amount(sid, ledger.TypeFloat))
}

// ApplyOpen checks affordability and posts the open's margin and fee. It
// returns the account's new net margin. ErrInsufficient leaves the ledger
// untouched; any other error lists checked postings that could not apply
// and were skipped.
func ApplyOpen(l *ledger.Ledger, sid uint64, a Action, margin, update, cur, fee decimal.Decimal) (decimal.Decimal, error) {
	headroom := Headroom(l, sid)
	cost := OpenCost(a, margin, update, cur, fee)
	if !headroom.IsPositive() || headroom.LessThanOrEqual(cost) {
		return cur, fmt.Errorf("%w: headroom %s, cost %s", ErrInsufficient, headroom, cost)
	}
	return PostOpen(l, sid, a, margin, update, cur, fee)
}

// PostOpen posts an open without the affordability check. Replay uses it:
// floating PnL is not reproduced there and the logged open was affordable
// when it ran.
func PostOpen(l *ledger.Ledger, sid uint64, a Action, margin, update, cur, fee decimal.Decimal) (decimal.Decimal, error) {
	cost := OpenCost(a, margin, update, cur, fee)
	var skipped []error
	note := func(what string, _ decimal.Decimal, err error) {
		if err != nil {
			skipped = append(skipped, fmt.Errorf("%s: %w", what, err))
		}
	}

	next := cur
	switch a {
	case ActionNone:
		note(sub(l, sid, ledger.TypeEquity, fee))
		l.SubFloat(sid, ledger.TypeFree, fee)
	case ActionBuy, ActionSell:
		note(add(l, sid, ledger.TypeMargin, margin))
		note(sub(l, sid, ledger.TypeEquity, fee))
		l.SubFloat(sid, ledger.TypeFree, cost)
		if a == ActionBuy {
			next = cur.Add(margin)
		} else {
			next = cur.Sub(margin)
		}
	case ActionFlipSell:
		note(add(l, sid, ledger.TypeMargin, update))
		note(sub(l, sid, ledger.TypeMargin, cur))
		note(sub(l, sid, ledger.TypeEquity, fee))
		l.SubFloat(sid, ledger.TypeFree, cost)
		next = update.Neg()
	case ActionFlipBuy:
		note(add(l, sid, ledger.TypeMargin, update))
		l.AddFloat(sid, ledger.TypeMargin, cur)
		note(sub(l, sid, ledger.TypeEquity, fee))
		l.SubFloat(sid, ledger.TypeFree, cost)
		next = update
	}
	return next, errors.Join(skipped...)
}

// PlanClose picks the netting action for closing o, which must still be in
// orders. update is the re-summed margin of the opposite side for flips.
func PlanClose(cur decimal.Decimal, o *book.Order, orders []*book.Order) (Action, decimal.Decimal) {
	update := decimal.Zero
	switch cur.Sign() {
	case 1:
		if !o.IsBuy() {
			return ActionNone, update
		}
		net := o.Lot.Neg()
		for _, x := range orders {
			if x.IsBuy() {
				net = net.Add(x.Lot)
			} else {
				net = net.Sub(x.Lot)
				update = update.Add(x.Margin)
			}
		}
		if net.IsNegative() {
			return ActionFlipSell, update
		}
		return ActionBuy, update
	case -1:
		if o.IsBuy() {
			return ActionNone, update
		}
		net := o.Lot
		for _, x := range orders {
			if x.IsBuy() {
				net = net.Add(x.Lot)
				update = update.Add(x.Margin)
			} else {
				net = net.Sub(x.Lot)
			}
		}
		if net.IsNegative() {
			return ActionSell, update
		}
		return ActionFlipBuy, update
	}
	return ActionNone, update
}

// ApplyClose releases the margin of closing o and returns the new net margin.
func ApplyClose(l *ledger.Ledger, sid uint64, a Action, o *book.Order, update, cur decimal.Decimal) (decimal.Decimal, error) {
	var skipped []error
	note := func(what string, _ decimal.Decimal, err error) {
		if err != nil {
			skipped = append(skipped, fmt.Errorf("%s: %w", what, err))
		}
	}

	next := cur
	switch a {
	case ActionBuy, ActionSell:
		note(sub(l, sid, ledger.TypeMargin, o.Margin))
		note(add(l, sid, ledger.TypeFree, o.Margin))
		if a == ActionBuy {
			next = cur.Sub(o.Margin)
		} else {
			next = cur.Add(o.Margin)
		}
	case ActionFlipSell:
		note(sub(l, sid, ledger.TypeMargin, cur))
		note(add(l, sid, ledger.TypeMargin, update))
		note(add(l, sid, ledger.TypeFree, cur))
		l.SubFloat(sid, ledger.TypeFree, update)
		next = update.Neg()
	case ActionFlipBuy:
		l.AddFloat(sid, ledger.TypeMargin, cur)
		note(add(l, sid, ledger.TypeMargin, update))
		l.SubFloat(sid, ledger.TypeFree, cur)
		l.SubFloat(sid, ledger.TypeFree, update)
		next = update
	}
	return next, errors.Join(skipped...)
}

func add(l *ledger.Ledger, sid uint64, t ledger.BalanceType, v decimal.Decimal) (string, decimal.Decimal, error) {
	r, err := l.AddV2(sid, t, v)
	return "add " + t.String(), r, err
}

// sub skips zero amounts so an absent entry is not reported as a failure.
func sub(l *ledger.Ledger, sid uint64, t ledger.BalanceType, v decimal.Decimal) (string, decimal.Decimal, error) {
	if v.IsZero() {
		return "sub " + t.String(), l.Amount(sid, t), nil
	}
	r, err := l.SubV2(sid, t, v)
	return "sub " + t.String(), r, err
}
