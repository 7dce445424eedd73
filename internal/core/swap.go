package core

import (
	"time"

	"MarginLedger/internal/book"
	"MarginLedger/internal/ledger"
	"MarginLedger/internal/margin"
)

const day = 24 * time.Hour

// SwapDue reports whether the daily swap should run at now: a full day
// since the last run, and not on Sunday or Monday.
func (e *Engine) SwapDue(now time.Time) bool {
	if now.Sub(e.lastSwap) < day {
		return false
	}
	wd := now.In(e.cfg.Location).Weekday()
	return wd >= time.Tuesday
}

// RunSwap recomputes the accrued swap of every open position and posts the
// change to equity and free margin. Saturday's run charges two extra days.
// It is not logged: a snapshot is taken right after it instead.
func (e *Engine) RunSwap(now time.Time) int {
	extra := 0
	if now.In(e.cfg.Location).Weekday() == time.Saturday {
		extra = 2
	}
	today := e.todayStart(now)

	n := 0
	for _, s := range e.dir.Symbols() {
		m := e.book.Market(s.Name)
		if m == nil {
			continue
		}
		var orders []*book.Order
		m.Scan(book.IndexBuys, func(o *book.Order) bool { orders = append(orders, o); return true })
		m.Scan(book.IndexSells, func(o *book.Order) bool { orders = append(orders, o); return true })

		for _, o := range orders {
			since := o.CreateTime
			if o.UpdateTime > 0 {
				since = o.UpdateTime
			}
			days := e.daysSince(today, since) + extra
			if days <= 0 {
				continue
			}
			swaps := margin.Swap(s, o, days)
			delta := swaps.Sub(o.Swaps)
			o.Swaps = swaps
			e.ledger.SubFloat(o.SID, ledger.TypeEquity, delta)
			e.ledger.SubFloat(o.SID, ledger.TypeFree, delta)
			n++
		}
	}
	e.lastSwap = e.lastSwap.Add(day)
	e.log.Info().Int("positions", n).Time("last_swap", e.lastSwap).Msg("swap accrued")
	return n
}

// daysSince counts calendar days from the day containing ts to today.
func (e *Engine) daysSince(today time.Time, ts float64) int {
	sec := int64(ts)
	start := e.todayStart(time.Unix(sec, 0))
	if today.Before(start) {
		return 0
	}
	return int(today.Sub(start) / day)
}

func (e *Engine) LastSwap() time.Time { return e.lastSwap }
