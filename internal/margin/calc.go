// Package margin holds the pure money calculations of the engine: required
// margin, realized profit, swap accrual and the hedged netting table.
package margin

import (
	"MarginLedger/internal/book"
	"MarginLedger/internal/ledger"
	"MarginLedger/internal/symbol"

	"github.com/shopspring/decimal"
)

// Rate is the per-unit margin factor percentage/leverage that pending
// orders carry until activation. leverage must be positive.
func Rate(percentage decimal.Decimal, leverage uint32) decimal.Decimal {
	return percentage.Div(decimal.NewFromInt(int64(leverage)))
}

// Required is the USD margin for opening lot at price:
// contract_size/100 / leverage × percentage × lot, then converted.
func Required(sym *symbol.Symbol, leverage uint32, percentage, lot, price, marginPrice decimal.Decimal) decimal.Decimal {
	m := sym.C.Div(decimal.NewFromInt(int64(leverage))).Mul(percentage).Mul(lot)
	return ledger.Rescale(toUSD(sym, m, price, marginPrice), ledger.PrecDefault)
}

// RequiredFromRate is Required for an activating pending order whose
// Margin field still holds Rate.
func RequiredFromRate(sym *symbol.Symbol, rate, lot, price, marginPrice decimal.Decimal) decimal.Decimal {
	m := rate.Mul(sym.C).Mul(lot)
	return ledger.Rescale(toUSD(sym, m, price, marginPrice), ledger.PrecDefault)
}

func toUSD(sym *symbol.Symbol, m, price, marginPrice decimal.Decimal) decimal.Decimal {
	if sym.MarginCalc == symbol.MarginCalcForex {
		switch sym.MarginType {
		case symbol.MarginTypeAU:
			return m.Mul(price)
		case symbol.MarginTypeAC:
			return m.Mul(marginPrice)
		case symbol.MarginTypeBC:
			return quo(m, marginPrice)
		}
		return m
	}
	if sym.Cross != nil {
		m = cross(sym.Cross, m, marginPrice)
	}
	return m.Mul(price)
}

// Profit is the realized USD profit of closing o at closePrice.
func Profit(sym *symbol.Symbol, o *book.Order, closePrice, profitPrice decimal.Decimal) decimal.Decimal {
	var p decimal.Decimal
	if o.IsBuy() {
		p = closePrice.Sub(o.Price)
	} else {
		p = o.Price.Sub(closePrice)
	}
	p = p.Mul(o.Lot)

	switch sym.ProfitCalc {
	case symbol.ProfitCalcForex:
		p = p.Mul(sym.ContractSize)
		switch sym.ProfitType {
		case symbol.ProfitTypeUB:
			p = quo(p, closePrice)
		case symbol.ProfitTypeAC:
			p = p.Mul(profitPrice)
		case symbol.ProfitTypeCB:
			p = quo(p, profitPrice)
		}
	case symbol.ProfitCalcCFD:
		p = p.Mul(sym.ContractSize)
		if sym.Cross != nil {
			p = cross(sym.Cross, p, profitPrice)
		}
	default:
		p = quo(p.Mul(sym.TickPrice), sym.TickSize)
	}
	return ledger.Rescale(p, ledger.PrecDefault)
}

// Swap is the accrued financing of o after days: rate × days × lot,
// converted with the rates captured at open.
func Swap(sym *symbol.Symbol, o *book.Order, days int) decimal.Decimal {
	s := o.Swap.Mul(decimal.NewFromInt(int64(days))).Mul(o.Lot)
	if sym.MarginCalc == symbol.MarginCalcForex {
		switch sym.MarginType {
		case symbol.MarginTypeAU:
			s = s.Mul(o.Price)
		case symbol.MarginTypeAC:
			s = s.Mul(o.MarginPrice)
		case symbol.MarginTypeBC:
			s = quo(s, o.MarginPrice)
		}
	} else if sym.Cross != nil {
		s = cross(sym.Cross, s, o.MarginPrice)
	}
	return ledger.Rescale(s, ledger.PrecDefault)
}

func cross(c *symbol.CrossRate, v, rate decimal.Decimal) decimal.Decimal {
	if c.Op == symbol.CrossDiv {
		return quo(v, rate)
	}
	return c.Apply(v, rate)
}

// quo divides, yielding zero for a zero divisor. Callers reject zero
// rates before any amount derived from them is posted.
func quo(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}
