package symbol

import (
	"strings"

	"github.com/shopspring/decimal"
)

type MarginCalc int

const (
	MarginCalcForex MarginCalc = 1
	MarginCalcCFD   MarginCalc = 2
)

// MarginType selects how a FOREX symbol's margin is converted into USD.
type MarginType int

const (
	MarginTypeNone MarginType = 0
	MarginTypeAU   MarginType = 1 // base quoted in USD: × open price
	MarginTypeUB   MarginType = 2 // USD base: no conversion
	MarginTypeAC   MarginType = 3 // × <currency>USD
	MarginTypeBC   MarginType = 4 // ÷ USD<currency>
)

type ProfitCalc int

const (
	ProfitCalcForex   ProfitCalc = 1
	ProfitCalcCFD     ProfitCalc = 2
	ProfitCalcFutures ProfitCalc = 3
)

type ProfitType int

const (
	ProfitTypeNone ProfitType = 0
	ProfitTypeAU   ProfitType = 1
	ProfitTypeUB   ProfitType = 2
	ProfitTypeAC   ProfitType = 3
	ProfitTypeCB   ProfitType = 4
)

type SwapCalc int

const (
	SwapCalcMoney SwapCalc = 1
	SwapCalcUSD   SwapCalc = 2
)

// CrossOp is how a CFD cross rate is applied to a USD conversion.
type CrossOp int

const (
	CrossMul CrossOp = 1
	CrossDiv CrossOp = 2
)

// CrossRate converts a CFD symbol's native currency into USD through Pair.
type CrossRate struct {
	Pair string
	Op   CrossOp
}

// Apply multiplies or divides v by rate.
func (c CrossRate) Apply(v, rate decimal.Decimal) decimal.Decimal {
	if c.Op == CrossDiv {
		return v.Div(rate)
	}
	return v.Mul(rate)
}

// Currencies that are quoted as USD<ccy> instead of <ccy>USD.
var inverseQuoted = map[string]bool{
	"JPY": true,
	"HKD": true,
	"CAD": true,
	"CHF": true,
}

// Symbol is the contract data of one tradable instrument. The exported
// fields below the blank line are derived on load and never configured.
type Symbol struct {
	Name          string
	Security      string
	Currency      string
	Digit         int
	ContractSize  decimal.Decimal
	Percentage    decimal.Decimal
	TickSize      decimal.Decimal
	TickPrice     decimal.Decimal
	MarginCalc    MarginCalc
	ProfitCalc    ProfitCalc
	SwapCalc      SwapCalc
	Schedule      [5]string // Monday..Friday
	StopOutExempt bool

	C            decimal.Decimal // ContractSize / 100
	MarginType   MarginType
	MarginSymbol string
	ProfitType   ProfitType
	ProfitSymbol string
	Cross        *CrossRate
}

var hundred = decimal.NewFromInt(100)

func (s *Symbol) derive(cross map[string]CrossRate) {
	s.C = s.ContractSize.Div(hundred)
	s.MarginType, s.MarginSymbol = MarginTypeNone, ""
	s.ProfitType, s.ProfitSymbol = ProfitTypeNone, ""
	s.Cross = nil

	if s.MarginCalc == MarginCalcForex {
		switch {
		case s.Currency == "USD":
			s.MarginType = MarginTypeUB
		case inverseQuoted[s.Currency]:
			s.MarginType = MarginTypeBC
			s.MarginSymbol = "USD" + s.Currency
		case strings.Contains(s.Name, "USD"):
			s.MarginType = MarginTypeAU
			s.MarginSymbol = s.Name
		default:
			s.MarginType = MarginTypeAC
			s.MarginSymbol = s.Currency + "USD"
		}
	}

	if s.ProfitCalc == ProfitCalcForex {
		quote := ""
		if len(s.Name) >= 6 {
			quote = s.Name[3:6]
		}
		switch {
		case s.Currency == "USD":
			s.ProfitType = ProfitTypeUB
		case quote == "USD":
			s.ProfitType = ProfitTypeAU
		case inverseQuoted[quote]:
			s.ProfitType = ProfitTypeCB
			s.ProfitSymbol = "USD" + quote
		default:
			s.ProfitType = ProfitTypeAC
			s.ProfitSymbol = quote + "USD"
		}
	}

	if c, ok := cross[s.Name]; ok && (s.MarginCalc == MarginCalcCFD || s.ProfitCalc == ProfitCalcCFD) {
		s.Cross = &c
	}
}

// MarginPair names the symbol whose quote converts margin and swap into USD.
// Empty means the conversion rate is 1.
func (s *Symbol) MarginPair() string {
	if s.MarginCalc == MarginCalcForex {
		if s.MarginType == MarginTypeAC || s.MarginType == MarginTypeBC {
			return s.MarginSymbol
		}
		return ""
	}
	if s.Cross != nil {
		return s.Cross.Pair
	}
	return ""
}

// ProfitPair names the symbol whose quote converts profit into USD.
func (s *Symbol) ProfitPair() string {
	switch s.ProfitCalc {
	case ProfitCalcForex:
		if s.ProfitType == ProfitTypeAC || s.ProfitType == ProfitTypeCB {
			return s.ProfitSymbol
		}
		return ""
	case ProfitCalcCFD:
		if s.Cross != nil {
			return s.Cross.Pair
		}
	}
	return ""
}

// Group is an account group; Leverage 0 marks an unusable group.
type Group struct {
	Name     string
	Leverage uint32
}

// Terms are the per-(group, symbol) trading conditions.
type Terms struct {
	Percentage decimal.Decimal
	Fee        decimal.Decimal
	SwapLong   decimal.Decimal
	SwapShort  decimal.Decimal
}

// FixedQuote pins a symbol's bid/ask regardless of the tick feed.
type FixedQuote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}
