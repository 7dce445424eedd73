package query

import (
	"MarginLedger/internal/book"

	"github.com/shopspring/decimal"
)

// Records is a list reply: {"total": n, "records": [...]}.
type Records struct {
	Total   int           `json:"total"`
	Records []*book.Order `json:"records"`
}

// SymbolInfo is the public contract data of a symbol.
type SymbolInfo struct {
	Name          string          `json:"name"`
	Security      string          `json:"security"`
	Currency      string          `json:"currency"`
	Digit         int             `json:"digit"`
	ContractSize  decimal.Decimal `json:"contract_size"`
	Percentage    decimal.Decimal `json:"percentage"`
	TickSize      decimal.Decimal `json:"tick_size"`
	TickPrice     decimal.Decimal `json:"tick_price"`
	MarginCalc    int             `json:"margin_calc"`
	ProfitCalc    int             `json:"profit_calc"`
	SwapCalc      int             `json:"swap_calc"`
	Schedule      [5]string       `json:"schedule"`
	StopOutExempt bool            `json:"stop_out_exempt"`
	Bid           decimal.Decimal `json:"bid"`
	Ask           decimal.Decimal `json:"ask"`
}

type GroupInfo struct {
	Name     string `json:"name"`
	Leverage uint32 `json:"leverage"`
}

// TickStatus reports the tick feed connection.
type TickStatus struct {
	Status   int     `json:"status"`
	LastTick float64 `json:"last_tick"`
}
