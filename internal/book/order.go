package book

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrDuplicateID   = errors.New("duplicate order id")
)

// Side of an order. The numeric values are part of the op-log and RPC wire format.
type Side uint32

const (
	SideSell Side = 1
	SideBuy  Side = 2
)

func (s Side) Valid() bool { return s == SideSell || s == SideBuy }

func (s Side) String() string {
	switch s {
	case SideSell:
		return "sell"
	case SideBuy:
		return "buy"
	default:
		return fmt.Sprintf("side(%d)", uint32(s))
	}
}

// Kind discriminates open positions from pending orders.
type Kind uint32

const (
	KindLimit  Kind = 1
	KindMarket Kind = 2
	KindBreak  Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "limit"
	case KindMarket:
		return "market"
	case KindBreak:
		return "break"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Order is one open position or pending order. Timestamps are unix seconds
// with fractional part, exactly as recorded in the op-log.
//
// For a pending order Margin holds the rate percentage/leverage rather than
// an amount; activation replaces it with the charged margin.
type Order struct {
	ID         uint64  `json:"id"`
	Kind       Kind    `json:"type"`
	Side       Side    `json:"side"`
	External   uint64  `json:"external"`
	CreateTime float64 `json:"create_time"`
	UpdateTime float64 `json:"update_time"`
	FinishTime float64 `json:"finish_time"`
	ExpireTime uint64  `json:"expire_time"`
	SID        uint64  `json:"sid"`
	Symbol     string  `json:"symbol"`

	Price       decimal.Decimal `json:"price"`
	Lot         decimal.Decimal `json:"lot"`
	ClosePrice  decimal.Decimal `json:"close_price"`
	Margin      decimal.Decimal `json:"margin"`
	Fee         decimal.Decimal `json:"fee"`
	Swap        decimal.Decimal `json:"swap"`  // daily rate
	Swaps       decimal.Decimal `json:"swaps"` // accrued
	Profit      decimal.Decimal `json:"profit"`
	TP          decimal.Decimal `json:"tp"`
	SL          decimal.Decimal `json:"sl"`
	MarginPrice decimal.Decimal `json:"margin_price"`
	ProfitPrice decimal.Decimal `json:"profit_price"`

	Comment string `json:"comment"`
}

// Clone returns a detached copy for publishing outside the engine loop.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

func (o *Order) IsBuy() bool { return o.Side == SideBuy }
