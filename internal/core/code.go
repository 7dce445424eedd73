package core

import "fmt"

// Code is the result of an engine operation. Zero is success; the small
// negative values are the business errors of the lifecycle operations and
// the rest are request-level rejections raised before any mutation.
type Code int

const (
	CodeOK             Code = 0
	CodeInsufficient   Code = -2
	CodeBadPrice       Code = -3
	CodeBadMarginPrice Code = -4
	CodeBadProfitPrice Code = -5
	CodeInternal       Code = -6

	CodeInvalidArgument Code = -10
	CodeNotFound        Code = -11
	CodeUserMismatch    Code = -12
	CodeInvalidTP       Code = -13
	CodeInvalidSL       Code = -14
	CodeInvalidPrice    Code = -15
	CodeMarketClosed    Code = -16
)

func (c Code) OK() bool { return c == CodeOK }

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInsufficient:
		return "insufficient"
	case CodeBadPrice:
		return "bad_price"
	case CodeBadMarginPrice:
		return "bad_margin_price"
	case CodeBadProfitPrice:
		return "bad_profit_price"
	case CodeInternal:
		return "internal"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeNotFound:
		return "not_found"
	case CodeUserMismatch:
		return "user_mismatch"
	case CodeInvalidTP:
		return "invalid_tp"
	case CodeInvalidSL:
		return "invalid_sl"
	case CodeInvalidPrice:
		return "invalid_price"
	case CodeMarketClosed:
		return "market_closed"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// CodeError carries a non-zero Code through error-returning paths such as
// replay.
type CodeError struct {
	Code Code
}

func (e *CodeError) Error() string { return "engine: " + e.Code.String() }
