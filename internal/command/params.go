package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"MarginLedger/internal/ledger"

	"github.com/shopspring/decimal"
)

var (
	ErrMalformed     = errors.New("malformed params")
	ErrUnknownMethod = errors.New("unknown method")
)

// Params is a positional JSON parameter list. Accessors enforce the JSON
// type of each slot: ids and counters are integers, amounts are decimal
// strings, timestamps are reals.
type Params []json.RawMessage

// ParseParams splits a JSON array into its elements.
func ParseParams(raw []byte) (Params, error) {
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: params is not an array", ErrMalformed)
	}
	return p, nil
}

// Arity fails unless exactly n params are present.
func (p Params) Arity(n int) error {
	if len(p) != n {
		return fmt.Errorf("%w: want %d params, got %d", ErrMalformed, n, len(p))
	}
	return nil
}

func (p Params) token(i int) ([]byte, error) {
	if i < 0 || i >= len(p) {
		return nil, fmt.Errorf("%w: param %d missing", ErrMalformed, i)
	}
	return bytes.TrimSpace(p[i]), nil
}

// Uint reads a non-negative JSON integer.
func (p Params) Uint(i int) (uint64, error) {
	t, err := p.token(i)
	if err != nil {
		return 0, err
	}
	if !isInteger(t) {
		return 0, fmt.Errorf("%w: param %d is not an integer", ErrMalformed, i)
	}
	v, err := strconv.ParseUint(string(t), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: param %d: %v", ErrMalformed, i, err)
	}
	return v, nil
}

// String reads a JSON string.
func (p Params) String(i int) (string, error) {
	t, err := p.token(i)
	if err != nil {
		return "", err
	}
	if len(t) == 0 || t[0] != '"' {
		return "", fmt.Errorf("%w: param %d is not a string", ErrMalformed, i)
	}
	var s string
	if err := json.Unmarshal(t, &s); err != nil {
		return "", fmt.Errorf("%w: param %d: %v", ErrMalformed, i, err)
	}
	return s, nil
}

// Decimal reads a decimal string rescaled to prec.
func (p Params) Decimal(i int, prec int32) (decimal.Decimal, error) {
	s, err := p.String(i)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := ledger.Parse(s, prec)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: param %d: %v", ErrMalformed, i, err)
	}
	return d, nil
}

// Positive reads a decimal string that must be greater than zero.
func (p Params) Positive(i int, prec int32) (decimal.Decimal, error) {
	d, err := p.Decimal(i, prec)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: param %d must be positive", ErrMalformed, i)
	}
	return d, nil
}

// Trigger reads an optional tp/sl price. An empty or zero string means
// unset; a negative price is rejected.
func (p Params) Trigger(i int) (decimal.Decimal, error) {
	s, err := p.String(i)
	if err != nil {
		return decimal.Zero, err
	}
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := ledger.Parse(s, ledger.PrecPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: param %d: %v", ErrMalformed, i, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: param %d is negative", ErrMalformed, i)
	}
	return d, nil
}

// Real reads a JSON number as unix seconds.
func (p Params) Real(i int) (float64, error) {
	t, err := p.token(i)
	if err != nil {
		return 0, err
	}
	if len(t) == 0 || !(t[0] == '-' || (t[0] >= '0' && t[0] <= '9')) {
		return 0, fmt.Errorf("%w: param %d is not a number", ErrMalformed, i)
	}
	v, err := strconv.ParseFloat(string(t), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: param %d: %v", ErrMalformed, i, err)
	}
	return v, nil
}

func isInteger(t []byte) bool {
	if len(t) == 0 {
		return false
	}
	for i, c := range t {
		if c == '-' && i == 0 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Real is a timestamp that always encodes with a fractional part, so the
// decoder can tell it apart from an integer slot.
type Real float64

func (r Real) MarshalJSON() ([]byte, error) {
	s := strconv.FormatFloat(float64(r), 'f', -1, 64)
	if !bytes.ContainsAny([]byte(s), ".eE") {
		s += ".0"
	}
	return []byte(s), nil
}

func dec(d decimal.Decimal) string { return ledger.Format(d) }
