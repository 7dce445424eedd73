// Package command defines every state-changing operation of the engine as
// a closed set of typed commands, with the positional parameter layout they
// take in the operation log.
package command

import (
	"encoding/json"
	"fmt"

	"MarginLedger/internal/book"
	"MarginLedger/internal/ledger"

	"github.com/shopspring/decimal"
)

// Method is the op-log name of a command.
type Method string

const (
	MethodUpdateBalance  Method = "update_balance"
	MethodOpenOrder      Method = "open_order"
	MethodCloseOrder     Method = "close_order"
	MethodUpdateOrder    Method = "update_order"
	MethodLimitOrder     Method = "limit_order"
	MethodCancelOrder    Method = "cancel_order"
	MethodLimitOpen      Method = "limit_open"
	MethodCloseExternal  Method = "close_external_order"
	MethodUpdateExternal Method = "update_external_order"
	MethodCancelExternal Method = "cancel_external_order"
	MethodTPSLOrder      Method = "tpsl_order"
	MethodStopOutOrder   Method = "stop_out_order"
)

// Methods lists every method in a stable order.
var Methods = []Method{
	MethodUpdateBalance, MethodOpenOrder, MethodCloseOrder, MethodUpdateOrder,
	MethodLimitOrder, MethodCancelOrder, MethodLimitOpen, MethodCloseExternal,
	MethodUpdateExternal, MethodCancelExternal, MethodTPSLOrder, MethodStopOutOrder,
}

// Command is implemented only by the types in this package.
type Command interface {
	Method() Method
	params() []any
	sealed()
}

// Entry is one op-log row. ID is assigned by the engine and is gap-free.
type Entry struct {
	ID      uint64
	Time    float64
	Command Command
}

// === Commands ===

type UpdateBalance struct {
	SID     uint64
	Change  decimal.Decimal
	Comment string
}

type OpenOrder struct {
	SID         uint64
	Group       string
	Symbol      string
	Side        book.Side
	Lot         decimal.Decimal
	TP          decimal.Decimal
	SL          decimal.Decimal
	External    uint64
	Comment     string
	Price       decimal.Decimal
	MarginPrice decimal.Decimal
	CreateTime  float64
}

// Close carries a position close decided at Price with the profit cross
// rate ProfitPrice. It is shared by user closes, tp/sl and stop-out.
type Close struct {
	SID         uint64
	Symbol      string
	OrderID     uint64
	Comment     string
	Price       decimal.Decimal
	ProfitPrice decimal.Decimal
	FinishTime  float64
}

type CloseOrder struct{ Close }

type TPSLOrder struct{ Close }

type StopOutOrder struct{ Close }

type CloseExternal struct {
	SID         uint64
	Symbol      string
	External    uint64
	Comment     string
	Price       decimal.Decimal
	ProfitPrice decimal.Decimal
	FinishTime  float64
}

type UpdateOrder struct {
	SID     uint64
	Symbol  string
	OrderID uint64
	TP      decimal.Decimal
	SL      decimal.Decimal
}

type UpdateExternal struct {
	SID      uint64
	Symbol   string
	External uint64
	TP       decimal.Decimal
	SL       decimal.Decimal
}

type LimitOrder struct {
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
	CreateTime float64
}

type CancelOrder struct {
	SID        uint64
	Symbol     string
	OrderID    uint64
	Comment    string
	FinishTime float64
}

type CancelExternal struct {
	SID        uint64
	Symbol     string
	External   uint64
	Comment    string
	FinishTime float64
}

type LimitOpen struct {
	SID         uint64
	Symbol      string
	OrderID     uint64
	Price       decimal.Decimal
	MarginPrice decimal.Decimal
	UpdateTime  float64
}

func (UpdateBalance) Method() Method  { return MethodUpdateBalance }
func (OpenOrder) Method() Method      { return MethodOpenOrder }
func (CloseOrder) Method() Method     { return MethodCloseOrder }
func (TPSLOrder) Method() Method      { return MethodTPSLOrder }
func (StopOutOrder) Method() Method   { return MethodStopOutOrder }
func (CloseExternal) Method() Method  { return MethodCloseExternal }
func (UpdateOrder) Method() Method    { return MethodUpdateOrder }
func (UpdateExternal) Method() Method { return MethodUpdateExternal }
func (LimitOrder) Method() Method     { return MethodLimitOrder }
func (CancelOrder) Method() Method    { return MethodCancelOrder }
func (CancelExternal) Method() Method { return MethodCancelExternal }
func (LimitOpen) Method() Method      { return MethodLimitOpen }

func (UpdateBalance) sealed()  {}
func (OpenOrder) sealed()      {}
func (Close) sealed()          {}
func (CloseExternal) sealed()  {}
func (UpdateOrder) sealed()    {}
func (UpdateExternal) sealed() {}
func (LimitOrder) sealed()     {}
func (CancelOrder) sealed()    {}
func (CancelExternal) sealed() {}
func (LimitOpen) sealed()      {}

// === Encoding ===

func (c UpdateBalance) params() []any {
	return []any{c.SID, dec(c.Change), c.Comment}
}

func (c OpenOrder) params() []any {
	return []any{c.SID, c.Group, c.Symbol, uint32(c.Side), dec(c.Lot), dec(c.TP), dec(c.SL),
		c.External, c.Comment, dec(c.Price), dec(c.MarginPrice), Real(c.CreateTime)}
}

func (c Close) params() []any {
	return []any{c.SID, c.Symbol, c.OrderID, c.Comment, dec(c.Price), dec(c.ProfitPrice), Real(c.FinishTime)}
}

func (c CloseExternal) params() []any {
	return []any{c.SID, c.Symbol, c.External, c.Comment, dec(c.Price), dec(c.ProfitPrice), Real(c.FinishTime)}
}

func (c UpdateOrder) params() []any {
	return []any{c.SID, c.Symbol, c.OrderID, dec(c.TP), dec(c.SL)}
}

func (c UpdateExternal) params() []any {
	return []any{c.SID, c.Symbol, c.External, dec(c.TP), dec(c.SL)}
}

func (c LimitOrder) params() []any {
	return []any{c.SID, c.Group, c.Symbol, uint32(c.Side), dec(c.Lot), uint32(c.Kind), dec(c.Price),
		dec(c.TP), dec(c.SL), c.ExpireTime, c.External, c.Comment, Real(c.CreateTime)}
}

func (c CancelOrder) params() []any {
	return []any{c.SID, c.Symbol, c.OrderID, c.Comment, Real(c.FinishTime)}
}

func (c CancelExternal) params() []any {
	return []any{c.SID, c.Symbol, c.External, c.Comment, Real(c.FinishTime)}
}

func (c LimitOpen) params() []any {
	return []any{c.SID, c.Symbol, c.OrderID, dec(c.Price), dec(c.MarginPrice), Real(c.UpdateTime)}
}

// Encode renders the positional params of c.
func Encode(c Command) (json.RawMessage, error) {
	b, err := json.Marshal(c.params())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Method(), err)
	}
	return b, nil
}

// Detail is the stored form of an entry: {"method": ..., "params": [...]}.
type Detail struct {
	Method Method          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func EncodeDetail(c Command) ([]byte, error) {
	p, err := Encode(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Detail{Method: c.Method(), Params: p})
}

// === Decoding ===

// Decode parses params for method. Shape and JSON types are checked
// strictly; business validation is left to the engine.
func Decode(method Method, raw []byte) (Command, error) {
	p, err := ParseParams(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	var c Command
	switch method {
	case MethodUpdateBalance:
		c, err = decodeUpdateBalance(p)
	case MethodOpenOrder:
		c, err = decodeOpenOrder(p)
	case MethodCloseOrder:
		var x Close
		x, err = decodeClose(p)
		c = CloseOrder{x}
	case MethodTPSLOrder:
		var x Close
		x, err = decodeClose(p)
		c = TPSLOrder{x}
	case MethodStopOutOrder:
		var x Close
		x, err = decodeClose(p)
		c = StopOutOrder{x}
	case MethodCloseExternal:
		c, err = decodeCloseExternal(p)
	case MethodUpdateOrder:
		c, err = decodeUpdateOrder(p)
	case MethodUpdateExternal:
		c, err = decodeUpdateExternal(p)
	case MethodLimitOrder:
		c, err = decodeLimitOrder(p)
	case MethodCancelOrder:
		c, err = decodeCancelOrder(p)
	case MethodCancelExternal:
		c, err = decodeCancelExternal(p)
	case MethodLimitOpen:
		c, err = decodeLimitOpen(p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return c, nil
}

// DecodeDetail parses the stored {"method","params"} form.
func DecodeDetail(raw []byte) (Command, error) {
	var d Detail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d.Method == "" || len(d.Params) == 0 {
		return nil, fmt.Errorf("%w: missing method or params", ErrMalformed)
	}
	return Decode(d.Method, d.Params)
}

// reader collects the first error so decoders read like a field list.
type reader struct {
	p   Params
	err error
}

func (r *reader) uint(i int) uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.p.Uint(i)
	r.err = err
	return v
}

func (r *reader) str(i int) string {
	if r.err != nil {
		return ""
	}
	v, err := r.p.String(i)
	r.err = err
	return v
}

func (r *reader) dec(i int, prec int32) decimal.Decimal {
	if r.err != nil {
		return decimal.Zero
	}
	v, err := r.p.Decimal(i, prec)
	r.err = err
	return v
}

func (r *reader) positive(i int, prec int32) decimal.Decimal {
	if r.err != nil {
		return decimal.Zero
	}
	v, err := r.p.Positive(i, prec)
	r.err = err
	return v
}

func (r *reader) trigger(i int) decimal.Decimal {
	if r.err != nil {
		return decimal.Zero
	}
	v, err := r.p.Trigger(i)
	r.err = err
	return v
}

func (r *reader) real(i int) float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.p.Real(i)
	r.err = err
	return v
}

func (r *reader) side(i int) book.Side {
	s := book.Side(r.uint(i))
	if r.err == nil && !s.Valid() {
		r.err = fmt.Errorf("%w: param %d: invalid side %d", ErrMalformed, i, uint32(s))
	}
	return s
}

func (r *reader) kind(i int) book.Kind {
	k := book.Kind(r.uint(i))
	if r.err == nil && k != book.KindLimit && k != book.KindBreak {
		r.err = fmt.Errorf("%w: param %d: invalid pending type %d", ErrMalformed, i, uint32(k))
	}
	return k
}

func decodeUpdateBalance(p Params) (Command, error) {
	if err := p.Arity(3); err != nil {
		return nil, err
	}
	r := reader{p: p}
	c := UpdateBalance{
		SID:     r.uint(0),
		Change:  r.dec(1, ledger.PrecDefault),
		Comment: r.str(2),
	}
	return c, r.err
}

func decodeOpenOrder(p Params) (Command, error) {
	if err := p.Arity(12); err != nil {
		return nil, err
	}
	r := reader{p: p}
	c := OpenOrder{
		SID:         r.uint(0),
		Group:       r.str(1),
		Symbol:      r.str(2),
		Side:        r.side(3),
		Lot:         r.positive(4, ledger.PrecDefault),
		TP:          r.trigger(5),
		SL:          r.trigger(6),
		External:    r.uint(7),
		Comment:     r.str(8),
		Price:       r.dec(9, ledger.PrecPrice),
		MarginPrice: r.dec(10, ledger.PrecPrice),
		CreateTime:  r.real(11),
	}
	return c, r.err
}

func decodeClose(p Params) (Close, error) {
	if err := p.Arity(7); err != nil {
		return Close{}, err
	}
	r := reader{p: p}
	c := Close{
		SID:         r.uint(0),
		Symbol:      r.str(1),
		OrderID:     r.uint(2),
		Comment:     r.str(3),
		Price:       r.dec(4, ledger.PrecPrice),
		ProfitPrice: r.dec(5, ledger.PrecPrice),
		FinishTime:  r.real(6),
	}
	return c, r.err
}

func decodeCloseExternal(p Params) (Command, error) {
	if err := p.Arity(7); err != nil {
		return nil, err
	}
	r := reader{p: p}
	c := CloseExternal{
		SID:         r.uint(0),
		Symbol:      r.str(1),
		External:    r.uint(2),
		Comment:     r.str(3),
		Price:       r.dec(4, ledger.PrecPrice),
		ProfitPrice: r.dec(5, ledger.PrecPrice),
		FinishTime:  r.real(6),
	}
	return c, r.err
}

func decodeUpdateOrder(p Params) (Command, error) {
	if err := p.Arity(5); err != nil {
		return nil, err
	}
	r := reader{p: p}
	c := UpdateOrder{
		SID:     r.uint(0),
		Symbol:  r.str(1),
		OrderID: r.uint(2),
		TP:      r.trigger(3),
		SL:      r.trigger(4),
	}
	return c, r.err
}

func decodeUpdateExternal(p Params) (Command, error) {
	if err := p.Arity(5); err != nil {
		return nil, err
	}
	r := reader{p: p}
	c := UpdateExternal{
		SID:      r.uint(0),
		Symbol:   r.str(1),
		External: r.uint(2),
		TP:       r.trigger(3),
		SL:       r.trigger(4),
	}
	return c, r.err
}

func decodeLimitOrder(p Params) (Command, error) {
	if err := p.Arity(13); err != nil {
		return nil, err
	}
	r := reader{p: p}
	c := LimitOrder{
		SID:        r.uint(0),
		Group:      r.str(1),
		Symbol:     r.str(2),
		Side:       r.side(3),
		Lot:        r.positive(4, ledger.PrecDefault),
		Kind:       r.kind(5),
		Price:      r.positive(6, ledger.PrecPrice),
		TP:         r.trigger(7),
		SL:         r.trigger(8),
		ExpireTime: r.uint(9),
		External:   r.uint(10),
		Comment:    r.str(11),
		CreateTime: r.real(12),
	}
	return c, r.err
}

func decodeCancelOrder(p Params) (Command, error) {
	if err := p.Arity(5); err != nil {
		return nil, err
	}
	r := reader{p: p}
	c := CancelOrder{
		SID:        r.uint(0),
		Symbol:     r.str(1),
		OrderID:    r.uint(2),
		Comment:    r.str(3),
		FinishTime: r.real(4),
	}
	return c, r.err
}

func decodeCancelExternal(p Params) (Command, error) {
	if err := p.Arity(5); err != nil {
		return nil, err
	}
	r := reader{p: p}
	c := CancelExternal{
		SID:        r.uint(0),
		Symbol:     r.str(1),
		External:   r.uint(2),
		Comment:    r.str(3),
		FinishTime: r.real(4),
	}
	return c, r.err
}

func decodeLimitOpen(p Params) (Command, error) {
	if err := p.Arity(6); err != nil {
		return nil, err
	}
	r := reader{p: p}
	c := LimitOpen{
		SID:         r.uint(0),
		Symbol:      r.str(1),
		OrderID:     r.uint(2),
		Price:       r.dec(3, ledger.PrecPrice),
		MarginPrice: r.dec(4, ledger.PrecPrice),
		UpdateTime:  r.real(5),
	}
	return c, r.err
}
