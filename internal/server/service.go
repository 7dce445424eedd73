package server

import (
	"context"
	"errors"

	"MarginLedger/internal/book"
	"MarginLedger/internal/command"
	"MarginLedger/internal/core"
	"MarginLedger/internal/ledger"
	"MarginLedger/internal/query"

	"github.com/shopspring/decimal"
)

// Checker is a downstream writer whose health gates mutations.
type Checker interface {
	Healthy() bool
}

// Service implements the RPC methods. Every mutation runs on the engine
// loop through Engine.Do; queries go through the query service.
type Service struct {
	engine  *core.Engine
	queries *query.QueryService
	gate    []Checker
}

// NewService refuses mutations while any of gate reports unhealthy.
func NewService(engine *core.Engine, queries *query.QueryService, gate ...Checker) *Service {
	return &Service{engine: engine, queries: queries, gate: gate}
}

func (s *Service) available() error {
	for _, c := range s.gate {
		if c != nil && !c.Healthy() {
			return ErrUnavailable
		}
	}
	return nil
}

// run executes fn on the engine loop and maps its result.
func (s *Service) run(ctx context.Context, mapCode func(core.Code) *RPCError, fn func(*core.Engine) (any, core.Code)) (any, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	var (
		out  any
		code core.Code
	)
	if err := s.engine.Do(ctx, func(e *core.Engine) { out, code = fn(e) }); err != nil {
		if errors.Is(err, core.ErrStopped) {
			return nil, ErrUnavailable
		}
		return nil, err
	}
	if rpcErr := mapCode(code); rpcErr != nil {
		return nil, rpcErr
	}
	return out, nil
}

// args reads positional params and keeps the first error.
type args struct {
	p   command.Params
	err error
}

func newArgs(p command.Params, n int) *args {
	return &args{p: p, err: p.Arity(n)}
}

func (a *args) uint(i int) uint64 {
	if a.err != nil {
		return 0
	}
	v, err := a.p.Uint(i)
	a.err = err
	return v
}

func (a *args) str(i int) string {
	if a.err != nil {
		return ""
	}
	v, err := a.p.String(i)
	a.err = err
	return v
}

func (a *args) dec(i int, prec int32) decimal.Decimal {
	if a.err != nil {
		return decimal.Zero
	}
	v, err := a.p.Decimal(i, prec)
	a.err = err
	return v
}

func (a *args) positive(i int, prec int32) decimal.Decimal {
	if a.err != nil {
		return decimal.Zero
	}
	v, err := a.p.Positive(i, prec)
	a.err = err
	return v
}

func (a *args) trigger(i int) decimal.Decimal {
	if a.err != nil {
		return decimal.Zero
	}
	v, err := a.p.Trigger(i)
	a.err = err
	return v
}

func (a *args) done() error {
	if a.err != nil {
		return ErrInvalidArgument
	}
	return nil
}

// =============================================================================
// Balance
// =============================================================================

func (s *Service) BalanceQuery(ctx context.Context, p command.Params) (any, error) {
	a := newArgs(p, 1)
	sid := a.uint(0)
	if err := a.done(); err != nil {
		return nil, err
	}
	return s.queries.Balance(ctx, sid)
}

func (s *Service) BalanceUpdate(ctx context.Context, p command.Params) (any, error) {
	a := newArgs(p, 3)
	sid := a.uint(0)
	change := a.dec(1, ledger.PrecDefault)
	comment := a.str(2)
	if err := a.done(); err != nil {
		return nil, err
	}
	return s.run(ctx, fromCode, func(e *core.Engine) (any, core.Code) {
		return e.UpdateBalance(sid, change, comment)
	})
}

// =============================================================================
// Orders
// =============================================================================

func (s *Service) OrderOpen(ctx context.Context, p command.Params) (any, error) {
	a := newArgs(p, 9)
	req := core.OpenRequest{
		SID:      a.uint(0),
		Group:    a.str(1),
		Symbol:   a.str(2),
		Side:     book.Side(a.uint(3)),
		Lot:      a.positive(4, ledger.PrecDefault),
		TP:       a.trigger(5),
		SL:       a.trigger(6),
		External: a.uint(7),
		Comment:  a.str(8),
	}
	if err := a.done(); err != nil {
		return nil, err
	}
	if !req.Side.Valid() {
		return nil, ErrInvalidArgument
	}
	return s.run(ctx, fromCode, func(e *core.Engine) (any, core.Code) {
		return e.Open(req)
	})
}

func (s *Service) close(ctx context.Context, p command.Params, external bool) (any, error) {
	a := newArgs(p, 4)
	ref := core.OrderRef{SID: a.uint(0), Symbol: a.str(1), ID: a.uint(2), External: external}
	comment := a.str(3)
	if err := a.done(); err != nil {
		return nil, err
	}
	return s.run(ctx, fromCode, func(e *core.Engine) (any, core.Code) {
		return e.Close(ref, comment)
	})
}

func (s *Service) OrderClose(ctx context.Context, p command.Params) (any, error) {
	return s.close(ctx, p, false)
}

func (s *Service) OrderCloseExternal(ctx context.Context, p command.Params) (any, error) {
	return s.close(ctx, p, true)
}

func (s *Service) update(ctx context.Context, p command.Params, external bool) (any, error) {
	a := newArgs(p, 5)
	ref := core.OrderRef{SID: a.uint(0), Symbol: a.str(1), ID: a.uint(2), External: external}
	tp := a.trigger(3)
	sl := a.trigger(4)
	if err := a.done(); err != nil {
		return nil, err
	}
	return s.run(ctx, fromCode, func(e *core.Engine) (any, core.Code) {
		return e.Update(ref, tp, sl)
	})
}

func (s *Service) OrderUpdate(ctx context.Context, p command.Params) (any, error) {
	return s.update(ctx, p, false)
}

func (s *Service) OrderUpdateExternal(ctx context.Context, p command.Params) (any, error) {
	return s.update(ctx, p, true)
}

func (s *Service) OrderLimit(ctx context.Context, p command.Params) (any, error) {
	a := newArgs(p, 12)
	req := core.LimitRequest{
		SID:        a.uint(0),
		Group:      a.str(1),
		Symbol:     a.str(2),
		Side:       book.Side(a.uint(3)),
		Lot:        a.positive(4, ledger.PrecDefault),
		Kind:       book.Kind(a.uint(5)),
		Price:      a.positive(6, ledger.PrecPrice),
		TP:         a.trigger(7),
		SL:         a.trigger(8),
		ExpireTime: a.uint(9),
		External:   a.uint(10),
		Comment:    a.str(11),
	}
	if err := a.done(); err != nil {
		return nil, err
	}
	if !req.Side.Valid() || req.Kind != book.KindLimit && req.Kind != book.KindBreak {
		return nil, ErrInvalidArgument
	}
	return s.run(ctx, fromCode, func(e *core.Engine) (any, core.Code) {
		return e.PlaceLimit(req)
	})
}

func (s *Service) cancel(ctx context.Context, p command.Params, external bool) (any, error) {
	a := newArgs(p, 4)
	ref := core.OrderRef{SID: a.uint(0), Symbol: a.str(1), ID: a.uint(2), External: external}
	comment := a.str(3)
	if err := a.done(); err != nil {
		return nil, err
	}
	return s.run(ctx, fromPendingCode, func(e *core.Engine) (any, core.Code) {
		return e.Cancel(ref, comment)
	})
}

func (s *Service) OrderCancel(ctx context.Context, p command.Params) (any, error) {
	return s.cancel(ctx, p, false)
}

func (s *Service) OrderCancelExternal(ctx context.Context, p command.Params) (any, error) {
	return s.cancel(ctx, p, true)
}

// =============================================================================
// Queries
// =============================================================================

func (s *Service) OrderPosition(ctx context.Context, p command.Params) (any, error) {
	a := newArgs(p, 1)
	sid := a.uint(0)
	if err := a.done(); err != nil {
		return nil, err
	}
	return s.queries.Positions(ctx, sid)
}

func (s *Service) OrderPending(ctx context.Context, p command.Params) (any, error) {
	a := newArgs(p, 1)
	sid := a.uint(0)
	if err := a.done(); err != nil {
		return nil, err
	}
	return s.queries.Pending(ctx, sid)
}

func (s *Service) GroupList(_ context.Context, p command.Params) (any, error) {
	if len(p) != 0 {
		return nil, ErrInvalidArgument
	}
	return s.queries.Groups(), nil
}

func (s *Service) SymbolList(_ context.Context, p command.Params) (any, error) {
	if len(p) != 0 {
		return nil, ErrInvalidArgument
	}
	return s.queries.Symbols(), nil
}

func (s *Service) TickStatus(_ context.Context, p command.Params) (any, error) {
	if len(p) != 0 {
		return nil, ErrInvalidArgument
	}
	return s.queries.TickStatus(), nil
}
