package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"MarginLedger/internal/core"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RPCError is an error as clients see it. Code is part of the wire contract.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("%d: %s", e.Code, e.Message) }

var (
	ErrInvalidArgument    = &RPCError{1, "invalid argument"}
	ErrInternal           = &RPCError{2, "internal error"}
	ErrUnavailable        = &RPCError{3, "service unavailable"}
	ErrBalanceNotEnough   = &RPCError{10, "balance not enough"}
	ErrZeroPrice          = &RPCError{11, "symbol price is 0"}
	ErrInvalidTakeProfit  = &RPCError{12, "invalid take profit"}
	ErrInvalidStopLoss    = &RPCError{13, "invalid stop loss"}
	ErrZeroMarginPrice    = &RPCError{15, "margin symbol price is 0"}
	ErrOrderNotFound      = &RPCError{16, "order not found"}
	ErrUserNotMatch       = &RPCError{17, "user not match"}
	ErrZeroProfitPrice    = &RPCError{18, "profit symbol price is 0"}
	ErrInvalidPrice       = &RPCError{19, "invalid price"}
	ErrMarketClosed       = &RPCError{20, "market is close"}
	errPendingNotFound    = &RPCError{10, "order not found"}
	errPendingUserNoMatch = &RPCError{11, "user not match"}
)

// fromCode maps an engine result onto the RPC error table.
func fromCode(c core.Code) *RPCError {
	switch c {
	case core.CodeOK:
		return nil
	case core.CodeInsufficient:
		return ErrBalanceNotEnough
	case core.CodeBadPrice:
		return ErrZeroPrice
	case core.CodeBadMarginPrice:
		return ErrZeroMarginPrice
	case core.CodeBadProfitPrice:
		return ErrZeroProfitPrice
	case core.CodeInvalidArgument:
		return ErrInvalidArgument
	case core.CodeNotFound:
		return ErrOrderNotFound
	case core.CodeUserMismatch:
		return ErrUserNotMatch
	case core.CodeInvalidTP:
		return ErrInvalidTakeProfit
	case core.CodeInvalidSL:
		return ErrInvalidStopLoss
	case core.CodeInvalidPrice:
		return ErrInvalidPrice
	case core.CodeMarketClosed:
		return ErrMarketClosed
	default:
		return ErrInternal
	}
}

// fromPendingCode is fromCode for pending-order cancels, which keep their
// historical numbers for lookup failures.
func fromPendingCode(c core.Code) *RPCError {
	switch c {
	case core.CodeNotFound:
		return errPendingNotFound
	case core.CodeUserMismatch:
		return errPendingUserNoMatch
	}
	return fromCode(c)
}

func grpcCode(code int) codes.Code {
	switch code {
	case 1:
		return codes.InvalidArgument
	case 2:
		return codes.Internal
	case 3:
		return codes.Unavailable
	default:
		return codes.FailedPrecondition
	}
}

// toStatus converts a handler error into a gRPC status error.
func toStatus(err error) (*RPCError, error) {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
	case errors.Is(err, core.ErrStopped):
		rpcErr = ErrUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	default:
		rpcErr = ErrInternal
	}
	return rpcErr, status.Error(grpcCode(rpcErr.Code), rpcErr.Error())
}

// ParseError recovers the RPCError from a status error returned to a client.
func ParseError(err error) *RPCError {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return ErrInternal
	}
	head, msg, found := strings.Cut(st.Message(), ": ")
	code, convErr := strconv.Atoi(head)
	if !found || convErr != nil {
		return &RPCError{Code: 2, Message: st.Message()}
	}
	return &RPCError{Code: code, Message: msg}
}
