package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"MarginLedger/internal/command"
	"MarginLedger/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

// ServiceName is the gRPC service every method is registered under.
const ServiceName = "marginledger.v1.Engine"

// ErrorCodeTrailer carries the numeric RPCError code of a failed call.
const ErrorCodeTrailer = "x-error-code"

type handlerFunc func(*Service, context.Context, command.Params) (any, error)

// Methods are named after the legacy command names; the full gRPC method
// is /marginledger.v1.Engine/<name>.
var methods = []struct {
	name string
	fn   handlerFunc
}{
	{"balance.query", (*Service).BalanceQuery},
	{"balance.update", (*Service).BalanceUpdate},
	{"order.open", (*Service).OrderOpen},
	{"order.close", (*Service).OrderClose},
	{"order.close_external", (*Service).OrderCloseExternal},
	{"order.update", (*Service).OrderUpdate},
	{"order.update_external", (*Service).OrderUpdateExternal},
	{"order.limit", (*Service).OrderLimit},
	{"order.cancel", (*Service).OrderCancel},
	{"order.cancel_external", (*Service).OrderCancelExternal},
	{"order.position", (*Service).OrderPosition},
	{"order.pending", (*Service).OrderPending},
	{"group.list", (*Service).GroupList},
	{"symbol.list", (*Service).SymbolList},
	{"tick.status", (*Service).TickStatus},
}

// ServiceDesc is written by hand: requests are JSON param arrays decoded
// by the json codec, so there is no generated protobuf stub.
func ServiceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Metadata:    "marginledger/v1/engine.json",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler:    unaryHandler(m.name, m.fn),
		})
	}
	return desc
}

func unaryHandler(name string, fn handlerFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		var params command.Params
		if err := dec(&params); err != nil {
			return nil, fail(ctx, ErrInvalidArgument)
		}
		s := srv.(*Service)
		call := func(ctx context.Context, req any) (any, error) {
			out, err := fn(s, ctx, req.(command.Params))
			if err != nil {
				return nil, fail(ctx, err)
			}
			return out, nil
		}
		if interceptor == nil {
			return call(ctx, params)
		}
		return interceptor(ctx, params, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, call)
	}
}

// fail converts err to a status error and sets the error code trailer.
func fail(ctx context.Context, err error) error {
	rpcErr, st := toStatus(err)
	if rpcErr != nil {
		grpc.SetTrailer(ctx, metadata.Pairs(ErrorCodeTrailer, strconv.Itoa(rpcErr.Code)))
	}
	return st
}

// GRPCServer wraps the gRPC server.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	grpcAddr   string
	logger     zerolog.Logger
}

func NewGRPCServer(grpcAddr string, svc *Service, metrics *observability.Metrics, logger zerolog.Logger) *GRPCServer {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		recoverInterceptor(logger),
		observeInterceptor(metrics, logger),
	))

	desc := ServiceDesc()
	grpcServer.RegisterService(&desc, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		grpcServer: grpcServer,
		health:     healthServer,
		grpcAddr:   grpcAddr,
		logger:     logger,
	}
}

// SetServing flips the gRPC health status once boot and replay are done.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Start listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()
	return s.grpcServer.Serve(lis)
}

// =============================================================================
// Interceptors
// =============================================================================

func recoverInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Str("method", info.FullMethod).Msg("rpc handler panic")
				err = fail(ctx, ErrInternal)
			}
		}()
		return handler(ctx, req)
	}
}

func observeInterceptor(metrics *observability.Metrics, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := 0
		if err != nil {
			code = ParseError(err).Code
		}
		if metrics != nil {
			metrics.RPCRequests.WithLabelValues(info.FullMethod, strconv.Itoa(code)).Inc()
			metrics.RPCDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		}

		ev := logger.Debug()
		if code == ErrInternal.Code {
			ev = logger.Warn()
		}
		ev.Str("method", info.FullMethod).Int("code", code).Dur("took", time.Since(start)).Msg("rpc")
		return resp, err
	}
}
