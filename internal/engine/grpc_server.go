package engine

import (
	"context"
	"errors"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"github.com/xela07ax/selfauth-gateway/internal/infra/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Сервис описан вручную: единственный метод принимает сырой calldata
// (BytesValue) и возвращает данные, которые вернула операция.
const (
	GatewayServiceName   = "selfauth.gateway.v1.Gateway"
	ExecuteFullMethod    = "/" + GatewayServiceName + "/Execute"
	grpcServiceSignature = "selfauth/gateway/v1/gateway.proto"
)

type GatewayServiceServer interface {
	Execute(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: GatewayServiceName,
	HandlerType: (*GatewayServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: grpcServiceSignature,
}

func RegisterGatewayServiceServer(s grpc.ServiceRegistrar, srv GatewayServiceServer) {
	s.RegisterService(&gatewayServiceDesc, srv)
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GatewayServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExecuteFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GatewayServiceServer).Execute(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ExecuteClient - тонкий клиент для того же сервиса.
func ExecuteClient(ctx context.Context, cc grpc.ClientConnInterface, calldata []byte, opts ...grpc.CallOption) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := cc.Invoke(ctx, ExecuteFullMethod, wrapperspb.Bytes(calldata), out, opts...); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

// NewGRPCServer собирает сервер шлюза. Цепочка: recovery -> auth -> Execute.
func NewGRPCServer(gw *Gateway, v auth.TokenValidator, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	recovery := grpc_recovery.WithRecoveryHandler(func(p interface{}) error {
		logger.Error("panic in gRPC handler", zap.Any("panic", p))
		return status.Error(codes.Internal, "internal error")
	})
	opts = append(opts, grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
		grpc_recovery.UnaryServerInterceptor(recovery),
		UnaryAuthInterceptor(v, logger),
	)))

	srv := grpc.NewServer(opts...)
	RegisterGatewayServiceServer(srv, NewGRPCGatewayServer(gw))
	return srv
}

type GRPCGatewayServer struct {
	gw *Gateway
}

func NewGRPCGatewayServer(gw *Gateway) *GRPCGatewayServer {
	return &GRPCGatewayServer{gw: gw}
}

func (s *GRPCGatewayServer) Execute(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	// Вызывающий - только из interceptor-а, по проверенному токену
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, ErrMissingCaller.Error())
	}

	resp, err := s.gw.Execute(ctx, caller, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(resp), nil
}

func toStatus(err error) error {
	var opErr *OperationError
	switch {
	case abi.IsDecodeError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrNotExecute), errors.Is(err, ErrUnknownOperation):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrTargetNotAllowed), errors.Is(err, ErrMissingCaller):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.As(err, &opErr):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
