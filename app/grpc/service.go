package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "remittance.PaymentsService"

// PaymentsServiceServer is served over google.protobuf.Struct messages that
// carry the same JSON projections as the HTTP API.
type PaymentsServiceServer interface {
	Health(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CreatePayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CancelPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	EstimateFees(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv PaymentsServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PaymentsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Health", PaymentsServiceServer.Health),
		unaryMethod("CreatePayment", PaymentsServiceServer.CreatePayment),
		unaryMethod("GetPayment", PaymentsServiceServer.GetPayment),
		unaryMethod("CancelPayment", PaymentsServiceServer.CancelPayment),
		unaryMethod("EstimateFees", PaymentsServiceServer.EstimateFees),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "remittance/payments.proto",
}

func RegisterPaymentsServiceServer(registrar grpc.ServiceRegistrar, srv PaymentsServiceServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func FullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PaymentsServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(PaymentsServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
