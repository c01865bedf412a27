package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "edgescan.v1.PipelineService"

	statusMethod = "/" + ServiceName + "/Status"
	latestMethod = "/" + ServiceName + "/Latest"
	stopMethod   = "/" + ServiceName + "/Stop"
	watchMethod  = "/" + ServiceName + "/Watch"
)

// PipelineServiceServer is served under ServiceName. Payloads are
// structpb.Struct so the service needs no generated message types.
type PipelineServiceServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Watch(*emptypb.Empty, PipelineService_WatchServer) error
}

type PipelineService_WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type pipelineServiceWatchServer struct {
	grpc.ServerStream
}

func (x *pipelineServiceWatchServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterPipelineServiceServer(s grpc.ServiceRegistrar, srv PipelineServiceServer) {
	s.RegisterService(&PipelineService_ServiceDesc, srv)
}

func unaryHandler(method string, call func(PipelineServiceServer, context.Context, *emptypb.Empty) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PipelineServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PipelineServiceServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(PipelineServiceServer).Watch(m, &pipelineServiceWatchServer{stream})
}

var PipelineService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PipelineServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Status",
			Handler: unaryHandler(statusMethod, func(s PipelineServiceServer, ctx context.Context, in *emptypb.Empty) (interface{}, error) {
				return s.Status(ctx, in)
			}),
		},
		{
			MethodName: "Latest",
			Handler: unaryHandler(latestMethod, func(s PipelineServiceServer, ctx context.Context, in *emptypb.Empty) (interface{}, error) {
				return s.Latest(ctx, in)
			}),
		},
		{
			MethodName: "Stop",
			Handler: unaryHandler(stopMethod, func(s PipelineServiceServer, ctx context.Context, in *emptypb.Empty) (interface{}, error) {
				return s.Stop(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "edgescan/v1/pipeline.proto",
}

type PipelineServiceClient interface {
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Latest(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Stop(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Watch(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (PipelineService_WatchClient, error)
}

type pipelineServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPipelineServiceClient(cc grpc.ClientConnInterface) PipelineServiceClient {
	return &pipelineServiceClient{cc}
}

func (c *pipelineServiceClient) Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pipelineServiceClient) Latest(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, latestMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pipelineServiceClient) Stop(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, stopMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type PipelineService_WatchClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type pipelineServiceWatchClient struct {
	grpc.ClientStream
}

func (x *pipelineServiceWatchClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *pipelineServiceClient) Watch(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (PipelineService_WatchClient, error) {
	stream, err := c.cc.NewStream(ctx, &PipelineService_ServiceDesc.Streams[0], watchMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &pipelineServiceWatchClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
