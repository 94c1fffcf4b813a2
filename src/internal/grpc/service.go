package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "selfswitch.v1.Updater"

// UpdaterServer is the server API for the Updater service. Messages are
// protobuf well-known types; structured payloads travel as Struct values
// holding the JSON form of the models.
type UpdaterServer interface {
	GetVersion(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	ListReleases(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetRelease(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	IsCached(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	Download(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Switch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*UpdaterServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetVersion", UpdaterServer.GetVersion),
		unary("ListReleases", UpdaterServer.ListReleases),
		unary("GetRelease", UpdaterServer.GetRelease),
		unary("IsCached", UpdaterServer.IsCached),
		unary("Download", UpdaterServer.Download),
		unary("Switch", UpdaterServer.Switch),
		unary("GetStatus", UpdaterServer.GetStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "selfswitch/v1/updater.proto",
}

// RegisterUpdaterServer registers srv on s
func RegisterUpdaterServer(s grpc.ServiceRegistrar, srv UpdaterServer) {
	s.RegisterService(&serviceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor the protoc plugin would generate
func unary[Req, Resp any](name string, call func(UpdaterServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(UpdaterServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(UpdaterServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
