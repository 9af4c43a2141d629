package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

/*
Mesh service

A single unary RPC carries one broadcast:

	service Mesh {
		rpc Deliver(google.protobuf.BytesValue) returns (google.protobuf.Empty);
	}

The BytesValue holds the colon-delimited record untouched, so the gRPC
transport carries exactly the bytes a radio peer would see. The sender's
listen address travels in the "mesh-from" metadata key.

The service only uses well-known types, so the descriptor is written out
here instead of being generated.
*/

const (
	meshServiceName = "meshguard.v1.Mesh"
	deliverMethod   = "/" + meshServiceName + "/Deliver"
	fromMetadataKey = "mesh-from"
)

// MeshServer is implemented by anything that accepts delivered broadcasts.
type MeshServer interface {
	Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeshServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var meshServiceDesc = grpc.ServiceDesc{
	ServiceName: meshServiceName,
	HandlerType: (*MeshServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meshguard/v1/mesh.proto",
}

// RegisterMeshServer registers srv on s.
func RegisterMeshServer(s grpc.ServiceRegistrar, srv MeshServer) {
	s.RegisterService(&meshServiceDesc, srv)
}

// deliver sends one payload over conn.
func deliver(ctx context.Context, conn grpc.ClientConnInterface, payload []byte, opts ...grpc.CallOption) error {
	return conn.Invoke(ctx, deliverMethod, wrapperspb.Bytes(payload), new(emptypb.Empty), opts...)
}
