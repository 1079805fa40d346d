package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified admin service name.
const ServiceName = "clinickeeper.admin.v1.Admin"

// Full method names.
const (
	MethodStats        = "/" + ServiceName + "/Stats"
	MethodFlush        = "/" + ServiceName + "/Flush"
	MethodGetEntity    = "/" + ServiceName + "/GetEntity"
	MethodDeleteEntity = "/" + ServiceName + "/DeleteEntity"
)

// AdminServer is the admin API. Messages are protobuf well-known types, so no
// generated code is needed.
type AdminServer interface {
	// Stats returns per-table entity counts and the last revision.
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Flush saves the store now and returns the new revision.
	Flush(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// GetEntity returns the record named by {"table", "id"}.
	GetEntity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// DeleteEntity deletes the entity named by {"table", "id"}, running its
	// referential actions.
	DeleteEntity(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// unary builds the method descriptor of one call.
func unary[Req, Resp any](name string, call func(AdminServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return h(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, h)
		},
	}
}

// AdminServiceDesc describes the admin service for grpc.Server.RegisterService.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Stats", AdminServer.Stats),
		unary("Flush", AdminServer.Flush),
		unary("GetEntity", AdminServer.GetEntity),
		unary("DeleteEntity", AdminServer.DeleteEntity),
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterAdminServer registers srv on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

// AdminClient calls the admin API.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient wraps a connection.
func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient { return &AdminClient{cc: cc} }

// Stats calls Admin.Stats.
func (c *AdminClient) Stats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodStats, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Flush calls Admin.Flush.
func (c *AdminClient) Flush(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodFlush, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEntity calls Admin.GetEntity.
func (c *AdminClient) GetEntity(ctx context.Context, ref *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetEntity, ref, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEntity calls Admin.DeleteEntity.
func (c *AdminClient) DeleteEntity(ctx context.Context, ref *structpb.Struct, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, MethodDeleteEntity, ref, new(emptypb.Empty), opts...)
}
