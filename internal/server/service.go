package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "missionctl.v1.MissionService"

// MissionServiceServer is the read API over the mission ledger and audit
// trail. Requests and responses are google.protobuf.Struct documents.
type MissionServiceServer interface {
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTimeline(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QueryAudit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyAudit(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(MissionServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodHandler(name string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MissionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MissionServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// MissionServiceDesc describes MissionService for grpc.Server.RegisterService.
var MissionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MissionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRun", Handler: methodHandler("GetRun", MissionServiceServer.GetRun)},
		{MethodName: "ListRuns", Handler: methodHandler("ListRuns", MissionServiceServer.ListRuns)},
		{MethodName: "GetTimeline", Handler: methodHandler("GetTimeline", MissionServiceServer.GetTimeline)},
		{MethodName: "QueryAudit", Handler: methodHandler("QueryAudit", MissionServiceServer.QueryAudit)},
		{MethodName: "VerifyAudit", Handler: methodHandler("VerifyAudit", MissionServiceServer.VerifyAudit)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "missionctl/v1/mission.proto",
}

// RegisterMissionServiceServer registers srv on s.
func RegisterMissionServiceServer(s grpc.ServiceRegistrar, srv MissionServiceServer) {
	s.RegisterService(&MissionServiceDesc, srv)
}

// Client calls MissionService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a MissionService client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun calls MissionService.GetRun.
func (c *Client) GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetRun", in, opts...)
}

// ListRuns calls MissionService.ListRuns.
func (c *Client) ListRuns(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListRuns", in, opts...)
}

// GetTimeline calls MissionService.GetTimeline.
func (c *Client) GetTimeline(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetTimeline", in, opts...)
}

// QueryAudit calls MissionService.QueryAudit.
func (c *Client) QueryAudit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "QueryAudit", in, opts...)
}

// VerifyAudit calls MissionService.VerifyAudit.
func (c *Client) VerifyAudit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "VerifyAudit", in, opts...)
}
