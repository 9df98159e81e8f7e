package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "epochledger.v1.EpochLedger"

// Full method names.
const (
	MethodAppendRecord       = "/" + ServiceName + "/AppendRecord"
	MethodChangeVisibility   = "/" + ServiceName + "/ChangeVisibility"
	MethodListRecords        = "/" + ServiceName + "/ListRecords"
	MethodListVisibleRecords = "/" + ServiceName + "/ListVisibleRecords"
	MethodVerifyChain        = "/" + ServiceName + "/VerifyChain"
	MethodStartReadGrant     = "/" + ServiceName + "/StartReadGrant"
	MethodEndReadGrant       = "/" + ServiceName + "/EndReadGrant"
	MethodGetActiveReadGrant = "/" + ServiceName + "/GetActiveReadGrant"
	MethodGetReadGrant       = "/" + ServiceName + "/GetReadGrant"
	MethodReadTargetRecords  = "/" + ServiceName + "/ReadTargetRecords"
)

// EpochLedgerServer is the server API. Requests and responses are
// google.protobuf.Struct documents.
type EpochLedgerServer interface {
	AppendRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangeVisibility(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRecords(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListVisibleRecords(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyChain(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartReadGrant(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EndReadGrant(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetActiveReadGrant(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReadGrant(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReadTargetRecords(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedEpochLedgerServer answers Unimplemented for every method.
type UnimplementedEpochLedgerServer struct{}

func unimplemented(m string) error { return status.Errorf(codes.Unimplemented, "method %s not implemented", m) }

func (UnimplementedEpochLedgerServer) AppendRecord(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("AppendRecord")
}
func (UnimplementedEpochLedgerServer) ChangeVisibility(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("ChangeVisibility")
}
func (UnimplementedEpochLedgerServer) ListRecords(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("ListRecords")
}
func (UnimplementedEpochLedgerServer) ListVisibleRecords(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("ListVisibleRecords")
}
func (UnimplementedEpochLedgerServer) VerifyChain(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("VerifyChain")
}
func (UnimplementedEpochLedgerServer) StartReadGrant(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("StartReadGrant")
}
func (UnimplementedEpochLedgerServer) EndReadGrant(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("EndReadGrant")
}
func (UnimplementedEpochLedgerServer) GetActiveReadGrant(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("GetActiveReadGrant")
}
func (UnimplementedEpochLedgerServer) GetReadGrant(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("GetReadGrant")
}
func (UnimplementedEpochLedgerServer) ReadTargetRecords(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("ReadTargetRecords")
}

type methodFunc func(EpochLedgerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler adapts a server method to grpc's handler signature, running interceptors.
func unaryHandler(full string, call methodFunc) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EpochLedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(EpochLedgerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the EpochLedger service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EpochLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AppendRecord", Handler: unaryHandler(MethodAppendRecord, EpochLedgerServer.AppendRecord)},
		{MethodName: "ChangeVisibility", Handler: unaryHandler(MethodChangeVisibility, EpochLedgerServer.ChangeVisibility)},
		{MethodName: "ListRecords", Handler: unaryHandler(MethodListRecords, EpochLedgerServer.ListRecords)},
		{MethodName: "ListVisibleRecords", Handler: unaryHandler(MethodListVisibleRecords, EpochLedgerServer.ListVisibleRecords)},
		{MethodName: "VerifyChain", Handler: unaryHandler(MethodVerifyChain, EpochLedgerServer.VerifyChain)},
		{MethodName: "StartReadGrant", Handler: unaryHandler(MethodStartReadGrant, EpochLedgerServer.StartReadGrant)},
		{MethodName: "EndReadGrant", Handler: unaryHandler(MethodEndReadGrant, EpochLedgerServer.EndReadGrant)},
		{MethodName: "GetActiveReadGrant", Handler: unaryHandler(MethodGetActiveReadGrant, EpochLedgerServer.GetActiveReadGrant)},
		{MethodName: "GetReadGrant", Handler: unaryHandler(MethodGetReadGrant, EpochLedgerServer.GetReadGrant)},
		{MethodName: "ReadTargetRecords", Handler: unaryHandler(MethodReadTargetRecords, EpochLedgerServer.ReadTargetRecords)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "epochledger/v1/epochledger.proto",
}

// RegisterEpochLedgerServer registers srv on s.
func RegisterEpochLedgerServer(s grpc.ServiceRegistrar, srv EpochLedgerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// EpochLedgerClient is the client API.
type EpochLedgerClient struct {
	cc grpc.ClientConnInterface
}

// NewEpochLedgerClient wraps a client connection.
func NewEpochLedgerClient(cc grpc.ClientConnInterface) *EpochLedgerClient {
	return &EpochLedgerClient{cc: cc}
}

// Call invokes the unary method named by its full path.
func (c *EpochLedgerClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EpochLedgerClient) AppendRecord(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodAppendRecord, in, opts...)
}

func (c *EpochLedgerClient) ChangeVisibility(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodChangeVisibility, in, opts...)
}

func (c *EpochLedgerClient) ListRecords(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodListRecords, in, opts...)
}

func (c *EpochLedgerClient) ListVisibleRecords(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodListVisibleRecords, in, opts...)
}

func (c *EpochLedgerClient) VerifyChain(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodVerifyChain, in, opts...)
}

func (c *EpochLedgerClient) StartReadGrant(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodStartReadGrant, in, opts...)
}

func (c *EpochLedgerClient) EndReadGrant(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodEndReadGrant, in, opts...)
}

func (c *EpochLedgerClient) GetActiveReadGrant(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodGetActiveReadGrant, in, opts...)
}

func (c *EpochLedgerClient) GetReadGrant(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodGetReadGrant, in, opts...)
}

func (c *EpochLedgerClient) ReadTargetRecords(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodReadTargetRecords, in, opts...)
}
