package storev1

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "safecomments.store.v1.Store"

// StoreServer is the server API of the store node.
type StoreServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Authorise(context.Context, *AuthoriseRequest) (*AuthoriseResponse, error)
	PutObject(context.Context, *PutObjectRequest) (*PutObjectResponse, error)
	ClaimName(context.Context, *ClaimNameRequest) (*ClaimNameResponse, error)
	GetEntries(context.Context, *GetEntriesRequest) (*GetEntriesResponse, error)
	ListKeys(context.Context, *ListKeysRequest) (*ListKeysResponse, error)
	GetValue(context.Context, *GetValueRequest) (*GetValueResponse, error)
	Mutate(context.Context, *MutateRequest) (*MutateResponse, error)
	SetPermissions(context.Context, *SetPermissionsRequest) (*SetPermissionsResponse, error)
}

// FullMethod returns the gRPC method path of a Store method.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(StoreServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(StoreServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the Store service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", StoreServer.Register),
		unary("Authorise", StoreServer.Authorise),
		unary("PutObject", StoreServer.PutObject),
		unary("ClaimName", StoreServer.ClaimName),
		unary("GetEntries", StoreServer.GetEntries),
		unary("ListKeys", StoreServer.ListKeys),
		unary("GetValue", StoreServer.GetValue),
		unary("Mutate", StoreServer.Mutate),
		unary("SetPermissions", StoreServer.SetPermissions),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "safecomments/store/v1/store",
}

// RegisterStoreServer registers srv on s.
func RegisterStoreServer(s grpc.ServiceRegistrar, srv StoreServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// StoreClient calls a store node. Every call is sent with the JSON codec.
type StoreClient struct {
	cc grpc.ClientConnInterface
}

// NewStoreClient wraps a client connection.
func NewStoreClient(cc grpc.ClientConnInterface) *StoreClient { return &StoreClient{cc: cc} }

func invoke[Resp any](ctx context.Context, c *StoreClient, name string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, FullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StoreClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c, "Register", in, opts)
}

func (c *StoreClient) Authorise(ctx context.Context, in *AuthoriseRequest, opts ...grpc.CallOption) (*AuthoriseResponse, error) {
	return invoke[AuthoriseResponse](ctx, c, "Authorise", in, opts)
}

func (c *StoreClient) PutObject(ctx context.Context, in *PutObjectRequest, opts ...grpc.CallOption) (*PutObjectResponse, error) {
	return invoke[PutObjectResponse](ctx, c, "PutObject", in, opts)
}

func (c *StoreClient) ClaimName(ctx context.Context, in *ClaimNameRequest, opts ...grpc.CallOption) (*ClaimNameResponse, error) {
	return invoke[ClaimNameResponse](ctx, c, "ClaimName", in, opts)
}

func (c *StoreClient) GetEntries(ctx context.Context, in *GetEntriesRequest, opts ...grpc.CallOption) (*GetEntriesResponse, error) {
	return invoke[GetEntriesResponse](ctx, c, "GetEntries", in, opts)
}

func (c *StoreClient) ListKeys(ctx context.Context, in *ListKeysRequest, opts ...grpc.CallOption) (*ListKeysResponse, error) {
	return invoke[ListKeysResponse](ctx, c, "ListKeys", in, opts)
}

func (c *StoreClient) GetValue(ctx context.Context, in *GetValueRequest, opts ...grpc.CallOption) (*GetValueResponse, error) {
	return invoke[GetValueResponse](ctx, c, "GetValue", in, opts)
}

func (c *StoreClient) Mutate(ctx context.Context, in *MutateRequest, opts ...grpc.CallOption) (*MutateResponse, error) {
	return invoke[MutateResponse](ctx, c, "Mutate", in, opts)
}

func (c *StoreClient) SetPermissions(ctx context.Context, in *SetPermissionsRequest, opts ...grpc.CallOption) (*SetPermissionsResponse, error) {
	return invoke[SetPermissionsResponse](ctx, c, "SetPermissions", in, opts)
}
