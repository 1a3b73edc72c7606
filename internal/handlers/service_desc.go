package handlers

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// AttributesServiceName is the fully-qualified gRPC service name
const AttributesServiceName = "customattrs.v1.Attributes"

// Full method names of the Attributes service
const (
	MethodDefineAttributeType = "/" + AttributesServiceName + "/DefineAttributeType"
	MethodListAttributeTypes  = "/" + AttributesServiceName + "/ListAttributeTypes"
	MethodPurgeAttributeType  = "/" + AttributesServiceName + "/PurgeAttributeType"
	MethodSetAttribute        = "/" + AttributesServiceName + "/SetAttribute"
	MethodRemoveAttribute     = "/" + AttributesServiceName + "/RemoveAttribute"
	MethodReadAttributes      = "/" + AttributesServiceName + "/ReadAttributes"
)

// AttributesServer is the server API for the Attributes service.
// Requests and responses are google.protobuf.Struct messages.
type AttributesServer interface {
	DefineAttributeType(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListAttributeTypes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	PurgeAttributeType(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SetAttribute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RemoveAttribute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ReadAttributes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv AttributesServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AttributesServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AttributesServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AttributesServiceDesc is the grpc.ServiceDesc for the Attributes service
var AttributesServiceDesc = grpc.ServiceDesc{
	ServiceName: AttributesServiceName,
	HandlerType: (*AttributesServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "DefineAttributeType",
			Handler:    unaryHandler(MethodDefineAttributeType, AttributesServer.DefineAttributeType),
		},
		{
			MethodName: "ListAttributeTypes",
			Handler:    unaryHandler(MethodListAttributeTypes, AttributesServer.ListAttributeTypes),
		},
		{
			MethodName: "PurgeAttributeType",
			Handler:    unaryHandler(MethodPurgeAttributeType, AttributesServer.PurgeAttributeType),
		},
		{
			MethodName: "SetAttribute",
			Handler:    unaryHandler(MethodSetAttribute, AttributesServer.SetAttribute),
		},
		{
			MethodName: "RemoveAttribute",
			Handler:    unaryHandler(MethodRemoveAttribute, AttributesServer.RemoveAttribute),
		},
		{
			MethodName: "ReadAttributes",
			Handler:    unaryHandler(MethodReadAttributes, AttributesServer.ReadAttributes),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "customattrs/v1/attributes.proto",
}

// RegisterAttributesServer registers srv with the gRPC server
func RegisterAttributesServer(s grpc.ServiceRegistrar, srv AttributesServer) {
	s.RegisterService(&AttributesServiceDesc, srv)
}

// AttributesClient is the client API for the Attributes service
type AttributesClient struct {
	cc grpc.ClientConnInterface
}

// NewAttributesClient creates a client on cc
func NewAttributesClient(cc grpc.ClientConnInterface) *AttributesClient {
	return &AttributesClient{cc: cc}
}

func (c *AttributesClient) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DefineAttributeType calls Attributes.DefineAttributeType
func (c *AttributesClient) DefineAttributeType(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDefineAttributeType, req, opts...)
}

// ListAttributeTypes calls Attributes.ListAttributeTypes
func (c *AttributesClient) ListAttributeTypes(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListAttributeTypes, req, opts...)
}

// PurgeAttributeType calls Attributes.PurgeAttributeType
func (c *AttributesClient) PurgeAttributeType(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodPurgeAttributeType, req, opts...)
}

// SetAttribute calls Attributes.SetAttribute
func (c *AttributesClient) SetAttribute(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSetAttribute, req, opts...)
}

// RemoveAttribute calls Attributes.RemoveAttribute
func (c *AttributesClient) RemoveAttribute(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRemoveAttribute, req, opts...)
}

// ReadAttributes calls Attributes.ReadAttributes
func (c *AttributesClient) ReadAttributes(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodReadAttributes, req, opts...)
}
