package nbi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// DiagramClient calls DiagramService methods by name.
type DiagramClient struct {
	cc grpc.ClientConnInterface
}

// NewDiagramClient wraps a client connection.
func NewDiagramClient(cc grpc.ClientConnInterface) *DiagramClient {
	return &DiagramClient{cc: cc}
}

// Call invokes method with in. A nil in sends an empty message.
func (c *DiagramClient) Call(ctx context.Context, method string, in proto.Message, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &emptypb.Empty{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+DiagramServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CallFields builds the request from a plain map.
func (c *DiagramClient) CallFields(ctx context.Context, method string, fields map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, method, in, opts...)
}
