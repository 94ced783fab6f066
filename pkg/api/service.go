// Package api defines the VLFS gRPC service.
//
// The service is described by hand with protobuf well-known types as its
// messages, so no generated code is needed.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	VLFSService_CreateFile_FullMethodName = "/vlfs.VLFSService/CreateFile"
	VLFSService_RemoveFile_FullMethodName = "/vlfs.VLFSService/RemoveFile"
	VLFSService_ListFiles_FullMethodName  = "/vlfs.VLFSService/ListFiles"
	VLFSService_ReadFile_FullMethodName   = "/vlfs.VLFSService/ReadFile"
	VLFSService_WriteFile_FullMethodName  = "/vlfs.VLFSService/WriteFile"
	VLFSService_Free_FullMethodName       = "/vlfs.VLFSService/Free"
)

// FileIDKey is the metadata key carrying the target file of WriteFile.
const FileIDKey = "vlfs-file-id"

// AllTypes asks ListFiles for files of every type.
const AllTypes = -1

// VLFSServiceClient is the client API for VLFSService.
type VLFSServiceClient interface {
	// CreateFile creates an empty file of the given type and returns its id.
	CreateFile(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*wrapperspb.UInt64Value, error)
	RemoveFile(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*emptypb.Empty, error)
	// ListFiles returns one FileInfo struct per file of the given type, or
	// of every type for AllTypes.
	ListFiles(ctx context.Context, in *wrapperspb.Int32Value, opts ...grpc.CallOption) (*structpb.ListValue, error)
	ReadFile(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error)
	// WriteFile appends the streamed bytes to the file named by the
	// FileIDKey metadata and returns the number of bytes written.
	WriteFile(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[wrapperspb.BytesValue, wrapperspb.UInt64Value], error)
	Free(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type vlfsServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewVLFSServiceClient returns a client stub over cc.
func NewVLFSServiceClient(cc grpc.ClientConnInterface) VLFSServiceClient {
	return &vlfsServiceClient{cc}
}

func (c *vlfsServiceClient) CreateFile(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*wrapperspb.UInt64Value, error) {
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	out := new(wrapperspb.UInt64Value)
	if err := c.cc.Invoke(ctx, VLFSService_CreateFile_FullMethodName, in, out, cOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vlfsServiceClient) RemoveFile(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, VLFSService_RemoveFile_FullMethodName, in, out, cOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vlfsServiceClient) ListFiles(ctx context.Context, in *wrapperspb.Int32Value, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, VLFSService_ListFiles_FullMethodName, in, out, cOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vlfsServiceClient) ReadFile(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	stream, err := c.cc.NewStream(ctx, &VLFSService_ServiceDesc.Streams[0], VLFSService_ReadFile_FullMethodName, cOpts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.UInt64Value, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *vlfsServiceClient) WriteFile(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[wrapperspb.BytesValue, wrapperspb.UInt64Value], error) {
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	stream, err := c.cc.NewStream(ctx, &VLFSService_ServiceDesc.Streams[1], VLFSService_WriteFile_FullMethodName, cOpts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[wrapperspb.BytesValue, wrapperspb.UInt64Value]{ClientStream: stream}, nil
}

func (c *vlfsServiceClient) Free(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, VLFSService_Free_FullMethodName, in, out, cOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

// VLFSServiceServer is the server API for VLFSService. Implementations must
// embed UnimplementedVLFSServiceServer.
type VLFSServiceServer interface {
	CreateFile(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.UInt64Value, error)
	RemoveFile(context.Context, *wrapperspb.UInt64Value) (*emptypb.Empty, error)
	ListFiles(context.Context, *wrapperspb.Int32Value) (*structpb.ListValue, error)
	ReadFile(*wrapperspb.UInt64Value, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	WriteFile(grpc.ClientStreamingServer[wrapperspb.BytesValue, wrapperspb.UInt64Value]) error
	Free(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	mustEmbedUnimplementedVLFSServiceServer()
}

// UnimplementedVLFSServiceServer answers every call with codes.Unimplemented.
type UnimplementedVLFSServiceServer struct{}

func (UnimplementedVLFSServiceServer) CreateFile(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.UInt64Value, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CreateFile not implemented")
}
func (UnimplementedVLFSServiceServer) RemoveFile(context.Context, *wrapperspb.UInt64Value) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method RemoveFile not implemented")
}
func (UnimplementedVLFSServiceServer) ListFiles(context.Context, *wrapperspb.Int32Value) (*structpb.ListValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListFiles not implemented")
}
func (UnimplementedVLFSServiceServer) ReadFile(*wrapperspb.UInt64Value, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	return status.Errorf(codes.Unimplemented, "method ReadFile not implemented")
}
func (UnimplementedVLFSServiceServer) WriteFile(grpc.ClientStreamingServer[wrapperspb.BytesValue, wrapperspb.UInt64Value]) error {
	return status.Errorf(codes.Unimplemented, "method WriteFile not implemented")
}
func (UnimplementedVLFSServiceServer) Free(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Free not implemented")
}
func (UnimplementedVLFSServiceServer) mustEmbedUnimplementedVLFSServiceServer() {}

// RegisterVLFSServiceServer registers srv with s.
func RegisterVLFSServiceServer(s grpc.ServiceRegistrar, srv VLFSServiceServer) {
	s.RegisterService(&VLFSService_ServiceDesc, srv)
}

func _VLFSService_CreateFile_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VLFSServiceServer).CreateFile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VLFSService_CreateFile_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VLFSServiceServer).CreateFile(ctx, req.(*wrapperspb.UInt32Value))
	}
	return interceptor(ctx, in, info, handler)
}

func _VLFSService_RemoveFile_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VLFSServiceServer).RemoveFile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VLFSService_RemoveFile_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VLFSServiceServer).RemoveFile(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func _VLFSService_ListFiles_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.Int32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VLFSServiceServer).ListFiles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VLFSService_ListFiles_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VLFSServiceServer).ListFiles(ctx, req.(*wrapperspb.Int32Value))
	}
	return interceptor(ctx, in, info, handler)
}

func _VLFSService_ReadFile_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(wrapperspb.UInt64Value)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(VLFSServiceServer).ReadFile(m, &grpc.GenericServerStream[wrapperspb.UInt64Value, wrapperspb.BytesValue]{ServerStream: stream})
}

func _VLFSService_WriteFile_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(VLFSServiceServer).WriteFile(&grpc.GenericServerStream[wrapperspb.BytesValue, wrapperspb.UInt64Value]{ServerStream: stream})
}

func _VLFSService_Free_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VLFSServiceServer).Free(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VLFSService_Free_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VLFSServiceServer).Free(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// VLFSService_ServiceDesc is the grpc.ServiceDesc for VLFSService.
var VLFSService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "vlfs.VLFSService",
	HandlerType: (*VLFSServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateFile", Handler: _VLFSService_CreateFile_Handler},
		{MethodName: "RemoveFile", Handler: _VLFSService_RemoveFile_Handler},
		{MethodName: "ListFiles", Handler: _VLFSService_ListFiles_Handler},
		{MethodName: "Free", Handler: _VLFSService_Free_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ReadFile",
			Handler:       _VLFSService_ReadFile_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "WriteFile",
			Handler:       _VLFSService_WriteFile_Handler,
			ClientStreams: true,
		},
	},
}
