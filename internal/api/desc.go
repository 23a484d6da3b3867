// Package api exposes the conversation store and its mutations to UI clients
// over gRPC. Messages are google.protobuf.Struct values; the service
// descriptor is declared by hand instead of generated.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "canteiro.v1.Conversations"

// Method names.
const (
	MethodList       = "List"
	MethodGet        = "Get"
	MethodSend       = "Send"
	MethodResend     = "Resend"
	MethodDiscard    = "Discard"
	MethodDelete     = "Delete"
	MethodMarkRead   = "MarkRead"
	MethodSetFocused = "SetFocused"
	MethodRefresh    = "Refresh"
	MethodGetStatus  = "GetStatus"
	MethodListOutbox = "ListOutbox"
	MethodLogout     = "Logout"
	StreamWatch      = "Watch"
	StreamStartAuth  = "StartAuth"
)

// ConversationsServer is the server side of the service.
type ConversationsServer interface {
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resend(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Discard(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetFocused(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOutbox(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
	StartAuth(*structpb.Struct, grpc.ServerStream) error
}

type unaryFunc func(ConversationsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ConversationsServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

type streamFunc func(ConversationsServer, *structpb.Struct, grpc.ServerStream) error

func serverStream(name string, fn streamFunc) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName: name,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return fn(srv.(ConversationsServer), in, stream)
		},
		ServerStreams: true,
	}
}

// ServiceDesc describes the service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodList, ConversationsServer.List),
		unary(MethodGet, ConversationsServer.Get),
		unary(MethodSend, ConversationsServer.Send),
		unary(MethodResend, ConversationsServer.Resend),
		unary(MethodDiscard, ConversationsServer.Discard),
		unary(MethodDelete, ConversationsServer.Delete),
		unary(MethodMarkRead, ConversationsServer.MarkRead),
		unary(MethodSetFocused, ConversationsServer.SetFocused),
		unary(MethodRefresh, ConversationsServer.Refresh),
		unary(MethodGetStatus, ConversationsServer.GetStatus),
		unary(MethodListOutbox, ConversationsServer.ListOutbox),
		unary(MethodLogout, ConversationsServer.Logout),
	},
	Streams: []grpc.StreamDesc{
		serverStream(StreamWatch, ConversationsServer.Watch),
		serverStream(StreamStartAuth, ConversationsServer.StartAuth),
	},
	Metadata: "canteiro/v1/conversations.proto",
}

// Register adds the service to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv ConversationsServer) {
	s.RegisterService(&ServiceDesc, srv)
}
