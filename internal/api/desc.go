package api

import (
	"context"

	"google.golang.org/grpc"
)

// Service names.
const (
	PresenceServiceName = "parley.v1.Presence"
	ChatServiceName     = "parley.v1.Chat"
	VoiceServiceName    = "parley.v1.Voice"
	AdminServiceName    = "parley.v1.Admin"
)

// Method returns the full gRPC method name.
func Method(service, method string) string {
	return "/" + service + "/" + method
}

func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := Method(service, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

// Empty is the request or response of calls that carry nothing.
type Empty struct{}
