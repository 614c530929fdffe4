package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/anyauthdev/anyauth"
)

// UnaryClientInterceptor injects the current access token into every
// unary call. Use it instead of TokenCredentials when the connection is
// shared with calls that must stay anonymous, or when dial options are
// out of reach.
func UnaryClientInterceptor(src anyauth.TokenSource) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx, err := withSourceToken(ctx, src)
		if err != nil {
			return err
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor injects the current access token into every
// new stream.
func StreamClientInterceptor(src anyauth.TokenSource) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx, err := withSourceToken(ctx, src)
		if err != nil {
			return nil, err
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}

func withSourceToken(ctx context.Context, src anyauth.TokenSource) (context.Context, error) {
	if src == nil {
		return ctx, nil
	}
	token, err := src.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return WithToken(ctx, token), nil
}
