// Package grpc attaches the manager's access token to outgoing gRPC
// calls, either as per-RPC credentials on the connection or through
// client interceptors.
package grpc

import (
	"context"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"github.com/anyauthdev/anyauth"
)

const authorizationKey = "authorization"

// TokenCredentials implements credentials.PerRPCCredentials on top of a
// token source, usually the *anyauth.Manager. Each RPC fetches the token
// fresh, so scheduled refreshes are picked up without reconnecting.
type TokenCredentials struct {
	Source anyauth.TokenSource

	// AllowInsecure permits sending the token over connections without
	// transport security. Leave false outside tests.
	AllowInsecure bool
}

var _ credentials.PerRPCCredentials = (*TokenCredentials)(nil)

// NewTokenCredentials builds per-RPC credentials drawing tokens from src.
// Wire it with grpc.WithPerRPCCredentials.
func NewTokenCredentials(src anyauth.TokenSource) *TokenCredentials {
	return &TokenCredentials{Source: src}
}

func (c *TokenCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	if c.Source == nil {
		return nil, nil
	}
	token, err := c.Source.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}
	return map[string]string{authorizationKey: "Bearer " + token}, nil
}

func (c *TokenCredentials) RequireTransportSecurity() bool {
	return !c.AllowInsecure
}

// WithToken returns a child context whose outgoing metadata carries the
// bearer token. Useful for one-off calls on a shared connection.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, authorizationKey, "Bearer "+token)
}

// TokenFromIncomingContext reads the bearer token a client attached, for
// servers that terminate these calls.
func TokenFromIncomingContext(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get(authorizationKey)
	if len(values) == 0 {
		return "", false
	}
	const prefix = "Bearer "
	v := values[0]
	if len(v) <= len(prefix) || v[:len(prefix)] != prefix {
		return "", false
	}
	return v[len(prefix):], true
}
