package grpc

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"
)

type staticSource struct {
	token string
	err   error
}

func (s staticSource) AccessToken(ctx context.Context) (string, error) {
	return s.token, s.err
}

func TestTokenCredentialsMetadata(t *testing.T) {
	creds := NewTokenCredentials(staticSource{token: "tok-123"})

	md, err := creds.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if got := md[authorizationKey]; got != "Bearer tok-123" {
		t.Errorf("authorization = %q, want Bearer tok-123", got)
	}
	if !creds.RequireTransportSecurity() {
		t.Error("transport security must be required by default")
	}
}

func TestTokenCredentialsWithoutSession(t *testing.T) {
	creds := NewTokenCredentials(staticSource{})

	md, err := creds.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if len(md) != 0 {
		t.Errorf("metadata = %v, want none when nothing is signed in", md)
	}
}

func TestWithTokenRoundTrip(t *testing.T) {
	ctx := WithToken(context.Background(), "abc")

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("no outgoing metadata")
	}
	if got := md.Get(authorizationKey); len(got) != 1 || got[0] != "Bearer abc" {
		t.Fatalf("outgoing authorization = %v", got)
	}

	// Replayed as incoming metadata on the server side.
	incoming := metadata.NewIncomingContext(context.Background(), md)
	token, ok := TokenFromIncomingContext(incoming)
	if !ok || token != "abc" {
		t.Errorf("TokenFromIncomingContext = %q, %v", token, ok)
	}
}

func TestTokenFromIncomingContextRejectsMalformed(t *testing.T) {
	md := metadata.Pairs(authorizationKey, "Basic dXNlcg==")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	if _, ok := TokenFromIncomingContext(ctx); ok {
		t.Error("non-bearer authorization must not be returned")
	}
}
