package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type brokenValidator struct{}

func (brokenValidator) ValidateAccessToken(context.Context, string) (*auth.Claims, error) {
	return nil, errors.New("redis down")
}

// helper to build server
func newTestServer(tokens TokenValidator) *GRPCServer {
	return NewGRPCServer("", logging.NewNopLogger(), tokens, fakeProfiles{})
}

func withToken(token string) context.Context {
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: token})
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestInterceptor_PublicMethod_AllowsWithoutToken(t *testing.T) {
	s := newTestServer(newTestIssuer())

	info := &grpc.UnaryServerInfo{FullMethod: IntrospectMethod}
	handlerCalled := false

	h := func(ctx context.Context, req any) (any, error) {
		handlerCalled = true
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Fatal("handler was not called")
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
}

func TestInterceptor_MissingToken(t *testing.T) {
	s := newTestServer(newTestIssuer())
	info := &grpc.UnaryServerInfo{FullMethod: ProfileMethod}

	h := func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called when token missing")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
	if status.Convert(err).Message() != "missing token" {
		t.Fatalf("expected 'missing token', got %q", status.Convert(err).Message())
	}
}

func TestInterceptor_InvalidToken(t *testing.T) {
	s := newTestServer(newTestIssuer())
	info := &grpc.UnaryServerInfo{FullMethod: ProfileMethod}

	h := func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called for invalid token")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(withToken("not-a-valid-jwt"), nil, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
}

func TestInterceptor_ValidatorFailure(t *testing.T) {
	s := newTestServer(brokenValidator{})
	info := &grpc.UnaryServerInfo{FullMethod: ProfileMethod}

	_, err := s.accessTokenInterceptor(withToken("x"), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, nil
	})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", status.Code(err))
	}
}

func TestInterceptor_ValidToken_SetsClaims(t *testing.T) {
	issuer := newTestIssuer()
	s := newTestServer(issuer)

	tok, err := issuer.IssueAccessToken("user-123", "a@b.co", "Customer")
	if err != nil {
		t.Fatalf("IssueAccessToken error: %v", err)
	}

	info := &grpc.UnaryServerInfo{FullMethod: ProfileMethod}

	var got *auth.Claims
	h := func(ctx context.Context, req any) (any, error) {
		got, _ = ctx.Value(claimsKey).(*auth.Claims)
		return "ok", nil
	}

	if _, err := s.accessTokenInterceptor(withToken(tok.Token), nil, info, h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Subject != "user-123" {
		t.Fatalf("claims not propagated in context: got %+v", got)
	}
}

func TestObserveInterceptor_RecoversPanic(t *testing.T) {
	s := newTestServer(newTestIssuer())
	info := &grpc.UnaryServerInfo{FullMethod: IntrospectMethod}

	_, err := s.observeInterceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", status.Code(err))
	}
}
