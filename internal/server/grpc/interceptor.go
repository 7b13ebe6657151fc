package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/server/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// methods that act on behalf of the caller's access token
var authenticatedMethods = map[string]bool{
	ProfileMethod: true,
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !authenticatedMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	claims, err := s.tokens.ValidateAccessToken(ctx, accessToken)
	if errors.Is(err, common.ErrInvalidToken) {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	if err != nil {
		return nil, status.Error(codes.Unavailable, "token check unavailable")
	}

	return handler(context.WithValue(ctx, claimsKey, claims), req)
}

// observeInterceptor counts calls, logs failures and turns panics into
// codes.Internal.
func (s *GRPCServer) observeInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "panic in gRPC handler", "method", info.FullMethod, "panic", r)
			resp, err = nil, status.Error(codes.Internal, "internal error")
		}

		code := status.Code(err)
		metrics.GRPCRequestsTotal.WithLabelValues(info.FullMethod, code.String()).Inc()
		if err != nil {
			s.logger.Warn(ctx, "gRPC call failed", "method", info.FullMethod, "code", code.String())
		}
	}()

	return handler(ctx, req)
}
