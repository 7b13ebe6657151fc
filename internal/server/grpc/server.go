// Package grpc serves token introspection to other backend services.
package grpc

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server/auth"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TokenValidator is implemented by *auth.TokenIssuer.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*auth.Claims, error)
}

// ProfileReader is implemented by *services.AuthService.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*models.User, error)
}

type GRPCServer struct {
	address  string
	tokens   TokenValidator
	profiles ProfileReader
	logger   logging.Logger
	health   *health.Server
}

func NewGRPCServer(a string, l logging.Logger, tokens TokenValidator, profiles ProfileReader) *GRPCServer {
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		tokens:   tokens,
		profiles: profiles,
		health:   health.NewServer(),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.observeInterceptor, s.accessTokenInterceptor))
	RegisterTokenServiceServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *GRPCServer) Introspect(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}

	claims, err := s.tokens.ValidateAccessToken(ctx, req.GetValue())
	if errors.Is(err, common.ErrInvalidToken) {
		return structpb.NewStruct(map[string]any{"active": false})
	}
	if err != nil {
		s.logger.Error(ctx, "introspection failed", "error", err)
		return nil, status.Error(codes.Unavailable, "token check unavailable")
	}

	return structpb.NewStruct(map[string]any{
		"active":   true,
		"sub":      claims.Subject,
		"jti":      claims.ID,
		"identity": claims.Identity,
		"role":     claims.Role,
		"exp":      claims.ExpiresAt.Time.UTC().Format(time.RFC3339),
	})
}

func (s *GRPCServer) Profile(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	user, err := s.profiles.GetProfile(ctx, claims.Subject)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, status.Error(codes.NotFound, "user not found")
	}
	if err != nil {
		s.logger.Error(ctx, "profile lookup failed", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	return structpb.NewStruct(map[string]any{
		"id":              user.ID,
		"username":        user.Username,
		"email":           user.Email,
		"phoneNumber":     user.PhoneNumber,
		"authProvider":    user.Provider().String(),
		"isEmailVerified": user.IsEmailVerified,
		"isPhoneVerified": user.IsPhoneVerified,
		"isActive":        user.IsActive,
		"role":            user.Role,
	})
}
