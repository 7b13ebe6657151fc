// Package httpapi exposes the authentication flows as a JSON API over gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server/auth"
	"github.com/dmitrijs2005/waterauth/internal/server/federation"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
	"github.com/dmitrijs2005/waterauth/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuthAPI is implemented by *services.AuthService.
type AuthAPI interface {
	LoginWithPassword(ctx context.Context, login, password string, client services.ClientInfo) (*services.AuthResult, error)
	RequestPhoneLogin(ctx context.Context, phone string) (*services.OtpDispatch, error)
	VerifyPhoneLogin(ctx context.Context, phone, code string, client services.ClientInfo) (*services.AuthResult, error)
	RegisterWithUsername(ctx context.Context, in services.RegisterInput) (*models.User, error)
	RequestEmailVerification(ctx context.Context, email string) (*services.OtpDispatch, error)
	VerifyEmail(ctx context.Context, email, code string) error
	RegisterWithPhone(ctx context.Context, phone string) (*services.OtpDispatch, error)
	VerifyPhoneRegistration(ctx context.Context, phone, code string, client services.ClientInfo) (*services.AuthResult, error)
	LoginWithFederated(ctx context.Context, identity services.FederatedIdentity, client services.ClientInfo) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResult, error)
	Logout(ctx context.Context, accessToken string) error
	SetUserActive(ctx context.Context, userID string, active bool) error
	GetProfile(ctx context.Context, userID string) (*models.User, error)
	ListSessions(ctx context.Context, userID, currentJTI string) ([]services.SessionView, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
}

// TokenValidator is implemented by *auth.TokenIssuer.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*auth.Claims, error)
}

// OAuthProvider is implemented by *federation.GoogleProvider.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*federation.UserInfo, error)
}

type Server struct {
	address string
	auth    AuthAPI
	tokens  TokenValidator
	google  OAuthProvider
	logger  logging.Logger
	engine  *gin.Engine
}

// NewServer builds the router. google may be nil, which leaves the Google
// sign-in routes out.
func NewServer(address string, a AuthAPI, tokens TokenValidator, google OAuthProvider, l logging.Logger) *Server {
	s := &Server{
		address: address,
		auth:    a,
		tokens:  tokens,
		google:  google,
		logger:  l.With("module", "http_server"),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.recovery(), s.requestLogger(), metricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a := r.Group("/api/auth")
	a.POST("/register/username", s.registerWithUsername)
	a.POST("/register/phone", s.registerWithPhone)
	a.POST("/verify-phone-otp", s.verifyPhoneOtp)
	a.POST("/verify-email", s.verifyEmail)
	a.POST("/resend-email-verification", s.resendEmailVerification)
	a.POST("/login/username", s.loginWithUsername)
	a.POST("/login/phone", s.loginWithPhone)
	a.POST("/verify-login-otp", s.verifyLoginOtp)
	a.POST("/refresh", s.refresh)
	a.POST("/logout", s.bearerAuth(), s.logout)
	if s.google != nil {
		a.GET("/google", s.googleLogin)
		a.GET("/google-callback", s.googleCallback)
	}

	d := r.Group("/api/dashboard", s.bearerAuth())
	d.GET("/profile", s.profile)
	d.GET("/sessions", s.listSessions)
	d.DELETE("/sessions/:id", s.revokeSession)

	adm := r.Group("/api/admin", s.bearerAuth(), requireRole(common.AdminRole))
	adm.PUT("/users/:id/status", s.setUserStatus)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown error", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
