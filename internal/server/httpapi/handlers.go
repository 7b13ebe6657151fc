package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/server/federation"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
	"github.com/dmitrijs2005/waterauth/internal/server/services"
	"github.com/gin-gonic/gin"
)

const oauthStateCookie = "oauth_state"

type registerUsernameRequest struct {
	Username        string `json:"username" binding:"required"`
	Email           string `json:"email" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type phoneRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
}

type verifyOtpRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Otp         string `json:"otp" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type verifyEmailRequest struct {
	Email string `json:"email" binding:"required"`
	Otp   string `json:"otp" binding:"required"`
}

type loginUsernameRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type userResponse struct {
	ID              string     `json:"id"`
	Username        string     `json:"username,omitempty"`
	Email           string     `json:"email,omitempty"`
	PhoneNumber     string     `json:"phoneNumber,omitempty"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	IsPhoneVerified bool       `json:"isPhoneVerified"`
	AuthProvider    string     `json:"authProvider"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
}

func newUserResponse(u *models.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		PhoneNumber:     u.PhoneNumber,
		IsEmailVerified: u.IsEmailVerified,
		IsPhoneVerified: u.IsPhoneVerified,
		AuthProvider:    u.Provider().String(),
		CreatedAt:       u.CreatedAt,
		LastLoginAt:     u.LastLoginAt,
	}
}

type tokenResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	ExpiresIn    int           `json:"expiresIn"`
	SessionID    string        `json:"sessionId"`
	User         *userResponse `json:"user,omitempty"`
}

func newTokenResponse(res *services.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
		SessionID:    res.SessionID,
		User:         newUserResponse(res.User),
	}
}

func otpSentResponse(d *services.OtpDispatch, msg string) gin.H {
	return gin.H{"message": msg, "expiresInMinutes": d.ExpiresInMinutes}
}

func clientInfo(c *gin.Context) services.ClientInfo {
	return services.ClientInfo{Device: c.Request.UserAgent(), IP: c.ClientIP()}
}

// bind decodes the JSON body and answers 400 itself on failure.
func bind[T any](c *gin.Context) (*T, bool) {
	var req T
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request: "+err.Error()))
		return nil, false
	}
	return &req, true
}

func (s *Server) registerWithUsername(c *gin.Context) {
	req, ok := bind[registerUsernameRequest](c)
	if !ok {
		return
	}
	_, err := s.auth.RegisterWithUsername(c.Request.Context(), services.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Registration successful. Please check your email for verification code."})
}

func (s *Server) registerWithPhone(c *gin.Context) {
	req, ok := bind[phoneRequest](c)
	if !ok {
		return
	}
	d, err := s.auth.RegisterWithPhone(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, otpSentResponse(d, "OTP sent to your phone number"))
}

func (s *Server) verifyPhoneOtp(c *gin.Context) {
	req, ok := bind[verifyOtpRequest](c)
	if !ok {
		return
	}
	res, err := s.auth.VerifyPhoneRegistration(c.Request.Context(), req.PhoneNumber, req.Otp, clientInfo(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(res))
}

func (s *Server) verifyEmail(c *gin.Context) {
	req, ok := bind[verifyEmailRequest](c)
	if !ok {
		return
	}
	if err := s.auth.VerifyEmail(c.Request.Context(), req.Email, req.Otp); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email verified successfully"})
}

func (s *Server) resendEmailVerification(c *gin.Context) {
	req, ok := bind[emailRequest](c)
	if !ok {
		return
	}
	d, err := s.auth.RequestEmailVerification(c.Request.Context(), req.Email)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, otpSentResponse(d, "Verification code sent to your email"))
}

func (s *Server) loginWithUsername(c *gin.Context) {
	req, ok := bind[loginUsernameRequest](c)
	if !ok {
		return
	}
	res, err := s.auth.LoginWithPassword(c.Request.Context(), req.Username, req.Password, clientInfo(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(res))
}

func (s *Server) loginWithPhone(c *gin.Context) {
	req, ok := bind[phoneRequest](c)
	if !ok {
		return
	}
	d, err := s.auth.RequestPhoneLogin(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, otpSentResponse(d, "OTP sent to your phone number"))
}

func (s *Server) verifyLoginOtp(c *gin.Context) {
	req, ok := bind[verifyOtpRequest](c)
	if !ok {
		return
	}
	res, err := s.auth.VerifyPhoneLogin(c.Request.Context(), req.PhoneNumber, req.Otp, clientInfo(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(res))
}

func (s *Server) refresh(c *gin.Context) {
	req, ok := bind[refreshRequest](c)
	if !ok {
		return
	}
	res, err := s.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(res))
}

func (s *Server) logout(c *gin.Context) {
	if err := s.auth.Logout(c.Request.Context(), c.GetString(ctxAccessToken)); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (s *Server) googleLogin(c *gin.Context) {
	state, err := federation.NewState()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, 600, "/api/auth", "", c.Request.TLS != nil, true)
	c.Redirect(http.StatusFound, s.google.AuthURL(state))
}

func (s *Server) googleCallback(c *gin.Context) {
	state, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(c.Query("state"))) != 1 {
		c.JSON(http.StatusBadRequest, errorBody("Google authentication failed"))
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/api/auth", "", c.Request.TLS != nil, true)

	info, err := s.google.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		s.logger.Warn(c.Request.Context(), "google exchange failed", "error", err)
		c.JSON(http.StatusBadRequest, errorBody("Google authentication failed"))
		return
	}

	res, err := s.auth.LoginWithFederated(c.Request.Context(), services.FederatedIdentity{Email: info.Email, Name: info.Name}, clientInfo(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(res))
}
