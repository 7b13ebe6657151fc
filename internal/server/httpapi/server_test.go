package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server/auth"
	"github.com/dmitrijs2005/waterauth/internal/server/federation"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/waterauth/internal/server/revocation"
	"github.com/dmitrijs2005/waterauth/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPhone    = "+841234567890"
	testPassword = "Abcdef1!"
)

// --- helpers ---

type codeBox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBox) put(to, code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[to] = code
}

func (b *codeBox) get(to string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[to]
}

func (b *codeBox) SendOtp(_ context.Context, phone, code string) error {
	b.put(phone, code)
	return nil
}

func (b *codeBox) SendVerificationEmail(_ context.Context, email, code string) error {
	b.put(email, code)
	return nil
}

type fakeGoogle struct {
	info *federation.UserInfo
	err  error
}

func (g *fakeGoogle) AuthURL(state string) string {
	return "https://accounts.example/auth?state=" + state
}

func (g *fakeGoogle) Exchange(context.Context, string) (*federation.UserInfo, error) {
	return g.info, g.err
}

type testAPI struct {
	srv    *Server
	issuer *auth.TokenIssuer
	codes  *codeBox
	google *fakeGoogle
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewNopLogger()
	store := memory.NewStore()
	issuer := auth.NewTokenIssuer("test-secret", "iss", "aud", 30*time.Minute, revocation.NewMemoryDenylist())
	codes := &codeBox{codes: map[string]string{}}
	otps := services.NewOtpService(store, store, logger)
	sessions := services.NewSessionService(store, store, issuer, 7*24*time.Hour, logger)

	authSvc := services.NewAuthService(services.AuthDeps{
		Transactor:   store,
		Repositories: store,
		Hasher:       auth.NewPasswordHasher(),
		Tokens:       issuer,
		Otps:         otps,
		Sessions:     sessions,
		Sms:          codes,
		Email:        codes,
		Logger:       logger,
	})

	google := &fakeGoogle{info: &federation.UserInfo{ID: "g1", Email: "g@example.com", Name: "G"}}
	return &testAPI{
		srv:    NewServer(":0", authSvc, issuer, google, logger),
		issuer: issuer,
		codes:  codes,
		google: google,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) registerPhone(t *testing.T) tokenResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/register/phone", gin.H{"phoneNumber": testPhone}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/auth/verify-phone-otp", gin.H{"phoneNumber": testPhone, "otp": a.codes.get(testPhone)}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[tokenResponse](t, rec)
}

// --- tests ---

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	a.do(t, http.MethodGet, "/healthz", nil, "")
	rec = a.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "waterauth_http_requests_total")
}

func TestRequestIDAndScopedLogging(t *testing.T) {
	a := newTestAPI(t)
	var logs bytes.Buffer
	a.srv.logger = logging.New(logging.EnvLocal, &logs)

	rec := a.do(t, http.MethodGet, "/healthz", nil, "")
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err, "a request id is generated when none is sent")

	tokens := a.registerPhone(t)
	logs.Reset()

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/profile", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, logs.String(), "request_id=req-42")
	assert.Contains(t, logs.String(), "user_id=")
}

func TestPhoneRegistrationFlow(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/auth/register/phone", gin.H{"phoneNumber": testPhone}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 3, body["expiresInMinutes"])

	rec = a.do(t, http.MethodPost, "/api/auth/register/phone", gin.H{"phoneNumber": testPhone}, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = a.do(t, http.MethodPost, "/api/auth/verify-phone-otp", gin.H{"phoneNumber": testPhone, "otp": "000000x"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/auth/verify-phone-otp", gin.H{"phoneNumber": testPhone, "otp": a.codes.get(testPhone)}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tokens := decode[tokenResponse](t, rec)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, 1800, tokens.ExpiresIn)
	require.NotNil(t, tokens.User)
	assert.Equal(t, "phone", tokens.User.AuthProvider)

	rec = a.do(t, http.MethodGet, "/api/dashboard/sessions", nil, tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode[[]sessionResponse](t, rec)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].IsCurrent)
	assert.Equal(t, "test-agent", sessions[0].DeviceInfo)
}

func TestUsernameRegistrationAndLogin(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/auth/register/username", gin.H{
		"username": "bob", "email": "bob@example.com", "password": "weak", "confirmPassword": "weak",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	reg := gin.H{"username": "bob", "email": "bob@example.com", "password": testPassword, "confirmPassword": testPassword}
	rec = a.do(t, http.MethodPost, "/api/auth/register/username", reg, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/auth/register/username", reg, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/auth/verify-email", gin.H{"email": "bob@example.com", "otp": a.codes.get("bob@example.com")}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/auth/login/username", gin.H{"username": "bob", "password": "Wrong1!x"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/auth/login/username", gin.H{"username": "bob", "password": testPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	tokens := decode[tokenResponse](t, rec)

	rec = a.do(t, http.MethodGet, "/api/dashboard/profile", nil, tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[userResponse](t, rec)
	assert.Equal(t, "bob", profile.Username)
	assert.True(t, profile.IsEmailVerified)
	assert.NotNil(t, profile.LastLoginAt)
}

func TestRefreshLogoutAndRevoke(t *testing.T) {
	a := newTestAPI(t)
	first := a.registerPhone(t)

	rec := a.do(t, http.MethodPost, "/api/auth/refresh", gin.H{"refreshToken": first.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[tokenResponse](t, rec)
	assert.Equal(t, first.SessionID, second.SessionID)

	rec = a.do(t, http.MethodGet, "/api/dashboard/profile", nil, first.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "rotated access token is revoked")

	rec = a.do(t, http.MethodPost, "/api/auth/logout", nil, second.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/dashboard/sessions", nil, second.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/auth/refresh", gin.H{"refreshToken": second.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRevokeSessionEndpoint(t *testing.T) {
	a := newTestAPI(t)
	tokens := a.registerPhone(t)

	rec := a.do(t, http.MethodDelete, "/api/dashboard/sessions/not-a-uuid", nil, tokens.AccessToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/dashboard/sessions/"+uuid.NewString(), nil, tokens.AccessToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/dashboard/sessions/"+tokens.SessionID, nil, tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/dashboard/profile", nil, tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/dashboard/profile", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/dashboard/profile", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid token")
}

func TestAdminStatus(t *testing.T) {
	a := newTestAPI(t)
	user := a.registerPhone(t)

	admin, err := a.issuer.IssueAccessToken("admin", "admin@example.com", common.AdminRole)
	require.NoError(t, err)

	path := "/api/admin/users/" + user.User.ID + "/status"

	rec := a.do(t, http.MethodPut, path, gin.H{"isActive": false}, user.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPut, path, gin.H{}, admin.Token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPut, path, gin.H{"isActive": false}, admin.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/dashboard/profile", nil, user.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "deactivation revokes sessions")

	rec = a.do(t, http.MethodPost, "/api/auth/login/phone", gin.H{"phoneNumber": testPhone}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodPost, "/api/auth/verify-login-otp", gin.H{"phoneNumber": testPhone, "otp": a.codes.get(testPhone)}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "deactivated")
}

func TestGoogleFlow(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/auth/google", nil, "")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == oauthStateCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	callback := func(state string, withCookie bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/google-callback?code=c&state="+state, nil)
		if withCookie {
			req.AddCookie(cookie)
		}
		rec := httptest.NewRecorder()
		a.srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, callback(state, false).Code)
	assert.Equal(t, http.StatusBadRequest, callback("forged", true).Code)

	rec = callback(state, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tokens := decode[tokenResponse](t, rec)
	assert.Equal(t, "google", tokens.User.AuthProvider)
	assert.Equal(t, "g@example.com", tokens.User.Email)

	a.google.err = errors.New("exchange failed")
	rec = callback(state, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{logger: logging.NewNopLogger()}

	tests := []struct {
		err  error
		code int
	}{
		{&common.RateLimitError{RetryAfter: 42 * time.Second}, http.StatusTooManyRequests},
		{common.NewValidationError("bad"), http.StatusBadRequest},
		{common.ErrorAlreadyExists, http.StatusConflict},
		{common.ErrInvalidOTP, http.StatusUnauthorized},
		{common.ErrAccountInactive, http.StatusUnauthorized},
		{common.ErrRefreshTokenExpired, http.StatusUnauthorized},
		{common.ErrInvalidToken, http.StatusUnauthorized},
		{common.ErrorUnauthorized, http.StatusUnauthorized},
		{common.ErrorNotFound, http.StatusNotFound},
		{common.ErrDeliveryFailed, http.StatusBadGateway},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			s.writeError(c, tt.err)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusTooManyRequests {
				assert.Equal(t, "42", rec.Header().Get("Retry-After"))
			}
			if tt.code == http.StatusInternalServerError {
				assert.False(t, strings.Contains(rec.Body.String(), "db down"))
			}
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestAPI(t)
	a.srv.address = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
