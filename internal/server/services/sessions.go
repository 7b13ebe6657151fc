package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server/auth"
	"github.com/dmitrijs2005/waterauth/internal/server/metrics"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// TokenIssuer is the part of auth.TokenIssuer the services depend on.
type TokenIssuer interface {
	AccessTokenTTL() time.Duration
	IssueAccessToken(userID, identity, role string) (*auth.AccessToken, error)
	ValidateAccessToken(ctx context.Context, token string) (*auth.Claims, error)
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
}

// ClientInfo describes the device a session is opened from.
type ClientInfo struct {
	Device string
	IP     string
}

// truncate keeps at most n runes of s, dropping invalid UTF-8 first.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for range n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}

// AuthResult is what a successful sign-in hands back to the client.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int
	TokenID   string
	SessionID string
	User      *models.User
}

// SessionView is a session as shown to its owner.
type SessionView struct {
	models.LoginSession
	IsCurrent bool
}

// SessionService ties access tokens, refresh tokens and login sessions
// together. A session lives as long as its first refresh token; refreshing
// moves the session to a new access token without extending it.
type SessionService struct {
	repomanager repomanager.RepositoryManager
	tx          dbx.Transactor
	tokens      TokenIssuer
	refreshTTL  time.Duration
	logger      logging.Logger
	now         func() time.Time
}

func NewSessionService(tx dbx.Transactor, m repomanager.RepositoryManager, tokens TokenIssuer, refreshTTL time.Duration, logger logging.Logger) *SessionService {
	return &SessionService{
		repomanager: m,
		tx:          tx,
		tokens:      tokens,
		refreshTTL:  refreshTTL,
		logger:      logger.With("module", "sessions"),
		now:         time.Now,
	}
}

// Record opens a session for user on db, which is usually the caller's
// transaction: it signs an access token, stores a refresh token and a
// session keyed by the token's jti.
func (s *SessionService) Record(ctx context.Context, db dbx.DBTX, user *models.User, client ClientInfo) (*AuthResult, error) {
	now := s.now()

	access, err := s.tokens.IssueAccessToken(user.ID, user.Identity(), user.Role)
	if err != nil {
		return nil, fmt.Errorf("error issuing access token: %w", err)
	}

	session := &models.LoginSession{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		JwtTokenID:     access.ID,
		TokenExpiresAt: access.ExpiresAt,
		DeviceInfo:     truncate(client.Device, models.MaxDeviceInfoLength),
		IpAddress:      truncate(client.IP, models.MaxIpAddressLength),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.refreshTTL),
		IsActive:       true,
	}
	if err := s.repomanager.Sessions(db).Create(ctx, session); err != nil {
		return nil, fmt.Errorf("error recording session: %w", err)
	}

	refresh, err := s.storeRefreshToken(ctx, db, user.ID, session.ID, session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return s.result(user, session.ID, access, refresh), nil
}

func (s *SessionService) storeRefreshToken(ctx context.Context, db dbx.DBTX, userID, sessionID string, expiresAt time.Time) (string, error) {
	token, err := auth.IssueRefreshToken()
	if err != nil {
		return "", fmt.Errorf("error issuing refresh token: %w", err)
	}
	rt := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		TokenHash: auth.HashRefreshToken(token),
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	}
	if err := s.repomanager.RefreshTokens(db).Create(ctx, rt); err != nil {
		return "", fmt.Errorf("error storing refresh token: %w", err)
	}
	return token, nil
}

func (s *SessionService) result(user *models.User, sessionID string, access *auth.AccessToken, refresh string) *AuthResult {
	return &AuthResult{
		AccessToken:  access.Token,
		RefreshToken: refresh,
		ExpiresIn:    int(s.tokens.AccessTokenTTL() / time.Second),
		TokenID:      access.ID,
		SessionID:    sessionID,
		User:         user,
	}
}

// Rotate exchanges a refresh token for a new token pair on the same session.
// A refresh token can be used once; presenting a revoked one is treated as
// theft and ends the whole session.
func (s *SessionService) Rotate(ctx context.Context, refreshToken string) (*AuthResult, error) {
	var (
		result   *AuthResult
		previous *models.LoginSession
		reused   bool
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		now := s.now()
		refreshRepo := s.repomanager.RefreshTokens(tx)
		sessionRepo := s.repomanager.Sessions(tx)

		rt, err := refreshRepo.FindByHash(ctx, auth.HashRefreshToken(refreshToken))
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidToken
		}
		if err != nil {
			return err
		}

		session, err := sessionRepo.GetByID(ctx, rt.SessionID)
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidToken
		}
		if err != nil {
			return err
		}

		endSession := func() error {
			reused = true
			previous = session
			if err := sessionRepo.Deactivate(ctx, session.ID); err != nil {
				return err
			}
			_, err := refreshRepo.RevokeBySession(ctx, session.ID)
			return err
		}

		if rt.IsRevoked {
			return endSession()
		}
		if rt.IsExpired(now) {
			return common.ErrRefreshTokenExpired
		}
		if !session.IsActive || session.IsExpired(now) {
			return common.ErrInvalidToken
		}

		user, err := s.repomanager.Users(tx).GetByID(ctx, rt.UserID)
		if err != nil {
			return err
		}
		if !user.IsActive {
			return common.ErrAccountInactive
		}

		revoked, err := refreshRepo.Revoke(ctx, rt.ID)
		if err != nil {
			return err
		}
		// a concurrent rotation revoked it first
		if !revoked {
			return endSession()
		}

		access, err := s.tokens.IssueAccessToken(user.ID, user.Identity(), user.Role)
		if err != nil {
			return fmt.Errorf("error issuing access token: %w", err)
		}
		refresh, err := s.storeRefreshToken(ctx, tx, user.ID, session.ID, session.ExpiresAt)
		if err != nil {
			return err
		}
		if err := sessionRepo.UpdateToken(ctx, session.ID, access.ID, access.ExpiresAt); err != nil {
			return err
		}

		previous = session
		result = s.result(user, session.ID, access, refresh)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// the session no longer points at the old access token
	if _, err := s.tokens.RevokeToken(ctx, previous.JwtTokenID, previous.TokenExpiresAt); err != nil {
		s.logger.Warn(ctx, "failed to revoke previous access token", "session_id", previous.ID, "error", err)
	}

	if reused {
		metrics.SessionsRevokedTotal.Inc()
		s.logger.Warn(ctx, "refresh token reuse detected", "session_id", previous.ID, "user_id", previous.UserID)
		return nil, common.ErrInvalidToken
	}
	return result, nil
}

// ListActive returns the user's active sessions, newest first, marking the
// one whose current access token is currentJTI.
func (s *SessionService) ListActive(ctx context.Context, userID, currentJTI string) ([]SessionView, error) {
	list, err := s.repomanager.Sessions(s.tx.Conn()).ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	views := make([]SessionView, 0, len(list))
	for _, ls := range list {
		views = append(views, SessionView{
			LoginSession: ls,
			IsCurrent:    currentJTI != "" && ls.JwtTokenID == currentJTI,
		})
	}
	return views, nil
}

// Revoke ends a session of userID: it is deactivated, its refresh tokens are
// revoked and its current access token is deny-listed. Sessions of other
// users are reported as common.ErrorNotFound.
func (s *SessionService) Revoke(ctx context.Context, userID, sessionID string) error {
	return s.revoke(ctx, func(ctx context.Context, tx dbx.DBTX) (*models.LoginSession, error) {
		session, err := s.repomanager.Sessions(tx).GetByID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session.UserID != userID {
			return nil, common.ErrorNotFound
		}
		return session, nil
	})
}

// RevokeByTokenID ends the session whose current access token is jti.
func (s *SessionService) RevokeByTokenID(ctx context.Context, jti string) error {
	return s.revoke(ctx, func(ctx context.Context, tx dbx.DBTX) (*models.LoginSession, error) {
		return s.repomanager.Sessions(tx).GetByTokenID(ctx, jti)
	})
}

// RevokeAll ends every active session of userID and returns how many there
// were.
func (s *SessionService) RevokeAll(ctx context.Context, userID string) (int, error) {
	list, err := s.repomanager.Sessions(s.tx.Conn()).ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	for _, ls := range list {
		if err := s.Revoke(ctx, userID, ls.ID); err != nil {
			return 0, err
		}
	}
	return len(list), nil
}

func (s *SessionService) revoke(ctx context.Context, find func(ctx context.Context, tx dbx.DBTX) (*models.LoginSession, error)) error {
	var session *models.LoginSession

	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		session, err = find(ctx, tx)
		if err != nil {
			return err
		}
		if err := s.repomanager.Sessions(tx).Deactivate(ctx, session.ID); err != nil {
			return err
		}
		_, err = s.repomanager.RefreshTokens(tx).RevokeBySession(ctx, session.ID)
		return err
	})
	if err != nil {
		return err
	}

	if _, err := s.tokens.RevokeToken(ctx, session.JwtTokenID, session.TokenExpiresAt); err != nil {
		return fmt.Errorf("session %s deactivated but token not revoked: %w", session.ID, err)
	}

	metrics.SessionsRevokedTotal.Inc()
	s.logger.Info(ctx, "session revoked", "session_id", session.ID, "user_id", session.UserID)
	return nil
}
