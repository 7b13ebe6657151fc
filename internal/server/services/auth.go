// Package services contains the server-side business logic: one-time codes,
// login sessions and the sign-in and registration flows built on them.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server/auth"
	"github.com/dmitrijs2005/waterauth/internal/server/events"
	"github.com/dmitrijs2005/waterauth/internal/server/metrics"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
	"github.com/dmitrijs2005/waterauth/internal/server/notify"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	methodPassword = "password"
	methodPhone    = "phone"
	methodGoogle   = "google"
	methodUsername = "username"
)

// PasswordHasher is satisfied by *auth.PasswordHasher.
type PasswordHasher interface {
	GenerateSalt() (string, error)
	HashPassword(password, salt string) (string, error)
	VerifyPassword(password, hash, salt string) bool
}

// RegisterInput is the username registration form.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// FederatedIdentity is an identity vouched for by an external provider.
type FederatedIdentity struct {
	Email string
	Name  string
}

// OtpDispatch acknowledges that a code was sent.
type OtpDispatch struct {
	ExpiresInMinutes int
}

// AuthDeps lists the collaborators of AuthService.
type AuthDeps struct {
	Transactor   dbx.Transactor
	Repositories repomanager.RepositoryManager
	Hasher       PasswordHasher
	Tokens       TokenIssuer
	Otps         *OtpService
	Sessions     *SessionService
	Sms          notify.SmsSender
	Email        notify.EmailSender
	Events       events.Publisher
	Logger       logging.Logger
}

// AuthService runs the sign-in and registration flows. Rule violations are
// returned as the sentinels of internal/common; store and signing failures
// are wrapped and returned as they are.
type AuthService struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	hasher      PasswordHasher
	tokens      TokenIssuer
	otps        *OtpService
	sessions    *SessionService
	sms         notify.SmsSender
	email       notify.EmailSender
	events      events.Publisher
	logger      logging.Logger
	now         func() time.Time
}

func NewAuthService(d AuthDeps) *AuthService {
	pub := d.Events
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	return &AuthService{
		tx:          d.Transactor,
		repomanager: d.Repositories,
		hasher:      d.Hasher,
		tokens:      d.Tokens,
		otps:        d.Otps,
		sessions:    d.Sessions,
		sms:         d.Sms,
		email:       d.Email,
		events:      pub,
		logger:      d.Logger.With("module", "auth"),
		now:         time.Now,
	}
}

// LoginWithPassword signs in by username or email. Unknown logins, accounts
// without a password and wrong passwords all yield common.ErrorUnauthorized.
func (s *AuthService) LoginWithPassword(ctx context.Context, login, password string, client ClientInfo) (res *AuthResult, err error) {
	defer func() { metrics.LoginAttemptsTotal.WithLabelValues(methodPassword, metrics.Status(err)).Inc() }()

	user, err := s.repomanager.Users(s.tx.Conn()).GetByLogin(ctx, login)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("error looking up user: %w", err)
	}

	cred, ok := user.Password()
	if !ok || !s.hasher.VerifyPassword(password, cred.Hash, cred.Salt) {
		return nil, common.ErrorUnauthorized
	}
	if !user.IsActive {
		return nil, common.ErrAccountInactive
	}

	return s.signIn(ctx, user, client, methodPassword)
}

// RequestPhoneLogin texts a login code to a registered phone number.
func (s *AuthService) RequestPhoneLogin(ctx context.Context, phone string) (*OtpDispatch, error) {
	user, err := s.repomanager.Users(s.tx.Conn()).GetByPhone(ctx, phone)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("phone number not registered: %w", common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error looking up user: %w", err)
	}
	return s.sendSmsCode(ctx, phone, models.OtpPurposeLogin, user.ID)
}

// VerifyPhoneLogin redeems a login code and signs the owner of phone in.
func (s *AuthService) VerifyPhoneLogin(ctx context.Context, phone, code string, client ClientInfo) (res *AuthResult, err error) {
	defer func() { metrics.LoginAttemptsTotal.WithLabelValues(methodPhone, metrics.Status(err)).Inc() }()

	if err := s.redeem(ctx, phone, models.OtpPurposeLogin, code); err != nil {
		return nil, err
	}

	user, err := s.repomanager.Users(s.tx.Conn()).GetByPhone(ctx, phone)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("error looking up user: %w", err)
	}
	if !user.IsActive {
		return nil, common.ErrAccountInactive
	}

	return s.signIn(ctx, user, client, methodPhone)
}

// RegisterWithUsername creates a password account and mails an email
// verification code. No tokens are issued; a failed mail delivery is only
// logged since the account already exists.
func (s *AuthService) RegisterWithUsername(ctx context.Context, in RegisterInput) (user *models.User, err error) {
	defer func() { metrics.RegistrationAttemptsTotal.WithLabelValues(methodUsername, metrics.Status(err)).Inc() }()

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" {
		return nil, common.NewValidationError("username is required")
	}
	if kind, err := classifyTarget(in.Email); err != nil || kind != targetEmail {
		return nil, common.NewValidationError("email is invalid")
	}
	if !auth.IsValidPassword(in.Password) {
		return nil, common.NewValidationError("password must be at least 8 characters with uppercase, lowercase, number and symbol")
	}
	if in.Password != in.ConfirmPassword {
		return nil, common.NewValidationError("passwords do not match")
	}

	users := s.repomanager.Users(s.tx.Conn())
	exists, err := users.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return nil, fmt.Errorf("error checking user: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("username or email already exists: %w", common.ErrorAlreadyExists)
	}

	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("error generating salt: %w", err)
	}
	hash, err := s.hasher.HashPassword(in.Password, salt)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	now := s.now()
	user = &models.User{
		ID:         uuid.NewString(),
		Username:   in.Username,
		Email:      in.Email,
		Credential: models.PasswordCredential{Hash: hash, Salt: salt},
		IsActive:   true,
		Role:       common.DefaultRole,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	// the account exists from here on; a missing code can be requested again
	code, err := s.otps.Generate(ctx, user.Email, models.OtpPurposeEmailVerification, user.ID)
	if err != nil {
		s.logger.Warn(ctx, "failed to issue verification code", "user_id", user.ID, "error", err)
	} else if err := s.email.SendVerificationEmail(ctx, user.Email, code); err != nil {
		s.logger.Warn(ctx, "failed to send verification email", "user_id", user.ID, "error", err)
	}

	s.publish(ctx, events.TypeUserRegistered, user.ID, map[string]string{"provider": user.Provider().String()})
	return user, nil
}

// RequestEmailVerification mails a fresh verification code to an account
// whose email is not verified yet.
func (s *AuthService) RequestEmailVerification(ctx context.Context, email string) (*OtpDispatch, error) {
	user, err := s.repomanager.Users(s.tx.Conn()).GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("error looking up user: %w", err)
	}
	if user.IsEmailVerified {
		return nil, common.NewValidationError("email is already verified")
	}

	code, err := s.otps.Generate(ctx, email, models.OtpPurposeEmailVerification, user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.email.SendVerificationEmail(ctx, email, code); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDeliveryFailed, err)
	}
	return &OtpDispatch{ExpiresInMinutes: int(OtpExpiry / time.Minute)}, nil
}

// VerifyEmail redeems an email verification code.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) error {
	if err := s.redeem(ctx, email, models.OtpPurposeEmailVerification, code); err != nil {
		return err
	}

	users := s.repomanager.Users(s.tx.Conn())
	user, err := users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("error looking up user: %w", err)
	}
	if err := users.SetEmailVerified(ctx, user.ID, s.now()); err != nil {
		return fmt.Errorf("error updating user: %w", err)
	}

	s.publish(ctx, events.TypeEmailVerified, user.ID, map[string]string{"email": email})
	return nil
}

// RegisterWithPhone texts a registration code to a phone number that has
// no account yet.
func (s *AuthService) RegisterWithPhone(ctx context.Context, phone string) (*OtpDispatch, error) {
	if kind, err := classifyTarget(phone); err != nil || kind != targetPhone {
		return nil, common.NewValidationError("phone number is invalid")
	}

	_, err := s.repomanager.Users(s.tx.Conn()).GetByPhone(ctx, phone)
	if err == nil {
		return nil, fmt.Errorf("phone number already registered: %w", common.ErrorAlreadyExists)
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error looking up user: %w", err)
	}

	return s.sendSmsCode(ctx, phone, models.OtpPurposeRegister, "")
}

// VerifyPhoneRegistration redeems a registration code, creates the account
// with the phone already verified and signs it in.
func (s *AuthService) VerifyPhoneRegistration(ctx context.Context, phone, code string, client ClientInfo) (res *AuthResult, err error) {
	defer func() { metrics.RegistrationAttemptsTotal.WithLabelValues(methodPhone, metrics.Status(err)).Inc() }()

	if err := s.redeem(ctx, phone, models.OtpPurposeRegister, code); err != nil {
		return nil, err
	}

	now := s.now()
	user := &models.User{
		ID:              uuid.NewString(),
		PhoneNumber:     phone,
		Credential:      models.PhoneCredential{PhoneNumber: phone},
		IsPhoneVerified: true,
		IsActive:        true,
		Role:            common.DefaultRole,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).Create(ctx, user); err != nil {
			return fmt.Errorf("error creating user: %w", err)
		}
		res, err = s.openSession(ctx, tx, user, client)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeUserRegistered, user.ID, map[string]string{"provider": user.Provider().String()})
	s.publish(ctx, events.TypeUserLoggedIn, user.ID, map[string]string{"method": methodPhone, "session_id": res.SessionID})
	return res, nil
}

// LoginWithFederated signs in an identity verified by an external provider,
// creating the account on first use with the email already verified.
func (s *AuthService) LoginWithFederated(ctx context.Context, identity FederatedIdentity, client ClientInfo) (res *AuthResult, err error) {
	defer func() { metrics.LoginAttemptsTotal.WithLabelValues(methodGoogle, metrics.Status(err)).Inc() }()

	if identity.Email == "" {
		return nil, common.NewValidationError("email not provided by identity provider")
	}

	created := false
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)

		user, err := users.GetByEmail(ctx, identity.Email)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			now := s.now()
			user = &models.User{
				ID:              uuid.NewString(),
				Email:           identity.Email,
				Credential:      models.FederatedCredential{Subject: identity.Email},
				IsEmailVerified: true,
				IsActive:        true,
				Role:            common.DefaultRole,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			// display names are not unique; a taken one is left unset
			if name := strings.TrimSpace(identity.Name); name != "" {
				taken, err := users.ExistsByUsernameOrEmail(ctx, name, "")
				if err != nil {
					return fmt.Errorf("error checking username: %w", err)
				}
				if !taken {
					user.Username = name
				}
			}
			if err := users.Create(ctx, user); err != nil {
				return fmt.Errorf("error creating user: %w", err)
			}
			created = true
		case err != nil:
			return fmt.Errorf("error looking up user: %w", err)
		case !user.IsActive:
			return common.ErrAccountInactive
		}

		res, err = s.openSession(ctx, tx, user, client)
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.publish(ctx, events.TypeUserRegistered, res.User.ID, map[string]string{"provider": res.User.Provider().String()})
	}
	s.publish(ctx, events.TypeUserLoggedIn, res.User.ID, map[string]string{"method": methodGoogle, "session_id": res.SessionID})
	return res, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (res *AuthResult, err error) {
	defer func() { metrics.TokenRefreshTotal.WithLabelValues(metrics.Status(err)).Inc() }()

	res, err = s.sessions.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeTokenRefreshed, res.User.ID, map[string]string{"session_id": res.SessionID})
	return res, nil
}

// Logout ends the session of the presented access token and deny-lists the
// token even when no session is recorded for it.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		return err
	}

	err = s.sessions.RevokeByTokenID(ctx, claims.ID)
	if errors.Is(err, common.ErrorNotFound) {
		if _, err := s.tokens.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return fmt.Errorf("error revoking token: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	s.publish(ctx, events.TypeSessionRevoked, claims.Subject, map[string]string{"reason": "logout"})
	return nil
}

// SetUserActive enables or disables an account. Disabling also ends every
// session of the account.
func (s *AuthService) SetUserActive(ctx context.Context, userID string, active bool) error {
	if err := s.repomanager.Users(s.tx.Conn()).SetActive(ctx, userID, active, s.now()); err != nil {
		return fmt.Errorf("error updating user: %w", err)
	}

	if !active {
		n, err := s.sessions.RevokeAll(ctx, userID)
		if err != nil {
			return fmt.Errorf("error revoking sessions: %w", err)
		}
		s.logger.Info(ctx, "user deactivated", "user_id", userID, "sessions_revoked", n)
	}

	s.publish(ctx, events.TypeUserStatusChanged, userID, map[string]bool{"active": active})
	return nil
}

// GetProfile returns the account of userID.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	return s.repomanager.Users(s.tx.Conn()).GetByID(ctx, userID)
}

// ListSessions returns the active sessions of userID; currentJTI marks the
// caller's own session.
func (s *AuthService) ListSessions(ctx context.Context, userID, currentJTI string) ([]SessionView, error) {
	return s.sessions.ListActive(ctx, userID, currentJTI)
}

// RevokeSession ends one session of userID.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.Revoke(ctx, userID, sessionID); err != nil {
		return err
	}
	s.publish(ctx, events.TypeSessionRevoked, userID, map[string]string{"session_id": sessionID, "reason": "user"})
	return nil
}

// --- helpers below ---

func (s *AuthService) redeem(ctx context.Context, target string, purpose models.OtpPurpose, code string) error {
	ok, err := s.otps.Validate(ctx, target, purpose, code)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrInvalidOTP
	}
	return nil
}

func (s *AuthService) sendSmsCode(ctx context.Context, phone string, purpose models.OtpPurpose, userID string) (*OtpDispatch, error) {
	code, err := s.otps.Generate(ctx, phone, purpose, userID)
	if err != nil {
		return nil, err
	}
	if err := s.sms.SendOtp(ctx, phone, code); err != nil {
		s.logger.Error(ctx, "failed to send otp", "purpose", purpose.String(), "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDeliveryFailed, err)
	}
	return &OtpDispatch{ExpiresInMinutes: int(OtpExpiry / time.Minute)}, nil
}

// openSession records a session and stamps the last login on db.
func (s *AuthService) openSession(ctx context.Context, db dbx.DBTX, user *models.User, client ClientInfo) (*AuthResult, error) {
	res, err := s.sessions.Record(ctx, db, user, client)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.repomanager.Users(db).UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("error updating last login: %w", err)
	}
	user.LastLoginAt = &now
	return res, nil
}

func (s *AuthService) signIn(ctx context.Context, user *models.User, client ClientInfo, method string) (*AuthResult, error) {
	var res *AuthResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		res, err = s.openSession(ctx, tx, user, client)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeUserLoggedIn, user.ID, map[string]string{"method": method, "session_id": res.SessionID})
	return res, nil
}

// publish never fails the flow; events are best effort.
func (s *AuthService) publish(ctx context.Context, eventType, userID string, data any) {
	if err := s.events.Publish(ctx, eventType, userID, data); err != nil {
		s.logger.Warn(ctx, "failed to publish event", "type", eventType, "error", err)
	}
}
