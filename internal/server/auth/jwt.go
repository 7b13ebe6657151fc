// Package auth issues and validates bearer credentials and hashes passwords.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Denylist remembers revoked token ids until the tokens would have expired
// anyway.
type Denylist interface {
	Add(ctx context.Context, jti string, ttl time.Duration) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// Claims carried by access tokens. Subject is the user id and ID the jti.
type Claims struct {
	jwt.RegisteredClaims
	Identity string `json:"identity,omitempty"`
	Role     string `json:"role,omitempty"`
}

// AccessToken is a signed token together with the metadata the caller needs
// to record a session.
type AccessToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	denylist Denylist
	now      func() time.Time
}

func NewTokenIssuer(secret, issuer, audience string, ttl time.Duration, denylist Denylist) *TokenIssuer {
	return &TokenIssuer{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		denylist: denylist,
		now:      time.Now,
	}
}

// AccessTokenTTL is the configured access token lifetime.
func (i *TokenIssuer) AccessTokenTTL() time.Duration {
	return i.ttl
}

// IssueAccessToken signs an HS256 token for userID with a fresh jti.
// An empty role becomes common.DefaultRole.
func (i *TokenIssuer) IssueAccessToken(userID, identity, role string) (*AccessToken, error) {
	if role == "" {
		role = common.DefaultRole
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	jti := uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{i.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		Identity: identity,
		Role:     role,
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return nil, err
	}

	return &AccessToken{Token: signed, ID: jti, ExpiresAt: expiresAt}, nil
}

// ValidateAccessToken checks signature, algorithm, issuer, audience and
// lifetime with zero clock skew, then consults the deny-list. Every
// verification failure yields common.ErrInvalidToken; only deny-list
// infrastructure failures are reported differently.
func (i *TokenIssuer) ValidateAccessToken(ctx context.Context, tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, common.ErrInvalidToken
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	if i.denylist != nil {
		revoked, err := i.denylist.Contains(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("error checking revocation list: %w", err)
		}
		if revoked {
			return nil, common.ErrInvalidToken
		}
	}

	return claims, nil
}

// ExtractTokenID reads the jti without verifying anything. Malformed input
// yields "".
func (i *TokenIssuer) ExtractTokenID(tokenString string) string {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	return claims.ID
}

// RevokeToken deny-lists jti until expiresAt. Tokens already past their
// expiry need no entry and report true.
func (i *TokenIssuer) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	if jti == "" || i.denylist == nil {
		return false, nil
	}

	ttl := expiresAt.Sub(i.now())
	if ttl <= 0 {
		return true, nil
	}

	if err := i.denylist.Add(ctx, jti, ttl); err != nil {
		return false, fmt.Errorf("error revoking token: %w", err)
	}
	return true, nil
}
