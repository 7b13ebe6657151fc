package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/dmitrijs2005/waterauth/internal/common"
)

const refreshTokenSize = 64

// IssueRefreshToken returns 64 random bytes, base64 encoded.
func IssueRefreshToken() (string, error) {
	return common.MakeRandBase64String(refreshTokenSize)
}

// HashRefreshToken is the lookup key under which a refresh token is stored.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
