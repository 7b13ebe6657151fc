package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize          = 32
	pbkdf2Iterations  = 100_000
	derivedKeyLength  = 64
	minPasswordLength = 8
	passwordSymbols   = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`
)

// PasswordHasher derives PBKDF2-SHA256 password hashes. Salts and hashes are
// exchanged as standard base64 strings.
type PasswordHasher struct {
	iterations int
}

func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{iterations: pbkdf2Iterations}
}

// GenerateSalt returns 32 random bytes, base64 encoded.
func (h *PasswordHasher) GenerateSalt() (string, error) {
	return common.MakeRandBase64String(saltSize)
}

// HashPassword is deterministic for a given (password, salt) pair. It fails
// only when salt is not valid base64.
func (h *PasswordHasher) HashPassword(password, salt string) (string, error) {
	key, err := h.derive(password, salt)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// VerifyPassword recomputes the hash and compares it in constant time.
// Malformed salts or hashes never verify.
func (h *PasswordHasher) VerifyPassword(password, hash, salt string) bool {
	expected, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false
	}

	candidate, err := h.derive(password, salt)
	if err != nil {
		return false
	}
	defer common.WipeByteArray(candidate)

	return subtle.ConstantTimeCompare(expected, candidate) == 1
}

func (h *PasswordHasher) derive(password, salt string) ([]byte, error) {
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("invalid salt: %w", err)
	}
	return pbkdf2.Key([]byte(password), rawSalt, h.iterations, derivedKeyLength, sha256.New), nil
}

// IsValidPassword enforces the password policy: at least 8 characters with
// an upper case letter, a lower case letter, a digit and a symbol.
func IsValidPassword(password string) bool {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return false
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}

	return upper && lower && digit && symbol
}
