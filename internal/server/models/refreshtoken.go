package models

import "time"

// RefreshToken is stored by the SHA-256 hash of the opaque value handed to
// the client.
type RefreshToken struct {
	ID        string
	UserID    string
	SessionID string
	TokenHash string
	ExpiresAt time.Time
	IsRevoked bool
	CreatedAt time.Time
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
