package models

import "time"

// LoginSession tracks one signed-in device. JwtTokenID is the jti of the
// newest access token issued for it.
type LoginSession struct {
	ID             string
	UserID         string
	JwtTokenID     string
	TokenExpiresAt time.Time
	DeviceInfo     string
	IpAddress      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	IsActive       bool
}

const (
	MaxDeviceInfoLength = 500
	MaxIpAddressLength  = 45
)

func (s *LoginSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
