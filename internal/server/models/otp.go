package models

import "time"

type OtpPurpose int

const (
	OtpPurposeRegister OtpPurpose = iota
	OtpPurposeLogin
	OtpPurposeEmailVerification
)

func (p OtpPurpose) String() string {
	switch p {
	case OtpPurposeRegister:
		return "register"
	case OtpPurposeLogin:
		return "login"
	case OtpPurposeEmailVerification:
		return "email_verification"
	default:
		return "unknown"
	}
}

// OtpVerification is one issued one-time code. Exactly one of PhoneNumber
// and Email is set.
type OtpVerification struct {
	ID           string
	UserID       string
	PhoneNumber  string
	Email        string
	Code         string
	Purpose      OtpPurpose
	ExpiresAt    time.Time
	IsUsed       bool
	AttemptCount int
	CreatedAt    time.Time
}

// Target returns whichever of PhoneNumber or Email is set.
func (o *OtpVerification) Target() string {
	if o.PhoneNumber != "" {
		return o.PhoneNumber
	}
	return o.Email
}

// IsExpired is evaluated at read time; expiry is never persisted.
func (o *OtpVerification) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// IsLive reports whether the code can still be redeemed.
func (o *OtpVerification) IsLive(now time.Time) bool {
	return !o.IsUsed && !o.IsExpired(now)
}
