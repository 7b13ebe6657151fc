// Package models holds the persistent domain types of the authentication
// service.
package models

import "time"

// AuthProvider tells how an account was created and how it signs in.
type AuthProvider int

const (
	AuthProviderEmail AuthProvider = iota
	AuthProviderPhone
	AuthProviderGoogle
)

func (p AuthProvider) String() string {
	switch p {
	case AuthProviderEmail:
		return "email"
	case AuthProviderPhone:
		return "phone"
	case AuthProviderGoogle:
		return "google"
	default:
		return "unknown"
	}
}

// Credential is the provider specific part of an identity. Exactly one of
// PasswordCredential, PhoneCredential or FederatedCredential.
type Credential interface {
	Provider() AuthProvider
}

// PasswordCredential belongs to accounts registered with username and
// password. Salt and Hash are base64 strings.
type PasswordCredential struct {
	Hash string
	Salt string
}

func (PasswordCredential) Provider() AuthProvider { return AuthProviderEmail }

// PhoneCredential marks an account whose phone number was proven by OTP at
// registration.
type PhoneCredential struct {
	PhoneNumber string
}

func (PhoneCredential) Provider() AuthProvider { return AuthProviderPhone }

// FederatedCredential belongs to accounts created through an external
// identity provider; Subject is the email the provider vouched for.
type FederatedCredential struct {
	Subject string
}

func (FederatedCredential) Provider() AuthProvider { return AuthProviderGoogle }

type User struct {
	ID              string
	Username        string
	Email           string
	PhoneNumber     string
	Credential      Credential
	IsEmailVerified bool
	IsPhoneVerified bool
	IsActive        bool
	Role            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastLoginAt     *time.Time
}

// Provider returns the provider tag derived from the credential.
func (u *User) Provider() AuthProvider {
	if u.Credential == nil {
		return AuthProviderEmail
	}
	return u.Credential.Provider()
}

// Password returns the password credential, if the account has one.
func (u *User) Password() (PasswordCredential, bool) {
	c, ok := u.Credential.(PasswordCredential)
	return c, ok && c.Hash != ""
}

// Identity is the value placed into the identity claim of access tokens:
// the email when known, the phone number otherwise.
func (u *User) Identity() string {
	if u.Email != "" {
		return u.Email
	}
	return u.PhoneNumber
}
