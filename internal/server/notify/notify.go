// Package notify delivers one-time codes to users by SMS and email.
package notify

import "context"

// SmsSender delivers an OTP to a phone number. A non-nil error means the
// message was not delivered.
type SmsSender interface {
	SendOtp(ctx context.Context, phoneNumber, code string) error
}

// EmailSender delivers an email verification code. A non-nil error means the
// message was not delivered.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, email, code string) error
}
