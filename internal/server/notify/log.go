package notify

import (
	"context"

	"github.com/dmitrijs2005/waterauth/internal/logging"
)

// LogSender writes codes to the log instead of delivering them. It serves
// local runs where no gateway is configured.
type LogSender struct {
	logger logging.Logger
}

func NewLogSender(logger logging.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "notify")}
}

func (s *LogSender) SendOtp(ctx context.Context, phoneNumber, code string) error {
	s.logger.Info(ctx, "sms delivery skipped", "to", phoneNumber, "code", code)
	return nil
}

func (s *LogSender) SendVerificationEmail(ctx context.Context, email, code string) error {
	s.logger.Info(ctx, "email delivery skipped", "to", email, "code", code)
	return nil
}
