package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

const verificationSubject = "WaterDelivery - Verify your account"

var verificationTemplate = template.Must(template.New("verify").Parse(
	`<html><body>
<h2>WaterDelivery</h2>
<p>Your verification code is:</p>
<p style="font-size:24px;font-weight:bold;letter-spacing:4px">{{.Code}}</p>
<p>The code is valid for 3 minutes.</p>
</body></html>`))

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPEmailSender sends HTML mail through an SMTP relay. STARTTLS is used
// whenever the server offers it.
type SMTPEmailSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	sendMail sendMailFunc
	now      func() time.Time
}

func NewSMTPEmailSender(host string, port int, username, password, from string) *SMTPEmailSender {
	if from == "" {
		from = username
	}
	return &SMTPEmailSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

func (s *SMTPEmailSender) SendVerificationEmail(ctx context.Context, email, code string) error {
	var body bytes.Buffer
	if err := verificationTemplate.Execute(&body, struct{ Code string }{code}); err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}
	return s.send(ctx, email, verificationSubject, body.String())
}

func (s *SMTPEmailSender) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: WaterDelivery <%s>\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	if err := s.sendMail(addr, auth, s.from, []string{to}, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
