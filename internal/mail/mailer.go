// Package mail sends transactional email over SMTP.
package mail

import (
	"context"
	"fmt"

	"quill/internal/config"
	"quill/internal/middleware"

	gomail "github.com/wneessen/go-mail"
)

// Mailer delivers transactional messages. Sends are synchronous and block
// the calling request.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, resetURL string) error
}

// SMTPMailer delivers mail through a configured SMTP server.
type SMTPMailer struct {
	client *gomail.Client
	from   string
}

// NewSMTPMailer builds a mailer from the application configuration.
func NewSMTPMailer(cfg *config.Config) (*SMTPMailer, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.MailPort),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.MailUsername != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.MailUsername),
			gomail.WithPassword(cfg.MailPassword),
		)
	}

	client, err := gomail.NewClient(cfg.MailHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &SMTPMailer{client: client, from: cfg.MailFrom}, nil
}

// SendPasswordReset emails a reset link to the given address.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject("Password Reset Request")
	msg.SetBodyString(gomail.TypeTextPlain, passwordResetBody(resetURL))

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		middleware.MailDeliveries.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to send reset email: %w", err)
	}
	middleware.MailDeliveries.WithLabelValues("ok").Inc()
	return nil
}

func passwordResetBody(resetURL string) string {
	return fmt.Sprintf(`To reset your password, visit the following link:
%s

If you did not make this request, simply ignore this email and no changes will be made.
`, resetURL)
}
