package providers

import (
	"context"
	"fmt"
	"net/mail"

	"proximity-service/internal/config"
	"proximity-service/pkg/email"
)

// Mailer sends plain-text email through the configured SMTP relay.
type Mailer struct {
	cfg  config.Config
	send func(server string, port int, username, password string, msg email.Message) error
}

// NewMailer returns a Mailer, or nil when SMTP is not configured.
func NewMailer(cfg config.Config) *Mailer {
	if cfg.Email.SMTPServer == "" || cfg.Email.SMTPPort == 0 || cfg.Email.Username == "" {
		return nil
	}
	return &Mailer{cfg: cfg, send: email.Send}
}

// Send emails subject/body to every address in to.
func (m *Mailer) Send(ctx context.Context, to []string, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(to) == 0 {
		return fmt.Errorf("no email recipients")
	}
	msg := email.Message{
		From:    mail.Address{Name: m.cfg.Email.FromName, Address: m.cfg.Email.Username},
		To:      to,
		Subject: subject,
		Body:    body,
	}
	if err := m.send(m.cfg.Email.SMTPServer, m.cfg.Email.SMTPPort, m.cfg.Email.Username, m.cfg.Email.Password, msg); err != nil {
		return fmt.Errorf("failed to send email to %v: %w", to, err)
	}
	return nil
}
