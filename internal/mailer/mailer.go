// Package mailer sends transactional email over SMTP.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"
)

// Config holds the SMTP connection and sender identity settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	AppName  string // display name in the From header
	Sender   string // sender address
}

// Mailer sends HTML email through a single reusable SMTP client.
type Mailer struct {
	client *mail.Client
	config Config
	logger *slog.Logger
}

// New creates a Mailer.
//
// PORT 465 vs 587:
// Port 465 is implicit TLS — the TCP connection starts encrypted.
// Everything else (typically 587) starts plain and upgrades via STARTTLS.
// go-mail defaults to STARTTLS, so we only opt into SSL for 465.
func New(cfg Config, logger *slog.Logger) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mailer: creating smtp client: %w", err)
	}

	return &Mailer{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Send delivers one HTML email. The caller (an event bus subscriber) treats
// failures as best-effort, so this returns the error rather than logging
// and swallowing it here.
func (m *Mailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.config.AppName, m.config.Sender); err != nil {
		return fmt.Errorf("mailer: setting sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("mailer: setting recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mailer: sending to %s: %w", to, err)
	}

	m.logger.Info("email sent",
		slog.String("to", to),
		slog.String("subject", subject),
	)
	return nil
}
