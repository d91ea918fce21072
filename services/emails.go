package services

import (
	"context"
	"fmt"
	"log"

	"github.com/wneessen/go-mail"

	"cos-backend/config"
)

// Mailer sends outbound email over SMTP.
// Without an SMTP host configured it logs messages to the console instead,
// which is the development default.
type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewMailer creates a mailer from the application config
func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.DefaultFromEmail,
	}
}

// Enabled reports whether a real SMTP host is configured
func (m *Mailer) Enabled() bool {
	return m.host != ""
}

// Send delivers a single plain-text message to one recipient
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return nil
	}

	if !m.Enabled() {
		log.Printf("📧 [console mail] To: %s\nSubject: %s\n%s", to, subject, body)
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(m.port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.username),
			mail.WithPassword(m.password),
		)
	}

	client, err := mail.NewClient(m.host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}

	return nil
}
