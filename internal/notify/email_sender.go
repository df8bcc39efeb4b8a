package notify

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	gomail "gopkg.in/mail.v2"

	"github.com/shanehull/douclip/internal/logger"
)

// EmailConfig holds SMTP configuration for sending emails.
type EmailConfig struct {
	SMTPServer string
	SMTPPort   int
	SMTPUser   string
	SMTPPass   string
	FromEmail  string
	ToEmails   []string
	Enabled    bool
}

// EmailSender delivers messages via SMTP.
type EmailSender struct {
	cfg EmailConfig
	log logger.Logger
}

// NewEmailSender creates a sender with the given SMTP configuration.
func NewEmailSender(cfg EmailConfig, log logger.Logger) *EmailSender {
	return &EmailSender{cfg: cfg, log: log}
}

// Send delivers an email with HTML body and plain text fallback to every
// configured recipient.
func (s *EmailSender) Send(msg *RenderedMessage) error {
	if !s.cfg.Enabled {
		return nil
	}
	if len(s.cfg.ToEmails) == 0 {
		return fmt.Errorf("no email recipients configured")
	}

	m := buildMessage(s.cfg, msg)

	dialer := gomail.NewDialer(s.cfg.SMTPServer, s.cfg.SMTPPort, s.cfg.SMTPUser, s.cfg.SMTPPass)
	dialer.Timeout = 10 * time.Second

	if err := dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s (subject %q): %w",
			strings.Join(s.cfg.ToEmails, ", "), msg.Subject, err)
	}

	s.log.Info("Email sent",
		zap.String("subject", msg.Subject),
		zap.Int("recipients", len(s.cfg.ToEmails)),
	)
	return nil
}

func buildMessage(cfg EmailConfig, msg *RenderedMessage) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", cfg.FromEmail)
	m.SetHeader("To", cfg.ToEmails...)
	m.SetHeader("Subject", msg.Subject)

	if msg.HTML != "" && msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else if msg.HTML != "" {
		m.SetBody("text/html", msg.HTML)
	} else {
		m.SetBody("text/plain", msg.Text)
	}
	return m
}
