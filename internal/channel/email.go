package channel

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"rssmonitor/internal/model"
)

// Email sends messages over SMTP.
type Email struct {
	// dial allows tests to intercept the SMTP handshake.
	dial func(cfg model.ChannelConfig, m *gomail.Message) error
}

// NewEmail creates an Email sender.
func NewEmail() *Email {
	return &Email{
		dial: func(cfg model.ChannelConfig, m *gomail.Message) error {
			d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
			return d.DialAndSend(m)
		},
	}
}

// Send delivers the subject/text/html body to the configured recipient.
// It fails fast when any of host, port, user, pass, or to is absent.
func (e *Email) Send(_ context.Context, cfg model.ChannelConfig, msg model.Message) error {
	if cfg.Host == "" || cfg.Port == 0 || cfg.User == "" || cfg.Pass == "" || cfg.To == "" {
		return &ConfigError{Service: model.ServiceEmail, Reason: "host, port, user, pass, and to are required"}
	}

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.User)
	m.SetHeader("To", cfg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}

	if err := e.dial(cfg, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
