package notifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// To is used when a message carries no recipients.
	To []string
}

// Email sends plain-text mail over SMTP (STARTTLS when offered).
type Email struct {
	cfg  EmailConfig
	addr string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmail(cfg EmailConfig) (*Email, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("email host is empty")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("email from is empty")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &Email{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		send: smtp.SendMail,
	}, nil
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, m Message) error {
	to := m.Recipients
	if len(to) == 0 {
		to = e.cfg.To
	}
	if len(to) == 0 {
		// Nobody to mail; the camera has no addresses configured.
		return nil
	}
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	msg := buildMail(e.cfg.From, to, m.Subject, m.Text, time.Now())

	// net/smtp has no context support; bound the call from the outside.
	done := make(chan error, 1)
	go func() { done <- e.send(e.addr, auth, e.cfg.From, to, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp %s: %w", e.addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMail(from string, to []string, subject, body string, at time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", at.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
