// Package smtp implements a Provider that relays mail over authenticated
// SMTP using the caller's email ID and app password.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/shineum/multimail/internal/email"
)

const (
	// DefaultHost is the relay used when none is configured.
	DefaultHost = "smtp.gmail.com"
	// DefaultPort is implicit TLS (SMTPS).
	DefaultPort = 465
)

// Config describes the relay endpoint. Credentials are not part of it: they
// arrive with every send.
type Config struct {
	Host               string
	Port               int
	LocalName          string
	InsecureSkipVerify bool
}

// Provider dials a fresh authenticated session for every message.
type Provider struct {
	host      string
	port      int
	localName string
	tlsConfig *tls.Config
}

// New creates a Provider, filling in the default relay for zero values.
func New(cfg Config) *Provider {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	p := &Provider{
		host:      host,
		port:      port,
		localName: cfg.LocalName,
	}
	if cfg.InsecureSkipVerify {
		slog.Warn("TLS verification disabled for SMTP relay", "host", host)
		p.tlsConfig = &tls.Config{ServerName: host, InsecureSkipVerify: true}
	}
	return p
}

// Send builds the message and performs a single DialAndSend. The session is
// closed afterwards; nothing is pooled between calls.
func (p *Provider) Send(_ context.Context, creds email.Credentials, msg *email.Email) error {
	m := buildMessage(creds.EmailID, msg)

	if err := p.dialer(creds).DialAndSend(m); err != nil {
		return fmt.Errorf("smtp relay %s:%d: %w", p.host, p.port, err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// dialer returns a new dialer bound to creds. gomail caches the negotiated
// auth mechanism on the dialer, so it is never shared between sends.
func (p *Provider) dialer(creds email.Credentials) *gomail.Dialer {
	d := gomail.NewDialer(p.host, p.port, creds.EmailID, creds.AppPassword)
	if p.localName != "" {
		d.LocalName = p.localName
	}
	if p.tlsConfig != nil {
		d.TLSConfig = p.tlsConfig
	}
	return d
}

func buildMessage(from string, msg *email.Email) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To...)
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", msg.Cc...)
	}
	if len(msg.Bcc) > 0 {
		m.SetHeader("Bcc", msg.Bcc...)
	}
	m.SetHeader("Subject", msg.Subject)
	if msg.MessageID != "" {
		m.SetHeader("Message-ID", msg.MessageID)
	}

	switch {
	case msg.HtmlBody != "" && msg.TextBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HtmlBody)
	case msg.TextBody != "":
		m.SetBody("text/plain", msg.TextBody)
	default:
		m.SetBody("text/html", msg.HtmlBody)
	}

	for _, att := range msg.Attachments {
		content := att.Content
		m.Attach(att.Filename,
			gomail.SetHeader(map[string][]string{"Content-Type": {att.ContentType}}),
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		)
	}
	return m
}
