package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
)

// Attachment represents an email attachment
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Email is a multipart/alternative message with optional attachments
type Email struct {
	To          string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Sender delivers a built message
type Sender interface {
	Send(ctx context.Context, email *Email) error
}

// SMTPMailer sends email through the configured SMTP server
type SMTPMailer struct {
	config *common.ReportConfig
	logger arbor.ILogger
}

func NewSMTPMailer(config *common.ReportConfig, logger arbor.ILogger) *SMTPMailer {
	return &SMTPMailer{config: config, logger: logger}
}

// IsConfigured checks the minimum settings needed to send
func (m *SMTPMailer) IsConfigured() bool {
	return m.config.SMTPHost != "" && m.config.From != ""
}

func (m *SMTPMailer) Send(ctx context.Context, email *Email) error {
	if !m.IsConfigured() {
		return fmt.Errorf("SMTP host or from address not configured")
	}

	msg, err := BuildMessage(m.config.From, m.config.FromName, email, time.Now())
	if err != nil {
		return err
	}

	port := m.config.SMTPPort
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(m.config.SMTPHost, strconv.Itoa(port))

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.SMTPHost)
	}

	if m.config.UseTLS {
		err = m.sendWithTLS(ctx, addr, auth, email.To, msg)
	} else {
		err = smtp.SendMail(addr, auth, m.config.From, []string{email.To}, msg)
	}
	if err != nil {
		return err
	}

	m.logger.Info().
		Str("to", email.To).
		Str("subject", email.Subject).
		Int("attachments", len(email.Attachments)).
		Msg("Report email sent")
	return nil
}

// BuildMessage renders the email as RFC 5322 bytes
func BuildMessage(from, fromName string, email *Email, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: fromName, Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: email.To}})
	h.SetSubject(email.Subject)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create message body: %w", err)
	}
	for _, part := range []struct{ contentType, body string }{
		{"text/plain", email.TextBody},
		{"text/html", email.HTMLBody},
	} {
		if part.body == "" {
			continue
		}
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		ph.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := tw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s part: %w", part.contentType, err)
		}
		if _, err := io.WriteString(w, part.body); err != nil {
			return nil, fmt.Errorf("failed to write %s part: %w", part.contentType, err)
		}
		w.Close()
	}
	tw.Close()

	for _, att := range email.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		var ah mail.AttachmentHeader
		ah.SetContentType(contentType, nil)
		ah.SetFilename(att.Filename)
		ah.Set("Content-Transfer-Encoding", "base64")
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment %s: %w", att.Filename, err)
		}
		if _, err := w.Write(att.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
		w.Close()
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

// sendWithTLS uses implicit TLS and falls back to STARTTLS when the handshake fails
func (m *SMTPMailer) sendWithTLS(ctx context.Context, addr string, auth smtp.Auth, to string, msg []byte) error {
	host := m.config.SMTPHost
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 30 * time.Second}, Config: &tls.Config{ServerName: host}}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		m.logger.Debug().Err(err).Str("addr", addr).Msg("Implicit TLS failed, trying STARTTLS")
		return m.sendWithSTARTTLS(addr, auth, to, msg)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	return m.deliver(client, auth, to, msg)
}

func (m *SMTPMailer) sendWithSTARTTLS(addr string, auth smtp.Auth, to string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: m.config.SMTPHost}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	return m.deliver(client, auth, to, msg)
}

func (m *SMTPMailer) deliver(client *smtp.Client, auth smtp.Auth, to string, msg []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err := client.Mail(m.config.From); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set mail recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}
