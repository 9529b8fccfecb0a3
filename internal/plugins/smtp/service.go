package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime/quotedprintable"
	"net"
	"net/mail"
	gosmtp "net/smtp"
	"strings"
	"time"
)

// defaultDialTimeout bounds the TCP/TLS handshake when ctx has no deadline.
const defaultDialTimeout = 10 * time.Second

// MailService is the interface other plugins use to send email. Bodies are
// HTML.
type MailService interface {
	SendMail(ctx context.Context, to []string, subject, htmlBody string) error
	IsConfigured(ctx context.Context) bool
}

// smtpService implements MailService against a real relay.
type smtpService struct {
	settings Settings
	now      func() time.Time
}

// NewSMTPService creates a mail service for the given relay settings.
func NewSMTPService(settings Settings) (MailService, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &smtpService{
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// IsConfigured is always true for a relay-backed service.
func (s *smtpService) IsConfigured(ctx context.Context) bool {
	return true
}

// SendMail delivers one message. The dial and the whole SMTP conversation
// are bounded by ctx.
func (s *smtpService) SendMail(ctx context.Context, to []string, subject, htmlBody string) error {
	if len(to) == 0 {
		return errors.New("no recipients")
	}

	from := mail.Address{Name: s.settings.FromName, Address: s.settings.FromAddress}
	msg := buildMessage(from, to, subject, htmlBody, s.now())

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := gosmtp.NewClient(conn, s.settings.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if s.settings.Encryption == EncryptionStartTLS {
		tlsConfig := &tls.Config{ServerName: s.settings.Host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starting TLS: %w", err)
		}
	}

	if s.settings.Username != "" {
		auth := gosmtp.PlainAuth("", s.settings.Username, s.settings.Password, s.settings.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}

	return sendMessage(client, from.Address, to, msg)
}

// dial opens the transport: implicit TLS for "ssl", plain TCP otherwise
// (STARTTLS upgrades it afterwards).
func (s *smtpService) dial(ctx context.Context) (net.Conn, error) {
	addr := s.settings.addr()
	dialer := &net.Dialer{Timeout: defaultDialTimeout}

	if s.settings.Encryption == EncryptionSSL {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: s.settings.Host, MinVersion: tls.VersionTLS12},
		}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s (SSL): %w", addr, err)
		}
		return conn, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn, nil
}

// sendMessage handles MAIL FROM, RCPT TO, DATA for an existing SMTP client.
func sendMessage(client *gosmtp.Client, from string, to []string, msg string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", recipient, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

// buildMessage renders an RFC 5322 message with an HTML body. Header values
// are stripped of CR/LF so a subject can never inject extra headers. The body
// is quoted-printable so no line exceeds the SMTP limit of 998 octets, however
// long the rendered HTML or its links are.
func buildMessage(from mail.Address, to []string, subject, htmlBody string, date time.Time) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from.String())
	fmt.Fprintf(&msg, "To: %s\r\n", headerValue(strings.Join(to, ", ")))
	fmt.Fprintf(&msg, "Subject: %s\r\n", headerValue(subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", date.Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	msg.WriteString("\r\n")

	// Writes to a strings.Builder cannot fail.
	qp := quotedprintable.NewWriter(&msg)
	_, _ = qp.Write([]byte(htmlBody))
	_ = qp.Close()
	return msg.String()
}

func headerValue(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}

// logMailService writes messages to the structured log instead of sending
// them. Used in development when SMTP_HOST is unset.
type logMailService struct {
	logger *slog.Logger
}

// NewLogMailService returns a MailService that only logs. A nil logger
// means slog.Default().
func NewLogMailService(logger *slog.Logger) MailService {
	if logger == nil {
		logger = slog.Default()
	}
	return &logMailService{logger: logger}
}

// IsConfigured reports false: nothing actually leaves the process.
func (s *logMailService) IsConfigured(ctx context.Context) bool {
	return false
}

// SendMail logs the envelope at info. The body carries OTP codes and reset
// links, so it is only logged at debug level.
func (s *logMailService) SendMail(ctx context.Context, to []string, subject, htmlBody string) error {
	s.logger.InfoContext(ctx, "mail not sent (smtp not configured)",
		slog.Any("to", to),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(htmlBody)),
	)
	s.logger.DebugContext(ctx, "unsent mail body",
		slog.String("subject", subject),
		slog.String("body", htmlBody),
	)
	return nil
}
