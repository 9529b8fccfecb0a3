package auth

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/a-h/templ"
)

// MailSender is the slice of smtp.MailService the auth plugin needs. Declared
// here so tests can substitute a fake without importing the smtp plugin.
type MailSender interface {
	SendMail(ctx context.Context, to []string, subject, htmlBody string) error
}

// Notifier delivers OTP codes and recovery links. Every method returns
// ErrNotificationFailed (wrapping the cause) when delivery fails.
type Notifier interface {
	SendOTP(ctx context.Context, to, name, code string) error
	SendPasswordReset(ctx context.Context, to, name, link string) error
	SendSetPassword(ctx context.Context, to, link string) error
	SendInvitation(ctx context.Context, to, name, link string) error
}

// NotifierConfig fixes the lifetimes quoted in email copy and the send
// timeout.
type NotifierConfig struct {
	OTPTTL           time.Duration
	PasswordResetTTL time.Duration
	SetPasswordTTL   time.Duration
	Timeout          time.Duration
}

// mailNotifier renders templ components and hands them to a MailSender.
type mailNotifier struct {
	mail    MailSender
	profile Profile
	cfg     NotifierConfig
}

// NewMailNotifier creates a Notifier for one account kind.
func NewMailNotifier(mail MailSender, profile Profile, cfg NotifierConfig) Notifier {
	return &mailNotifier{mail: mail, profile: profile, cfg: cfg}
}

func (n *mailNotifier) SendOTP(ctx context.Context, to, name, code string) error {
	return n.send(ctx, to, n.profile.OTPSubject, OTPEmail(name, code, n.cfg.OTPTTL))
}

func (n *mailNotifier) SendPasswordReset(ctx context.Context, to, name, link string) error {
	return n.send(ctx, to, n.profile.PasswordResetSubject, PasswordResetEmail(name, link, n.cfg.PasswordResetTTL))
}

func (n *mailNotifier) SendSetPassword(ctx context.Context, to, link string) error {
	return n.send(ctx, to, n.profile.SetPasswordSubject, SetPasswordEmail(link, n.cfg.SetPasswordTTL))
}

func (n *mailNotifier) SendInvitation(ctx context.Context, to, name, link string) error {
	return n.send(ctx, to, n.profile.InvitationSubject, InvitationEmail(name, link, n.cfg.SetPasswordTTL))
}

func (n *mailNotifier) send(ctx context.Context, to, subject string, body templ.Component) error {
	var buf bytes.Buffer
	if err := body.Render(ctx, &buf); err != nil {
		return fmt.Errorf("%w: rendering %q: %v", ErrNotificationFailed, subject, err)
	}

	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}

	if err := n.mail.SendMail(ctx, []string{to}, subject, buf.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}
	return nil
}
