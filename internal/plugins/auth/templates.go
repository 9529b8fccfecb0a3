package auth

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/caregate/caregate/internal/sanitize"
)

// Email bodies are templ components so they share the escaping rules of the
// rest of the templ ecosystem. Every dynamic value goes through
// templ.EscapeString; links additionally go through templ.URL, which
// replaces unsafe schemes.

// emailLayout wraps body in the common HTML frame.
func emailLayout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>`+
			templ.EscapeString(title)+
			`</title></head><body style="font-family:sans-serif;color:#222;max-width:560px;margin:0 auto;padding:24px">`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `<p style="color:#888;font-size:12px;margin-top:32px">If you did not request this email you can ignore it.</p></body></html>`)
		return err
	})
}

// greeting addresses the recipient by name. Names come from account records
// and are reduced to plain text first.
func greeting(name string) string {
	name = sanitize.Name(name)
	if name == "" {
		return "<p>Hello,</p>"
	}
	return "<p>Hello " + templ.EscapeString(name) + ",</p>"
}

func linkButton(label, link string) string {
	href := templ.EscapeString(string(templ.URL(link)))
	return `<p><a href="` + href + `" style="display:inline-block;padding:10px 18px;background:#1f6feb;color:#fff;text-decoration:none;border-radius:4px">` +
		templ.EscapeString(label) + `</a></p><p style="font-size:12px;color:#555">Or paste this link into your browser:<br>` +
		href + `</p>`
}

// OTPEmail is the second-factor code email.
func OTPEmail(name, code string, ttl time.Duration) templ.Component {
	return emailLayout("Your sign-in code", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `%s<p>Your sign-in code is:</p><p style="font-size:28px;letter-spacing:6px;font-weight:bold">%s</p><p>It expires in %d minutes.</p>`,
			greeting(name), templ.EscapeString(code), int(ttl.Minutes()))
		return err
	}))
}

// PasswordResetEmail carries the reset link.
func PasswordResetEmail(name, link string, ttl time.Duration) templ.Component {
	return emailLayout("Reset your password", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `%s<p>We received a request to reset your password.</p>%s<p>The link is valid for %d hours.</p>`,
			greeting(name), linkButton("Reset password", link), int(ttl.Hours()))
		return err
	}))
}

// SetPasswordEmail carries a fresh set-password link.
func SetPasswordEmail(link string, ttl time.Duration) templ.Component {
	return emailLayout("Set your password", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `%s<p>Use the link below to choose a password for your account.</p>%s<p>The link is valid for %d days.</p>`,
			greeting(""), linkButton("Set password", link), int(ttl.Hours()/24))
		return err
	}))
}

// InvitationEmail invites a subject to finish onboarding.
func InvitationEmail(name, link string, ttl time.Duration) templ.Component {
	return emailLayout("You have been invited", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `%s<p>Your clinician has invited you to your caregate account. Choose a password to get started.</p>%s<p>The invitation is valid for %d days.</p>`,
			greeting(name), linkButton("Accept invitation", link), int(ttl.Hours()/24))
		return err
	}))
}
