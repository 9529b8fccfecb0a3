package auth

import (
	"github.com/caregate/caregate/internal/config"
	"github.com/caregate/caregate/internal/token"
)

// Profile captures everything that differs between account kinds. The
// session and recovery services read it instead of branching on Kind.
type Profile struct {
	Kind        Kind
	DisplayName string

	// ResetTypes are the password token types reset-password accepts.
	ResetTypes []token.Type

	// Invitations enables invite and resend-set-password.
	Invitations bool

	// ActivateOnReset marks the invitation as active once a password is set.
	ActivateOnReset bool

	ResetURL       string
	SetPasswordURL string

	OTPSubject           string
	PasswordResetSubject string
	SetPasswordSubject   string
	InvitationSubject    string
}

// ClinicianProfile returns the profile for clinician accounts.
func ClinicianProfile(cfg config.FrontendConfig) Profile {
	return Profile{
		Kind:                 KindClinician,
		DisplayName:          "Clinician",
		ResetTypes:           []token.Type{token.TypePasswordReset},
		ResetURL:             cfg.ClinicianResetPasswordURL,
		OTPSubject:           "Your caregate sign-in code",
		PasswordResetSubject: "Reset your caregate password",
	}
}

// SubjectProfile returns the profile for subject accounts. Subjects are
// onboarded by invitation, so a set_password token is as good as a reset
// token for choosing a password.
func SubjectProfile(cfg config.FrontendConfig) Profile {
	return Profile{
		Kind:                 KindSubject,
		DisplayName:          "Subject",
		ResetTypes:           []token.Type{token.TypePasswordReset, token.TypeSetPassword},
		Invitations:          true,
		ActivateOnReset:      true,
		ResetURL:             cfg.SubjectResetPasswordURL,
		SetPasswordURL:       cfg.SubjectSetPasswordURL,
		OTPSubject:           "Your caregate sign-in code",
		PasswordResetSubject: "Reset your caregate password",
		SetPasswordSubject:   "Set your caregate password",
		InvitationSubject:    "You have been invited to caregate",
	}
}

// link appends the token as the query parameter the frontend expects.
func link(base, tok string) string {
	return base + "?token=" + tok
}
