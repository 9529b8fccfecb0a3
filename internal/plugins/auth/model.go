// Package auth owns the credential and session lifecycle for both account
// kinds: password + emailed OTP login, access tokens, sliding refresh
// tokens, and password recovery. The flows are written once and
// parameterized by a Profile, so clinicians and subjects share every line
// of session logic.
package auth

import (
	"time"
)

// Kind identifies which account population a service instance manages.
type Kind string

const (
	KindClinician Kind = "clinician"
	KindSubject   Kind = "subject"
)

// Invitation statuses for subject onboarding.
const (
	InvitationPending    = "pending"
	InvitationInviteSent = "invite_sent"
	InvitationActive     = "active"
)

// Account is the persisted credential state of a clinician or subject. The
// OTP and refresh fields are the whole of the session state; there is no
// separate session table.
type Account struct {
	ID        string
	Email     string
	FirstName string
	LastName  string

	PasswordHash *string

	OTPCode           *string
	OTPExpiresAt      *time.Time
	OTPVerified       bool
	OTPConsumedDigest *string

	// RefreshTokenHash is the SHA-256 digest of the current refresh token.
	RefreshTokenHash *string
	LastActivity     *time.Time

	// InvitationStatus is only tracked for subjects.
	InvitationStatus *string

	CreatedAt time.Time
}

// HasPassword reports whether a password has been set.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// View returns the client-safe projection of the account.
func (a *Account) View(kind Kind) AccountView {
	v := AccountView{
		ID:        a.ID,
		Kind:      kind,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		CreatedAt: a.CreatedAt,
	}
	if a.InvitationStatus != nil {
		v.InvitationStatus = *a.InvitationStatus
	}
	return v
}

// AccountView is what /me returns. Credential fields are never included.
type AccountView struct {
	ID               string    `json:"id"`
	Kind             Kind      `json:"kind"`
	Email            string    `json:"email"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	InvitationStatus string    `json:"invitation_status,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Identity is the authenticated principal attached to a request.
type Identity struct {
	AccountID string `json:"id"`
	Kind      Kind   `json:"kind"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// TokenPair is returned by a successful OTP verification or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// LoginChallenge is returned by a successful password check.
type LoginChallenge struct {
	RequiresOTP bool `json:"requires_otp"`
}

// --- Request DTOs (bound from HTTP requests) ---

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyOTPRequest is the body of POST /verify-otp.
type VerifyOTPRequest struct {
	Email   string `json:"email"`
	OTPCode string `json:"otp_code"`
}

// RefreshRequest is the body of POST /refresh-token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ForgotPasswordRequest is the body of POST /forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the body of POST /reset-password.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// UpdatePasswordRequest is the body of PUT /update-password.
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ResendSetPasswordRequest is the body of POST /resend-set-password-email.
type ResendSetPasswordRequest struct {
	Token string `json:"token"`
}
