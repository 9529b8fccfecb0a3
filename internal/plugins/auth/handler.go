package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/caregate/caregate/internal/apperror"
	"github.com/caregate/caregate/internal/middleware"
)

// forgotPasswordMessage is returned whether or not the address is known.
const forgotPasswordMessage = "If an account exists for this email, a password reset link has been sent."

// Handler handles the JSON auth API for one account kind. Handlers are thin:
// they bind the request, call the service, and write the envelope. No
// business logic lives here.
type Handler struct {
	service AuthService
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service AuthService) *Handler {
	return &Handler{service: service}
}

// Login checks the password and emails an OTP (POST /login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return apperror.NewValidation("email and password are required")
	}

	challenge, err := h.service.Login(requestContext(c), req.Email, req.Password)
	if err != nil {
		return toAppError(err)
	}
	return middleware.OK(c, http.StatusOK, "A sign-in code has been sent to your email.", challenge)
}

// VerifyOTP exchanges an emailed code for a token pair (POST /verify-otp).
func (h *Handler) VerifyOTP(c echo.Context) error {
	var req VerifyOTPRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTPCode) == "" {
		return apperror.NewValidation("email and otp_code are required")
	}

	pair, err := h.service.VerifyOTP(requestContext(c), req.Email, strings.TrimSpace(req.OTPCode))
	if err != nil {
		return toAppError(err)
	}
	return middleware.OK(c, http.StatusOK, "Signed in.", pair)
}

// Refresh rotates a refresh token (POST /refresh-token).
func (h *Handler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	pair, err := h.service.Refresh(requestContext(c), req.RefreshToken)
	if err != nil {
		return toAppError(err)
	}
	return middleware.OK(c, http.StatusOK, "Session refreshed.", pair)
}

// Logout ends the caller's session (POST /logout).
func (h *Handler) Logout(c echo.Context) error {
	id := GetIdentity(c)
	if err := h.service.Logout(requestContext(c), id.AccountID); err != nil {
		return toAppError(err)
	}
	return middleware.OK(c, http.StatusOK, "Signed out.", nil)
}

// ForgotPassword emails a reset link (POST /forgot-password). The response is
// the same for known and unknown addresses.
func (h *Handler) ForgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if strings.TrimSpace(req.Email) == "" {
		return apperror.NewValidation("email is required")
	}

	if err := h.service.ForgotPassword(requestContext(c), req.Email); err != nil {
		return toAppError(err)
	}
	return middleware.OK(c, http.StatusOK, forgotPasswordMessage, nil)
}

// ResetPassword sets a password from an emailed token (POST /reset-password).
func (h *Handler) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if req.Token == "" {
		return apperror.NewValidation("token is required")
	}
	if msg := validatePassword(req.NewPassword); msg != "" {
		return apperror.NewValidation(msg)
	}

	if err := h.service.ResetPassword(requestContext(c), req.Token, req.NewPassword); err != nil {
		return toAppError(err)
	}
	return middleware.OK(c, http.StatusOK, "Your password has been updated.", nil)
}

// UpdatePassword changes the caller's password (PUT /update-password).
func (h *Handler) UpdatePassword(c echo.Context) error {
	var req UpdatePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if req.CurrentPassword == "" {
		return apperror.NewValidation("current_password is required")
	}
	if msg := validatePassword(req.NewPassword); msg != "" {
		return apperror.NewValidation(msg)
	}

	id := GetIdentity(c)
	if err := h.service.ChangePassword(requestContext(c), id.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		return toAppError(err)
	}
	return middleware.OK(c, http.StatusOK, "Your password has been updated.", nil)
}

// Me returns the caller's account (GET /me).
func (h *Handler) Me(c echo.Context) error {
	id := GetIdentity(c)
	view, err := h.service.Me(requestContext(c), id.AccountID)
	if err != nil {
		return toAppError(err)
	}
	return middleware.OK(c, http.StatusOK, "", view)
}

// ResendSetPassword mails a fresh set-password link
// (POST /resend-set-password-email).
func (h *Handler) ResendSetPassword(c echo.Context) error {
	var req ResendSetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if req.Token == "" {
		return apperror.NewValidation("token is required")
	}

	if err := h.service.ResendSetPassword(requestContext(c), req.Token); err != nil {
		return toAppError(err)
	}
	return middleware.OK(c, http.StatusOK, "A new link has been sent to your email.", nil)
}

// InviteHandler lets a clinician invite a subject. It sits on the subjects
// route group but authenticates clinicians, so it is a separate type.
type InviteHandler struct {
	subjects AuthService
}

// NewInviteHandler creates an InviteHandler backed by the subject service.
func NewInviteHandler(subjects AuthService) *InviteHandler {
	return &InviteHandler{subjects: subjects}
}

// Invite emails a set-password invitation (POST /subjects/:id/invite).
func (h *InviteHandler) Invite(c echo.Context) error {
	subjectID := strings.TrimSpace(c.Param("id"))
	if subjectID == "" {
		return apperror.NewBadRequest("subject id is required")
	}

	clinician := GetIdentity(c)
	if err := h.subjects.InviteSubject(requestContext(c), subjectID, clinician.AccountID); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return apperror.NewNotFound("subject not found")
		}
		return toAppError(err)
	}
	return middleware.OK(c, http.StatusOK, "Invitation sent.", nil)
}

// toAppError is the one place auth errors become HTTP errors. Order matters:
// several errors wrap two sentinels, and the first match decides.
func toAppError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountNotFound):
		// Unknown account and wrong password look identical to the client.
		return apperror.New(http.StatusUnauthorized, "invalid_credentials", "Invalid email or password.")
	case errors.Is(err, ErrCurrentPasswordIncorrect):
		return apperror.New(http.StatusBadRequest, "current_password_incorrect", "The current password is incorrect.")
	case errors.Is(err, ErrNoPasswordSet):
		return apperror.New(http.StatusForbidden, "password_not_set",
			"No password has been set for this account. Use the link in your invitation email.")

	case errors.Is(err, ErrTooManyAttempts):
		return apperror.NewTooManyRequests("Too many incorrect codes. Sign in again to receive a new one.")
	case errors.Is(err, ErrOTPExpired):
		return apperror.New(http.StatusBadRequest, "otp_expired", "The sign-in code has expired. Sign in again to receive a new one.")
	case errors.Is(err, ErrOTPUsed):
		return apperror.New(http.StatusBadRequest, "otp_used", "The sign-in code has already been used.")
	case errors.Is(err, ErrOTPMismatch):
		return apperror.New(http.StatusBadRequest, "otp_mismatch", "The sign-in code is incorrect.")

	case errors.Is(err, ErrNotificationFailed):
		return apperror.NewBadGateway("We could not send the email. Please try again later.", err)

	case errors.Is(err, ErrUnauthenticated):
		return apperror.NewUnauthorized("Authentication required.")
	case errors.Is(err, ErrInvalidRefreshToken):
		return apperror.New(http.StatusUnauthorized, "invalid_refresh_token", "The refresh token is not valid. Sign in again.")
	case errors.Is(err, ErrRefreshExpired):
		return apperror.New(http.StatusUnauthorized, "refresh_expired", "Your session has expired. Sign in again.")

	// Invalid before mismatch: resend wraps a mismatch as invalid.
	case errors.Is(err, ErrTokenInvalid):
		return apperror.New(http.StatusBadRequest, "token_invalid", "The link is not valid.")
	case errors.Is(err, ErrTokenExpired):
		return apperror.New(http.StatusBadRequest, "token_expired", "The link has expired. Request a new one.")
	case errors.Is(err, ErrTokenTypeMismatch):
		return apperror.New(http.StatusBadRequest, "token_type_mismatch", "The link cannot be used for this action.")

	case errors.Is(err, ErrUnsupported):
		return apperror.NewNotFound("Not found.")
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.NewUnavailable(err)
}
