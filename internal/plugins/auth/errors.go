package auth

import (
	"errors"

	"github.com/caregate/caregate/internal/otp"
	"github.com/caregate/caregate/internal/token"
)

// Sentinel errors returned by the auth services. The handler layer is the
// only place they are turned into HTTP responses (see toAppError). OTP and
// token failures reuse the lower packages' sentinels so errors.Is works
// across the boundary without re-mapping.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoPasswordSet      = errors.New("password not set")
	ErrAccountNotFound    = errors.New("account not found")

	// ErrCurrentPasswordIncorrect is a failed re-check on an authenticated
	// password change. The caller is signed in, so it is not a 401.
	ErrCurrentPasswordIncorrect = errors.New("current password incorrect")

	ErrOTPExpired  = otp.ErrExpired
	ErrOTPUsed     = otp.ErrUsed
	ErrOTPMismatch = otp.ErrMismatch

	ErrNotificationFailed = errors.New("notification dispatch failed")

	ErrTokenInvalid      = token.ErrInvalid
	ErrTokenExpired      = token.ErrExpired
	ErrTokenTypeMismatch = token.ErrTypeMismatch

	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshExpired      = errors.New("refresh window elapsed")

	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTooManyAttempts = errors.New("too many otp attempts")
	ErrUnsupported     = errors.New("operation not supported for this account kind")
)
