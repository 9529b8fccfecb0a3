package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AccountRepository defines the data access contract for one account kind.
// All SQL lives in the concrete implementation -- no SQL leaks out. Every
// write is a single-row, single-statement UPDATE, so multi-field changes
// (code + expiry + verified flag, token + last activity) land atomically.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByRefreshToken(ctx context.Context, tokenHash string) (*Account, error)

	// OTP challenge.
	SetOTP(ctx context.Context, id, code string, expiresAt time.Time) error
	MarkOTPVerified(ctx context.Context, id, code string) error
	ClearOTP(ctx context.Context, id, consumedDigest string) error

	// Refresh session.
	SetRefreshToken(ctx context.Context, id, tokenHash string, at time.Time) error
	RotateRefreshToken(ctx context.Context, id, oldHash, newHash string, at time.Time) error
	TouchLastActivity(ctx context.Context, id string, at time.Time) error
	ClearRefreshToken(ctx context.Context, id string) error

	// Credentials and onboarding.
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateInvitationStatus(ctx context.Context, id, status string) error
}

// accountRepository implements AccountRepository with hand-written MariaDB
// queries against the clinicians or subjects table.
type accountRepository struct {
	db         *sql.DB
	table      string
	invitation bool
	timeout    time.Duration
	columns    string
}

// NewAccountRepository creates a repository for kind backed by the given DB
// pool. Every call is bounded by timeout.
func NewAccountRepository(db *sql.DB, kind Kind, timeout time.Duration) AccountRepository {
	r := &accountRepository{db: db, timeout: timeout}
	switch kind {
	case KindSubject:
		r.table = "subjects"
		r.invitation = true
	default:
		r.table = "clinicians"
	}

	cols := []string{
		"id", "email", "first_name", "last_name", "password_hash",
		"otp_code", "otp_expires_at", "otp_verified", "otp_consumed_digest",
		"refresh_token_hash", "last_activity",
	}
	if r.invitation {
		cols = append(cols, "invitation_status")
	}
	cols = append(cols, "created_at")
	r.columns = strings.Join(cols, ", ")

	return r
}

func (r *accountRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// FindByID retrieves an account by its primary key.
// Returns ErrAccountNotFound if no row matches.
func (r *accountRepository) FindByID(ctx context.Context, id string) (*Account, error) {
	return r.findOne(ctx, "id", id)
}

// FindByEmail retrieves an account by its (lower-cased) email address.
func (r *accountRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.findOne(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

// FindByRefreshToken retrieves the account holding the given refresh token
// digest.
func (r *accountRepository) FindByRefreshToken(ctx context.Context, tokenHash string) (*Account, error) {
	return r.findOne(ctx, "refresh_token_hash", tokenHash)
}

func (r *accountRepository) findOne(ctx context.Context, column, value string) (*Account, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, r.columns, r.table, column)

	a := &Account{}
	dest := []any{
		&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.PasswordHash,
		&a.OTPCode, &a.OTPExpiresAt, &a.OTPVerified, &a.OTPConsumedDigest,
		&a.RefreshTokenHash, &a.LastActivity,
	}
	if r.invitation {
		dest = append(dest, &a.InvitationStatus)
	}
	dest = append(dest, &a.CreatedAt)

	err := r.db.QueryRowContext(ctx, query, value).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s by %s: %w", r.table, column, err)
	}

	return a, nil
}

// SetOTP stores a fresh challenge. Code, expiry and the verified flag are
// written together, and any digest of a previously consumed code is dropped.
func (r *accountRepository) SetOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	query := fmt.Sprintf(`UPDATE %s
	          SET otp_code = ?, otp_expires_at = ?, otp_verified = FALSE, otp_consumed_digest = NULL
	          WHERE id = ?`, r.table)
	return r.execOne(ctx, "setting otp", query, code, expiresAt, id)
}

// MarkOTPVerified flips the verified flag only if the stored code is still
// the one that was checked and has not been consumed. Of two concurrent
// verifications at most one gets a row; the other sees ErrOTPUsed.
func (r *accountRepository) MarkOTPVerified(ctx context.Context, id, code string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET otp_verified = TRUE
	          WHERE id = ? AND otp_code = ? AND otp_verified = FALSE`, r.table)

	result, err := r.db.ExecContext(ctx, query, id, code)
	if err != nil {
		return fmt.Errorf("marking otp verified: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking otp verified: %w", err)
	}
	if n == 0 {
		return ErrOTPUsed
	}
	return nil
}

// ClearOTP removes the challenge and remembers the consumed code's digest.
func (r *accountRepository) ClearOTP(ctx context.Context, id, consumedDigest string) error {
	query := fmt.Sprintf(`UPDATE %s
	          SET otp_code = NULL, otp_expires_at = NULL, otp_verified = FALSE, otp_consumed_digest = ?
	          WHERE id = ?`, r.table)
	return r.execOne(ctx, "clearing otp", query, consumedDigest, id)
}

// SetRefreshToken starts a new refresh session. Like TouchLastActivity it
// never moves last_activity backwards.
func (r *accountRepository) SetRefreshToken(ctx context.Context, id, tokenHash string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET refresh_token_hash = ?, last_activity = GREATEST(COALESCE(last_activity, ?), ?) WHERE id = ?`, r.table)
	return r.execOne(ctx, "setting refresh token", query, tokenHash, at, at, id)
}

// RotateRefreshToken swaps the refresh token only if oldHash is still
// current. A lost race, or reuse of a rotated token, yields
// ErrInvalidRefreshToken.
func (r *accountRepository) RotateRefreshToken(ctx context.Context, id, oldHash, newHash string, at time.Time) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET refresh_token_hash = ?, last_activity = GREATEST(COALESCE(last_activity, ?), ?)
	          WHERE id = ? AND refresh_token_hash = ?`, r.table)

	result, err := r.db.ExecContext(ctx, query, newHash, at, at, id, oldHash)
	if err != nil {
		return fmt.Errorf("rotating refresh token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotating refresh token: %w", err)
	}
	if n == 0 {
		return ErrInvalidRefreshToken
	}
	return nil
}

// TouchLastActivity slides the refresh window forward. GREATEST keeps a
// late-arriving touch from moving last_activity backwards.
func (r *accountRepository) TouchLastActivity(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET last_activity = GREATEST(COALESCE(last_activity, ?), ?) WHERE id = ?`, r.table)
	return r.execOne(ctx, "touching last activity", query, at, at, id)
}

// ClearRefreshToken ends the refresh session (logout).
func (r *accountRepository) ClearRefreshToken(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET refresh_token_hash = NULL, last_activity = NULL WHERE id = ?`, r.table)
	return r.execOne(ctx, "clearing refresh token", query, id)
}

// UpdatePassword sets a new password hash.
func (r *accountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := fmt.Sprintf(`UPDATE %s SET password_hash = ? WHERE id = ?`, r.table)
	return r.execOne(ctx, "updating password", query, passwordHash, id)
}

// UpdateInvitationStatus records onboarding progress. Clinicians have no
// invitation state, so this is a no-op for them.
func (r *accountRepository) UpdateInvitationStatus(ctx context.Context, id, status string) error {
	if !r.invitation {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s SET invitation_status = ? WHERE id = ?`, r.table)
	return r.execOne(ctx, "updating invitation status", query, status, id)
}

// execOne runs a single-row UPDATE and maps "no row matched" to
// ErrAccountNotFound. The DSN sets clientFoundRows, so an UPDATE that
// matches a row but changes nothing still reports one row.
func (r *accountRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
