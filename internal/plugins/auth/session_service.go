package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caregate/caregate/internal/dispatch"
	"github.com/caregate/caregate/internal/otp"
	"github.com/caregate/caregate/internal/token"
)

// refreshTokenBytes is the number of random bytes in a refresh token.
// 32 bytes = 256 bits of entropy, base64url-encoded to 43 characters.
const refreshTokenBytes = 32

// AuthService defines the credential and session lifecycle for one account
// kind. Handlers call these methods -- they never touch the repository
// directly.
type AuthService interface {
	Kind() Kind
	Profile() Profile

	// Session issuing and validation.
	Login(ctx context.Context, email, password string) (*LoginChallenge, error)
	VerifyOTP(ctx context.Context, email, code string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, accountID string) error
	Authenticate(ctx context.Context, accessToken string) (*Identity, error)

	// Credential recovery.
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	ResendSetPassword(ctx context.Context, priorToken string) error
	InviteSubject(ctx context.Context, subjectID, invitedBy string) error

	// Authenticated self-service.
	ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error
	Me(ctx context.Context, accountID string) (*AccountView, error)
}

// Lifetimes are the configurable token and session durations.
type Lifetimes struct {
	AccessToken   time.Duration
	RefreshWindow time.Duration
	PasswordReset time.Duration
	SetPassword   time.Duration
}

// Deps are the collaborators of an AuthService. Limiter and Events are
// optional; Now and Random default to the wall clock and crypto/rand. A nil
// Dispatcher sends detached emails inline.
type Deps struct {
	Profile    Profile
	Repo       AccountRepository
	Codec      *token.Codec
	OTP        *otp.Manager
	Notifier   Notifier
	Limiter    AttemptLimiter
	Events     EventRecorder
	Dispatcher *dispatch.Dispatcher
	Lifetimes  Lifetimes
	Now        func() time.Time
	Random     io.Reader
	Logger     *slog.Logger
}

// authService implements AuthService. The same code serves clinicians and
// subjects; everything kind-specific comes from profile.
type authService struct {
	profile  Profile
	repo     AccountRepository
	codec    *token.Codec
	otp      *otp.Manager
	notifier Notifier
	limiter  AttemptLimiter
	events   EventRecorder
	async    *dispatch.Dispatcher
	life     Lifetimes
	now      func() time.Time
	random   io.Reader
	verify   func(password, encoded string) bool
	log      *slog.Logger
}

// NewAuthService creates a new auth service with the given dependencies.
func NewAuthService(d Deps) AuthService {
	s := &authService{
		profile:  d.Profile,
		repo:     d.Repo,
		codec:    d.Codec,
		otp:      d.OTP,
		notifier: d.Notifier,
		limiter:  d.Limiter,
		events:   d.Events,
		async:    d.Dispatcher,
		life:     d.Lifetimes,
		now:      d.Now,
		random:   d.Random,
		verify:   verifyPassword,
		log:      d.Logger,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.random == nil {
		s.random = rand.Reader
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With(slog.String("kind", string(d.Profile.Kind)))
	return s
}

func (s *authService) Kind() Kind       { return s.profile.Kind }
func (s *authService) Profile() Profile { return s.profile }

// Login verifies the password and issues an emailed OTP challenge. It never
// returns tokens; those come from VerifyOTP.
func (s *authService) Login(ctx context.Context, email, password string) (*LoginChallenge, error) {
	acct, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			s.verify(password, dummyPasswordHash())
		}
		return nil, fmt.Errorf("finding account: %w", err)
	}

	// Accounts awaiting first-time setup have no hash; never compare
	// against one.
	if !acct.HasPassword() {
		return nil, ErrNoPasswordSet
	}
	if !s.verify(password, *acct.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	code, err := s.otp.Generate()
	if err != nil {
		return nil, err
	}

	// The challenge is stored before dispatch. If dispatch fails the stored
	// code is orphaned and simply expires.
	if err := s.repo.SetOTP(ctx, acct.ID, code, s.otp.Expiration(s.now())); err != nil {
		return nil, fmt.Errorf("storing otp: %w", err)
	}
	s.resetAttempts(ctx, acct.ID)

	if err := s.notifier.SendOTP(ctx, acct.Email, acct.FirstName, code); err != nil {
		s.log.Error("failed to dispatch otp",
			slog.String("account_id", acct.ID),
			slog.Any("error", err),
		)
		return nil, err
	}

	s.record(ctx, acct.ID, ActionChallengeIssued, nil)
	s.log.Info("otp challenge issued", slog.String("account_id", acct.ID))

	return &LoginChallenge{RequiresOTP: true}, nil
}

// VerifyOTP completes the login challenge and starts a refresh session.
func (s *authService) VerifyOTP(ctx context.Context, email, code string) (*TokenPair, error) {
	acct, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("finding account: %w", err)
	}

	if s.limiter != nil {
		if err := s.limiter.Check(ctx, s.profile.Kind, acct.ID); err != nil {
			return nil, err
		}
	}

	// A code that was already consumed and cleared keeps reporting "used".
	if acct.OTPCode == nil && acct.OTPConsumedDigest != nil && otp.MatchesDigest(code, *acct.OTPConsumedDigest) {
		s.record(ctx, acct.ID, ActionOTPRejected, map[string]any{"reason": string(otp.ReasonUsed)})
		return nil, ErrOTPUsed
	}

	stored := deref(acct.OTPCode)
	res := s.otp.Validate(code, stored, acct.OTPExpiresAt, acct.OTPVerified)
	if !res.OK {
		if res.Reason == otp.ReasonMismatch {
			s.recordFailedAttempt(ctx, acct.ID)
		}
		s.record(ctx, acct.ID, ActionOTPRejected, map[string]any{"reason": string(res.Reason)})
		return nil, res.Reason.Err()
	}

	// Compare-and-set: of two concurrent verifications only one gets here.
	if err := s.repo.MarkOTPVerified(ctx, acct.ID, stored); err != nil {
		return nil, fmt.Errorf("consuming otp: %w", err)
	}

	pair, refreshHash, err := s.issuePair(acct)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetRefreshToken(ctx, acct.ID, refreshHash, s.now()); err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}

	// The verified flag already blocks replay, so a failed clear only
	// leaves stale fields behind.
	if err := s.repo.ClearOTP(ctx, acct.ID, otp.Digest(stored)); err != nil {
		s.log.Warn("failed to clear otp",
			slog.String("account_id", acct.ID),
			slog.Any("error", err),
		)
	}
	s.resetAttempts(ctx, acct.ID)

	s.record(ctx, acct.ID, ActionOTPVerified, nil)
	s.log.Info("account signed in", slog.String("account_id", acct.ID))

	return pair, nil
}

// Refresh rotates the refresh token and mints a new access token, as long as
// the account was active within the sliding window.
func (s *authService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	oldHash := hashRefreshToken(refreshToken)

	acct, err := s.repo.FindByRefreshToken(ctx, oldHash)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("finding refresh session: %w", err)
	}
	if acct.LastActivity == nil {
		return nil, ErrInvalidRefreshToken
	}

	now := s.now()
	if now.Sub(*acct.LastActivity) > s.life.RefreshWindow {
		return nil, ErrRefreshExpired
	}

	pair, newHash, err := s.issuePair(acct)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RotateRefreshToken(ctx, acct.ID, oldHash, newHash, now); err != nil {
		return nil, fmt.Errorf("rotating refresh token: %w", err)
	}

	s.record(ctx, acct.ID, ActionSessionRefreshed, nil)
	return pair, nil
}

// Logout ends the refresh session. Failures are logged, never returned:
// the caller is logged out from its own point of view either way.
func (s *authService) Logout(ctx context.Context, accountID string) error {
	if err := s.repo.ClearRefreshToken(ctx, accountID); err != nil {
		s.log.Warn("failed to clear refresh token on logout",
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
		return nil
	}
	s.record(ctx, accountID, ActionLogout, nil)
	return nil
}

// Authenticate validates an access token for this service's kind and slides
// the refresh window. Every decode failure is reported as
// ErrUnauthenticated; the specific cause stays wrapped for logs and tests.
func (s *authService) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.codec.DecodeAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.Kind != string(s.profile.Kind) {
		return nil, fmt.Errorf("%w: token issued for %q", ErrUnauthenticated, claims.Kind)
	}

	acct, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("resolving token subject: %w", err)
	}

	// Best-effort: a transient store failure must not lock out a valid
	// session.
	if err := s.repo.TouchLastActivity(ctx, acct.ID, s.now()); err != nil {
		s.log.Warn("failed to update last activity",
			slog.String("account_id", acct.ID),
			slog.Any("error", err),
		)
	}

	return &Identity{
		AccountID: acct.ID,
		Kind:      s.profile.Kind,
		FirstName: acct.FirstName,
		LastName:  acct.LastName,
	}, nil
}

// Me returns the caller's safe account view.
func (s *authService) Me(ctx context.Context, accountID string) (*AccountView, error) {
	acct, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, lookupError(err, ErrUnauthenticated)
	}
	v := acct.View(s.profile.Kind)
	return &v, nil
}

// issuePair mints an access token and a fresh opaque refresh token. The
// refresh token's digest is returned for storage.
func (s *authService) issuePair(acct *Account) (*TokenPair, string, error) {
	access, err := s.codec.EncodeAccess(token.AccessClaims{
		Subject:   acct.ID,
		Kind:      string(s.profile.Kind),
		FirstName: acct.FirstName,
		LastName:  acct.LastName,
	}, s.life.AccessToken)
	if err != nil {
		return nil, "", fmt.Errorf("minting access token: %w", err)
	}

	refresh, err := s.newRefreshToken()
	if err != nil {
		return nil, "", err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.life.AccessToken / time.Second),
	}, hashRefreshToken(refresh), nil
}

func (s *authService) newRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := io.ReadFull(s.random, b); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashRefreshToken is the stored form of a refresh token.
func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (s *authService) recordFailedAttempt(ctx context.Context, accountID string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.RecordFailure(ctx, s.profile.Kind, accountID); err != nil {
		s.log.Warn("failed to record otp attempt",
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
	}
}

func (s *authService) resetAttempts(ctx context.Context, accountID string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, s.profile.Kind, accountID); err != nil {
		s.log.Warn("failed to reset otp attempts",
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
	}
}

func (s *authService) record(ctx context.Context, accountID, action string, details map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, Event{
		Kind:      s.profile.Kind,
		AccountID: accountID,
		Action:    action,
		RemoteIP:  ClientIP(ctx),
		Details:   details,
	})
}

// --- Helpers ---

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// lookupError reports a missing account as gone. The account was named by a
// token, so the caller's error is about the token, not about credentials.
func lookupError(err, gone error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: account no longer exists", gone)
	}
	return fmt.Errorf("finding account: %w", err)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
