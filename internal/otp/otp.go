// Package otp generates and checks the six-digit one-time codes emailed as
// the second login factor.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"
)

// DefaultLifetime is how long an issued code stays valid.
const DefaultLifetime = 10 * time.Minute

// codeSpace is the number of distinct six-digit codes.
var codeSpace = big.NewInt(1_000_000)

// Reason explains why a submitted code was rejected.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonUsed     Reason = "used"
	ReasonExpired  Reason = "expired"
	ReasonMismatch Reason = "mismatch"
)

var (
	ErrUsed     = errors.New("otp: already used")
	ErrExpired  = errors.New("otp: expired")
	ErrMismatch = errors.New("otp: mismatch")
)

// Err maps a rejection reason to its sentinel error. ReasonNone maps to nil.
func (r Reason) Err() error {
	switch r {
	case ReasonUsed:
		return ErrUsed
	case ReasonExpired:
		return ErrExpired
	case ReasonMismatch:
		return ErrMismatch
	}
	return nil
}

// Result is the outcome of Validate.
type Result struct {
	OK     bool
	Reason Reason
}

// Manager issues and validates codes. The zero value is not usable; call New.
type Manager struct {
	lifetime time.Duration
	random   io.Reader
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRandom replaces the entropy source. Tests only.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.random = r }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns a Manager issuing codes valid for lifetime. A non-positive
// lifetime falls back to DefaultLifetime.
func New(lifetime time.Duration, opts ...Option) *Manager {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	m := &Manager{
		lifetime: lifetime,
		random:   rand.Reader,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lifetime reports the configured code lifetime.
func (m *Manager) Lifetime() time.Duration { return m.lifetime }

// Generate returns a uniformly distributed code in 000000-999999.
func (m *Manager) Generate() (string, error) {
	n, err := rand.Int(m.random, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generating otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Expiration returns the expiry instant for a code issued at now.
func (m *Manager) Expiration(now time.Time) time.Time {
	return now.Add(m.lifetime)
}

// Validate checks a submitted code against the stored challenge. Reasons are
// reported in a fixed order: used, then expired, then mismatch.
func (m *Manager) Validate(provided, stored string, expiresAt *time.Time, verified bool) Result {
	if verified {
		return Result{Reason: ReasonUsed}
	}
	if expiresAt == nil || stored == "" || m.now().After(*expiresAt) {
		return Result{Reason: ReasonExpired}
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(stored)) != 1 {
		return Result{Reason: ReasonMismatch}
	}
	return Result{OK: true}
}

// Digest returns the hex SHA-256 of a code. Stored after consumption so a
// replayed code can still be recognised once the challenge is cleared.
func Digest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// MatchesDigest reports whether code hashes to digest, in constant time.
func MatchesDigest(code, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(Digest(code)), []byte(digest)) == 1
}
