// Package token mints and verifies the signed, purpose-typed tokens used by
// caregate: short-lived access tokens and the password_reset / set_password
// tokens embedded in recovery links. All token types share one secret and
// one HMAC algorithm per deployment; the "type" claim keeps them apart.
package token

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Type discriminates what a token may be used for.
type Type string

const (
	TypeAccess        Type = "access"
	TypePasswordReset Type = "password_reset"
	TypeSetPassword   Type = "set_password"
)

// minSecretLen is the shortest signing secret NewCodec accepts.
const minSecretLen = 16

var (
	// ErrInvalid covers bad signatures, malformed tokens, disallowed
	// algorithms and missing required claims.
	ErrInvalid = errors.New("token: invalid")

	// ErrExpired is returned when exp has passed and expiry is enforced.
	ErrExpired = errors.New("token: expired")

	// ErrTypeMismatch is returned when a well-formed token carries a type
	// the caller does not accept.
	ErrTypeMismatch = errors.New("token: type mismatch")
)

// Config is the immutable codec configuration, fixed at startup.
type Config struct {
	// Secret is the shared HMAC key.
	Secret []byte

	// Algorithm is one of HS256, HS384 or HS512. Empty means HS256.
	Algorithm string

	// Now is the clock used for iat/exp. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Codec signs and verifies tokens. Safe for concurrent use.
type Codec struct {
	method *jwt.SigningMethodHMAC
	secret []byte
	now    func() time.Time
}

// NewCodec validates cfg and returns a ready codec. An unsupported algorithm
// or a missing/short secret is a startup error.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLen)
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	var method *jwt.SigningMethodHMAC
	switch alg {
	case jwt.SigningMethodHS256.Alg():
		method = jwt.SigningMethodHS256
	case jwt.SigningMethodHS384.Alg():
		method = jwt.SigningMethodHS384
	case jwt.SigningMethodHS512.Alg():
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported token algorithm %q", cfg.Algorithm)
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Codec{method: method, secret: secret, now: now}, nil
}

// SupportedAlgorithm reports whether alg can be passed to NewCodec.
func SupportedAlgorithm(alg string) bool {
	switch alg {
	case "", "HS256", "HS384", "HS512":
		return true
	}
	return false
}

// envelope is the wire claim set shared by every token type.
type envelope struct {
	Type      Type   `json:"type"`
	Kind      string `json:"knd,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	jwt.RegisteredClaims
}

// EncodeAccess mints an access token valid for lifetime.
func (c *Codec) EncodeAccess(claims AccessClaims, lifetime time.Duration) (string, error) {
	if claims.Subject == "" {
		return "", fmt.Errorf("encoding access token: %w", ErrInvalid)
	}
	return c.sign(envelope{
		Type:      TypeAccess,
		Kind:      claims.Kind,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	}, claims.Subject, lifetime)
}

// EncodePassword mints a password_reset or set_password token valid for
// lifetime.
func (c *Codec) EncodePassword(claims PasswordClaims, lifetime time.Duration) (string, error) {
	if claims.Type != TypePasswordReset && claims.Type != TypeSetPassword {
		return "", fmt.Errorf("encoding password token of type %q: %w", claims.Type, ErrInvalid)
	}
	if claims.Subject == "" || claims.Email == "" {
		return "", fmt.Errorf("encoding password token: %w", ErrInvalid)
	}
	return c.sign(envelope{
		Type:  claims.Type,
		Kind:  claims.Kind,
		Email: claims.Email,
	}, claims.Subject, lifetime)
}

func (c *Codec) sign(env envelope, subject string, lifetime time.Duration) (string, error) {
	now := c.now()
	env.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}

	signed, err := jwt.NewWithClaims(c.method, env).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", env.Type, err)
	}
	return signed, nil
}

// DecodeOption adjusts a single Decode call.
type DecodeOption func(*decodeOptions)

type decodeOptions struct {
	ignoreExpiry bool
}

// IgnoreExpiry skips the exp check. Signature, algorithm and structure are
// still verified.
func IgnoreExpiry() DecodeOption {
	return func(o *decodeOptions) { o.ignoreExpiry = true }
}

// Decode verifies a token and returns its claims as AccessClaims or
// PasswordClaims depending on the embedded type.
func (c *Codec) Decode(raw string, opts ...DecodeOption) (Claims, error) {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if o.ignoreExpiry {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	}

	var env envelope
	_, err := jwt.ParseWithClaims(raw, &env, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if env.Subject == "" || env.ExpiresAt == nil {
		return nil, ErrInvalid
	}

	switch env.Type {
	case TypeAccess:
		return AccessClaims{
			Subject:   env.Subject,
			Kind:      env.Kind,
			FirstName: env.FirstName,
			LastName:  env.LastName,
			ExpiresAt: env.ExpiresAt.Time,
			IssuedAt:  issuedAt(env),
		}, nil
	case TypePasswordReset, TypeSetPassword:
		if env.Email == "" {
			return nil, ErrInvalid
		}
		return PasswordClaims{
			Type:      env.Type,
			Subject:   env.Subject,
			Kind:      env.Kind,
			Email:     env.Email,
			ExpiresAt: env.ExpiresAt.Time,
			IssuedAt:  issuedAt(env),
		}, nil
	default:
		return nil, ErrInvalid
	}
}

// DecodeAccess decodes raw and requires it to be an access token.
func (c *Codec) DecodeAccess(raw string) (AccessClaims, error) {
	claims, err := c.Decode(raw)
	if err != nil {
		return AccessClaims{}, err
	}
	access, ok := claims.(AccessClaims)
	if !ok {
		return AccessClaims{}, ErrTypeMismatch
	}
	return access, nil
}

// DecodePassword decodes raw and requires its type to be one of allowed.
func (c *Codec) DecodePassword(raw string, allowed []Type, opts ...DecodeOption) (PasswordClaims, error) {
	claims, err := c.Decode(raw, opts...)
	if err != nil {
		return PasswordClaims{}, err
	}
	pw, ok := claims.(PasswordClaims)
	if !ok || !slices.Contains(allowed, pw.Type) {
		return PasswordClaims{}, ErrTypeMismatch
	}
	return pw, nil
}

func issuedAt(env envelope) time.Time {
	if env.IssuedAt == nil {
		return time.Time{}
	}
	return env.IssuedAt.Time
}
