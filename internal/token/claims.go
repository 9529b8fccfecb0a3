package token

import "time"

// Claims is the decoded payload of a token. It is implemented only by
// AccessClaims and PasswordClaims; switch on the concrete type.
type Claims interface {
	TokenType() Type
	sealed()
}

// AccessClaims identify the bearer of an access token.
type AccessClaims struct {
	Subject   string
	Kind      string
	FirstName string
	LastName  string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

func (AccessClaims) TokenType() Type { return TypeAccess }
func (AccessClaims) sealed()         {}

// PasswordClaims authorize setting a new password for Subject.
type PasswordClaims struct {
	Type      Type
	Subject   string
	Kind      string
	Email     string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

func (c PasswordClaims) TokenType() Type { return c.Type }
func (PasswordClaims) sealed()           {}
