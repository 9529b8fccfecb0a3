package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters (OWASP baseline): memory=64MB, iterations=3,
// parallelism=4.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Password length bounds enforced at the HTTP boundary.
const (
	minPasswordLen = 8
	maxPasswordLen = 128
)

// dummyPasswordHash is what Login verifies against when no account matches
// the email, so an unknown address costs the same argon2 work as a wrong
// password. If salt generation fails the hash is empty and verification
// returns early; the lookup still reports not found.
var dummyPasswordHash = sync.OnceValue(func() string {
	h, _ := hashPassword("caregate-no-such-account")
	return h
})

// hashPassword returns a self-describing PHC string:
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// verifyPassword checks password against a PHC string produced by
// hashPassword. Parameters are read from the string so older hashes keep
// verifying after a cost change.
func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1
}

// validatePassword returns a client-facing message, or "" when the password
// is acceptable.
func validatePassword(password string) string {
	switch {
	case password == "":
		return "password is required"
	case len(password) < minPasswordLen:
		return fmt.Sprintf("password must be at least %d characters", minPasswordLen)
	case len(password) > maxPasswordLen:
		return fmt.Sprintf("password must be at most %d characters", maxPasswordLen)
	}
	return ""
}
