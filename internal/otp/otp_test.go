package otp

import (
	"bytes"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

func TestGenerate_Format(t *testing.T) {
	m := New(0)
	assert.Equal(t, DefaultLifetime, m.Lifetime())

	for i := 0; i < 200; i++ {
		code, err := m.Generate()
		require.NoError(t, err)
		assert.Regexp(t, sixDigits, code)
	}
}

func TestGenerate_LeadingZeros(t *testing.T) {
	// All-zero entropy yields the smallest code, which must keep its padding.
	m := New(time.Minute, WithRandom(bytes.NewReader(make([]byte, 64))))
	code, err := m.Generate()
	require.NoError(t, err)
	assert.Equal(t, "000000", code)
}

func TestGenerate_EntropyFailure(t *testing.T) {
	m := New(time.Minute, WithRandom(bytes.NewReader(nil)))
	_, err := m.Generate()
	assert.Error(t, err)
}

func TestExpiration(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(10 * time.Minute)
	assert.Equal(t, now.Add(10*time.Minute), m.Expiration(now))
}

func TestValidate(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := New(10*time.Minute, WithClock(func() time.Time { return now }))

	future := now.Add(5 * time.Minute)
	past := now.Add(-time.Second)

	tests := []struct {
		name     string
		provided string
		stored   string
		expiry   *time.Time
		verified bool
		want     Reason
	}{
		{"match", "123456", "123456", &future, false, ReasonNone},
		{"mismatch", "654321", "123456", &future, false, ReasonMismatch},
		{"expired", "123456", "123456", &past, false, ReasonExpired},
		{"no expiry", "123456", "123456", nil, false, ReasonExpired},
		{"no stored code", "123456", "", &future, false, ReasonExpired},
		{"used beats expired", "123456", "123456", &past, true, ReasonUsed},
		{"used beats mismatch", "000000", "123456", &future, true, ReasonUsed},
		{"expired beats mismatch", "000000", "123456", &past, false, ReasonExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Validate(tt.provided, tt.stored, tt.expiry, tt.verified)
			assert.Equal(t, tt.want, res.Reason)
			assert.Equal(t, tt.want == ReasonNone, res.OK)
		})
	}
}

func TestValidate_ExpiryBoundary(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := New(10*time.Minute, WithClock(func() time.Time { return now }))

	// A code is still accepted at the exact expiry instant.
	res := m.Validate("123456", "123456", &now, false)
	assert.True(t, res.OK)
}

func TestReasonErr(t *testing.T) {
	assert.NoError(t, ReasonNone.Err())
	assert.True(t, errors.Is(ReasonUsed.Err(), ErrUsed))
	assert.True(t, errors.Is(ReasonExpired.Err(), ErrExpired))
	assert.True(t, errors.Is(ReasonMismatch.Err(), ErrMismatch))
}

func TestDigest(t *testing.T) {
	d := Digest("042424")
	assert.Len(t, d, 64)
	assert.True(t, MatchesDigest("042424", d))
	assert.False(t, MatchesDigest("042425", d))
	assert.False(t, MatchesDigest("042424", ""))
}
