package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, max int) (AttemptLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisAttemptLimiter(rdb, max, 10*time.Minute), mr
}

func TestAttemptLimiter_BlocksAfterMax(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Check(ctx, KindClinician, "c1"))
		require.NoError(t, l.RecordFailure(ctx, KindClinician, "c1"))
	}
	assert.ErrorIs(t, l.Check(ctx, KindClinician, "c1"), ErrTooManyAttempts)

	// Counters are per kind and per account.
	assert.NoError(t, l.Check(ctx, KindSubject, "c1"))
	assert.NoError(t, l.Check(ctx, KindClinician, "c2"))
}

func TestAttemptLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, 1)

	require.NoError(t, l.RecordFailure(ctx, KindSubject, "s1"))
	require.ErrorIs(t, l.Check(ctx, KindSubject, "s1"), ErrTooManyAttempts)

	require.NoError(t, l.Reset(ctx, KindSubject, "s1"))
	assert.NoError(t, l.Check(ctx, KindSubject, "s1"))
}

func TestAttemptLimiter_WindowExpires(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t, 1)

	require.NoError(t, l.RecordFailure(ctx, KindClinician, "c1"))
	assert.Equal(t, 10*time.Minute, mr.TTL("otp_attempts:clinician:c1"))

	mr.FastForward(11 * time.Minute)
	assert.NoError(t, l.Check(ctx, KindClinician, "c1"))
}

func TestAttemptLimiter_FailsClosed(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t, 5)
	mr.Close()

	err := l.Check(ctx, KindClinician, "c1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTooManyAttempts)
}

func TestNewRedisAttemptLimiter_Disabled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	assert.Nil(t, NewRedisAttemptLimiter(rdb, 0, time.Minute))
	assert.Nil(t, NewRedisAttemptLimiter(nil, 5, time.Minute))
}
