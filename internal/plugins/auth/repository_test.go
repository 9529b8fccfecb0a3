package auth

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T, kind Kind) (AccountRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewAccountRepository(db, kind, time.Second), mock
}

var subjectColumns = []string{
	"id", "email", "first_name", "last_name", "password_hash",
	"otp_code", "otp_expires_at", "otp_verified", "otp_consumed_digest",
	"refresh_token_hash", "last_activity", "invitation_status", "created_at",
}

func TestRepository_FindByEmail_Subject(t *testing.T) {
	repo, mock := newMockRepo(t, KindSubject)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	expires := created.Add(10 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, first_name, last_name, password_hash, otp_code, otp_expires_at, otp_verified, otp_consumed_digest, refresh_token_hash, last_activity, invitation_status, created_at FROM subjects WHERE email = ?")).
		WithArgs("patient@example.com").
		WillReturnRows(sqlmock.NewRows(subjectColumns).
			AddRow("s-1", "patient@example.com", "Sam", "Jones", nil,
				"482193", expires, false, nil,
				nil, nil, InvitationInviteSent, created))

	a, err := repo.FindByEmail(context.Background(), " Patient@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "s-1", a.ID)
	assert.False(t, a.HasPassword())
	require.NotNil(t, a.OTPCode)
	assert.Equal(t, "482193", *a.OTPCode)
	assert.Equal(t, expires, *a.OTPExpiresAt)
	assert.Nil(t, a.RefreshTokenHash)
	assert.Equal(t, InvitationInviteSent, *a.InvitationStatus)
	assert.Equal(t, created, a.CreatedAt)
}

func TestRepository_FindByID_ClinicianHasNoInvitationColumn(t *testing.T) {
	repo, mock := newMockRepo(t, KindClinician)

	mock.ExpectQuery(`SELECT .*last_activity, created_at FROM clinicians WHERE id = \?`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRepository_FindByRefreshToken_QueryError(t *testing.T) {
	repo, mock := newMockRepo(t, KindClinician)

	mock.ExpectQuery(`FROM clinicians WHERE refresh_token_hash = \?`).
		WithArgs("digest").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.FindByRefreshToken(context.Background(), "digest")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
	assert.Contains(t, err.Error(), "querying clinicians by refresh_token_hash")
}

func TestRepository_SetOTP(t *testing.T) {
	repo, mock := newMockRepo(t, KindClinician)
	expires := time.Date(2025, 1, 2, 3, 14, 5, 0, time.UTC)

	mock.ExpectExec(`UPDATE clinicians\s+SET otp_code = \?, otp_expires_at = \?, otp_verified = FALSE, otp_consumed_digest = NULL\s+WHERE id = \?`).
		WithArgs("482193", expires, "c-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.SetOTP(context.Background(), "c-1", "482193", expires))
}

func TestRepository_MarkOTPVerified_CompareAndSet(t *testing.T) {
	repo, mock := newMockRepo(t, KindClinician)
	pattern := `UPDATE clinicians SET otp_verified = TRUE\s+WHERE id = \? AND otp_code = \? AND otp_verified = FALSE`

	mock.ExpectExec(pattern).WithArgs("c-1", "482193").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(pattern).WithArgs("c-1", "482193").WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	assert.NoError(t, repo.MarkOTPVerified(ctx, "c-1", "482193"))
	assert.ErrorIs(t, repo.MarkOTPVerified(ctx, "c-1", "482193"), ErrOTPUsed)
}

func TestRepository_ClearOTP(t *testing.T) {
	repo, mock := newMockRepo(t, KindSubject)

	mock.ExpectExec(`UPDATE subjects\s+SET otp_code = NULL, otp_expires_at = NULL, otp_verified = FALSE, otp_consumed_digest = \?\s+WHERE id = \?`).
		WithArgs("abc123", "s-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.ClearOTP(context.Background(), "s-1", "abc123"))
}

func TestRepository_RotateRefreshToken(t *testing.T) {
	repo, mock := newMockRepo(t, KindClinician)
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	pattern := `UPDATE clinicians SET refresh_token_hash = \?, last_activity = GREATEST\(COALESCE\(last_activity, \?\), \?\)\s+WHERE id = \? AND refresh_token_hash = \?`

	mock.ExpectExec(pattern).WithArgs("new", at, at, "c-1", "old").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(pattern).WithArgs("newer", at, at, "c-1", "old").WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	assert.NoError(t, repo.RotateRefreshToken(ctx, "c-1", "old", "new", at))
	assert.ErrorIs(t, repo.RotateRefreshToken(ctx, "c-1", "old", "newer", at), ErrInvalidRefreshToken)
}

func TestRepository_SetRefreshToken_NeverMovesActivityBackwards(t *testing.T) {
	repo, mock := newMockRepo(t, KindClinician)
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE clinicians SET refresh_token_hash = ?, last_activity = GREATEST(COALESCE(last_activity, ?), ?) WHERE id = ?")).
		WithArgs("hash", at, at, "c-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.SetRefreshToken(context.Background(), "c-1", "hash", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_TouchLastActivity_NeverMovesBackwards(t *testing.T) {
	repo, mock := newMockRepo(t, KindSubject)
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE subjects SET last_activity = GREATEST(COALESCE(last_activity, ?), ?) WHERE id = ?")).
		WithArgs(at, at, "s-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.TouchLastActivity(context.Background(), "s-1", at))
}

func TestRepository_ExecErrors(t *testing.T) {
	repo, mock := newMockRepo(t, KindClinician)

	mock.ExpectExec(`UPDATE clinicians SET refresh_token_hash = NULL, last_activity = NULL WHERE id = \?`).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE clinicians SET password_hash = \? WHERE id = \?`).
		WithArgs("hash", "c-1").
		WillReturnError(errors.New("lock wait timeout"))

	ctx := context.Background()
	assert.ErrorIs(t, repo.ClearRefreshToken(ctx, "gone"), ErrAccountNotFound)

	err := repo.UpdatePassword(ctx, "c-1", "hash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "updating password")
}

func TestRepository_UpdateInvitationStatus(t *testing.T) {
	subjects, mock := newMockRepo(t, KindSubject)
	mock.ExpectExec(`UPDATE subjects SET invitation_status = \? WHERE id = \?`).
		WithArgs(InvitationActive, "s-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, subjects.UpdateInvitationStatus(context.Background(), "s-1", InvitationActive))

	// Clinicians have no onboarding state; nothing is executed.
	clinicians, _ := newMockRepo(t, KindClinician)
	assert.NoError(t, clinicians.UpdateInvitationStatus(context.Background(), "c-1", InvitationActive))
}
