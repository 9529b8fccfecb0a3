package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregate/caregate/internal/config"
)

func newPingMock(t *testing.T) (Pinger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestCheck_Healthy(t *testing.T) {
	db, mock := newPingMock(t)
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	assert.NoError(t, Check(context.Background(), db, rdb))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheck_NoRedis(t *testing.T) {
	db, mock := newPingMock(t)
	mock.ExpectPing()

	assert.NoError(t, Check(context.Background(), db, nil))
}

func TestCheck_DatabaseDown(t *testing.T) {
	db, mock := newPingMock(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err := Check(context.Background(), db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mariadb")
}

func TestCheck_RedisDown(t *testing.T) {
	db, mock := newPingMock(t)
	mock.ExpectPing()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	mr.Close()

	err = Check(context.Background(), db, rdb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestNewRedis_InvalidURL(t *testing.T) {
	_, err := NewRedis(context.Background(), config.RedisConfig{URL: "not a url"})
	assert.Error(t, err)
}

func TestNewRedis_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedis(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	rdb.Close()
}
