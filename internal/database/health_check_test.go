package database

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerWithSQL(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	logger, hook := test.NewNullLogger()
	checker := NewHealthChecker(SQLPinger(db), "postgres", logger)

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)
	assert.Error(t, checker.Check(context.Background()))
	assert.False(t, checker.IsHealthy())
	assert.NotEmpty(t, checker.Status().LastError)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	mock.ExpectPing()
	require.NoError(t, checker.Check(context.Background()))
	assert.True(t, checker.IsHealthy())
	assert.Empty(t, checker.Status().LastError)
	assert.Equal(t, "Store connection healthy", hook.LastEntry().Message)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// flakyPinger 前 failures 次失败
type flakyPinger struct {
	failures int32
	calls    atomic.Int32
}

func (p *flakyPinger) Ping(ctx context.Context) error {
	if p.calls.Add(1) <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitForHealthy(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pinger := &flakyPinger{failures: 2}
	checker := NewHealthChecker(pinger, "mongo", logger)

	err := checker.WaitForHealthy(context.Background(), time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int32(3), pinger.calls.Load())
	assert.Equal(t, "mongo", checker.Status().Backend)
}

func TestWaitForHealthyTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	checker := NewHealthChecker(&flakyPinger{failures: 1 << 20}, "mongo", logger)

	err := checker.WaitForHealthy(context.Background(), 50*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, checker.IsHealthy())
}

func TestWaitForHealthyDefaultTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	checker := NewHealthChecker(&flakyPinger{}, "memory", logger)

	require.NoError(t, checker.WaitForHealthy(context.Background(), 0, 10*time.Millisecond))
	assert.True(t, checker.IsHealthy())
}
