package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruralpay/tcc-account/internal/audit"
	"github.com/ruralpay/tcc-account/internal/metrics"
	"github.com/ruralpay/tcc-account/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const listStuckSQL = "SELECT (.+) FROM tcc_transaction_log WHERE status = \\$1 AND created_at < \\$2 AND \\(created_at, id\\) > \\(\\$3, \\$4\\) ORDER BY created_at ASC, id ASC LIMIT \\$5"

var sweepNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func testSweeperConfig() SweeperConfig {
	return SweeperConfig{
		RecoveryTimeout: 60 * time.Second,
		SweepInterval:   30 * time.Second,
		StoreTimeout:    time.Second,
		BatchSize:       100,
		LockTTL:         2 * time.Minute,
	}
}

func newTestSweeper(t *testing.T, canceller BranchCanceller, redisClient *redis.Client, cfg SweeperConfig) (*RecoverySweeper, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, _ := test.NewNullLogger()
	sweeper := NewRecoverySweeper(db, canceller, redisClient, cfg, logger)
	sweeper.now = func() time.Time { return sweepNow }
	sweeper.newToken = func() string { return "lease-token" }
	return sweeper, mock
}

func stuckRows(branches ...*models.TransactionLog) *sqlmock.Rows {
	rows := sqlmock.NewRows(branchCols)
	for _, b := range branches {
		rows.AddRow(b.ID, b.XID, b.BranchID, b.UserID, b.Amount, int64(b.Status), b.CreatedAt, b.ModifiedAt)
	}
	return rows
}

func stuckBranch(id int64, xid string, branchID int64, age time.Duration) *models.TransactionLog {
	created := sweepNow.Add(-age)
	return &models.TransactionLog{
		ID: id, XID: xid, BranchID: branchID, UserID: "user-1", Amount: 150,
		Status: models.BranchTrying, CreatedAt: created, ModifiedAt: created,
	}
}

// Scenario: with a 60s recovery timeout, a branch left TRYING for 61s is cancelled and
// its frozen funds are released.
func TestRecoverySweeper_CancelsStuckBranch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, hook := test.NewNullLogger()
	participant := NewTCCParticipant(db, logger, time.Second)
	sweeper := NewRecoverySweeper(db, participant, nil, testSweeperConfig(), logger)
	sweeper.now = func() time.Time { return sweepNow }

	cutoff := sweepNow.Add(-60 * time.Second)
	mock.ExpectQuery(listStuckSQL).
		WithArgs(int64(models.BranchTrying), cutoff, time.Time{}, 0, 100).
		WillReturnRows(stuckRows(stuckBranch(21, "F", 6, 61*time.Second)))

	mock.ExpectBegin()
	mock.ExpectQuery(lockBranchSQL).WithArgs("F", 6).
		WillReturnRows(branchRow(21, "F", 6, "user-1", 150, models.BranchTrying))
	mock.ExpectQuery(lockAccountSQL).WithArgs("user-1").WillReturnRows(accountRow(7, "user-1", 850, 150))
	mock.ExpectExec(releaseFrozenSQL).WithArgs(150, sqlmock.AnyArg(), 7).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateBranchSQL).WithArgs(int64(models.BranchCancelled), sqlmock.AnyArg(), 21, int64(models.BranchTrying)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cutoff, report.Cutoff)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, 0, report.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{audit.EventCancel, audit.EventSweepCancel}, auditEvents(hook))
}

func TestRecoverySweeper_NothingStuck(t *testing.T) {
	canceller := &MockCanceller{}
	sweeper, sqlMock := newTestSweeper(t, canceller, nil, testSweeperConfig())

	sqlMock.ExpectQuery(listStuckSQL).WillReturnRows(stuckRows())

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	canceller.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecoverySweeper_ContinuesAfterFailure(t *testing.T) {
	canceller := &MockCanceller{}
	canceller.On("Cancel", mock.Anything, "G", int64(7)).Return(storeUnavailable("cancel", errors.New("lock timeout")))
	canceller.On("Cancel", mock.Anything, "H", int64(8)).Return(nil)
	canceller.On("Cancel", mock.Anything, "I", int64(9)).Return(ErrInvalidTransition)

	sweeper, sqlMock := newTestSweeper(t, canceller, nil, testSweeperConfig())
	sqlMock.ExpectQuery(listStuckSQL).WillReturnRows(stuckRows(
		stuckBranch(1, "G", 7, 5*time.Minute),
		stuckBranch(2, "H", 8, 4*time.Minute),
		stuckBranch(3, "I", 9, 3*time.Minute),
	))

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Failed)
	canceller.AssertExpectations(t)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRecoverySweeper_Batches(t *testing.T) {
	cfg := testSweeperConfig()
	cfg.BatchSize = 2

	canceller := &MockCanceller{}
	canceller.On("Cancel", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	first := []*models.TransactionLog{stuckBranch(1, "J", 1, time.Hour), stuckBranch(2, "J", 2, time.Hour)}

	sweeper, sqlMock := newTestSweeper(t, canceller, nil, cfg)
	sqlMock.ExpectQuery(listStuckSQL).WithArgs(int64(models.BranchTrying), sqlmock.AnyArg(), time.Time{}, 0, 2).
		WillReturnRows(stuckRows(first...))
	sqlMock.ExpectQuery(listStuckSQL).WithArgs(int64(models.BranchTrying), sqlmock.AnyArg(), first[1].CreatedAt, 2, 2).
		WillReturnRows(stuckRows(stuckBranch(3, "K", 1, time.Hour)))

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Cancelled)
	canceller.AssertNumberOfCalls(t, "Cancel", 3)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

// A full batch of branches that fail to cancel every time must not hide the stuck
// branches listed after them.
func TestRecoverySweeper_PagesPastFailingBranches(t *testing.T) {
	cfg := testSweeperConfig()
	cfg.BatchSize = 2

	canceller := &MockCanceller{}
	canceller.On("Cancel", mock.Anything, "P", mock.Anything).Return(fmt.Errorf("%w: user-gone", ErrAccountNotFound))
	canceller.On("Cancel", mock.Anything, "Q", int64(1)).Return(nil)

	poisoned := []*models.TransactionLog{stuckBranch(1, "P", 1, 2*time.Hour), stuckBranch(2, "P", 2, 2*time.Hour)}

	sweeper, sqlMock := newTestSweeper(t, canceller, nil, cfg)
	sqlMock.ExpectQuery(listStuckSQL).WithArgs(int64(models.BranchTrying), sqlmock.AnyArg(), time.Time{}, 0, 2).
		WillReturnRows(stuckRows(poisoned...))
	sqlMock.ExpectQuery(listStuckSQL).WithArgs(int64(models.BranchTrying), sqlmock.AnyArg(), poisoned[1].CreatedAt, 2, 2).
		WillReturnRows(stuckRows(stuckBranch(3, "Q", 1, time.Hour)))

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Cancelled)
	canceller.AssertCalled(t, "Cancel", mock.Anything, "Q", int64(1))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRecoverySweeper_ListFailure(t *testing.T) {
	sweeper, sqlMock := newTestSweeper(t, &MockCanceller{}, nil, testSweeperConfig())
	sqlMock.ExpectQuery(listStuckSQL).WillReturnError(errors.New("connection refused"))

	_, err := sweeper.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRecoverySweeper_SingleActiveSweep(t *testing.T) {
	t.Run("in-process guard", func(t *testing.T) {
		sweeper, sqlMock := newTestSweeper(t, &MockCanceller{}, nil, testSweeperConfig())

		sweeper.running.Lock()
		_, err := sweeper.Sweep(context.Background())
		sweeper.running.Unlock()

		assert.ErrorIs(t, err, ErrSweepInProgress)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("lease held elsewhere", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		redisMock.ExpectSetNX(sweepLockKey, "lease-token", 2*time.Minute).SetVal(false)

		sweeper, sqlMock := newTestSweeper(t, &MockCanceller{}, redisClient, testSweeperConfig())

		_, err := sweeper.Sweep(context.Background())
		assert.ErrorIs(t, err, ErrSweepInProgress)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("lease acquired and released", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		redisMock.ExpectSetNX(sweepLockKey, "lease-token", 2*time.Minute).SetVal(true)
		redisMock.ExpectEval(releaseLockScript, []string{sweepLockKey}, "lease-token").SetVal(int64(1))

		sweeper, sqlMock := newTestSweeper(t, &MockCanceller{}, redisClient, testSweeperConfig())
		sqlMock.ExpectQuery(listStuckSQL).WillReturnRows(stuckRows())

		_, err := sweeper.Sweep(context.Background())
		require.NoError(t, err)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("lease store unreachable", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		redisMock.ExpectSetNX(sweepLockKey, "lease-token", 2*time.Minute).SetErr(errors.New("dial tcp: connection refused"))

		sweeper, _ := newTestSweeper(t, &MockCanceller{}, redisClient, testSweeperConfig())

		_, err := sweeper.Sweep(context.Background())
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrSweepInProgress)
	})
}

func TestRecoverySweeper_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	canceller := &MockCanceller{}
	canceller.On("Cancel", mock.Anything, "M", int64(1)).Return(nil)

	sweeper, sqlMock := newTestSweeper(t, canceller, nil, testSweeperConfig())
	sweeper.WithMetrics(metrics.New(registry))
	sqlMock.ExpectQuery(listStuckSQL).WillReturnRows(stuckRows(stuckBranch(1, "M", 1, time.Hour)))

	_, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(registry, "tcc_sweeps_total", "tcc_sweep_cancelled_branches_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecoverySweeper_StartStop(t *testing.T) {
	cfg := testSweeperConfig()
	cfg.SweepInterval = 0
	sweeper, _ := newTestSweeper(t, &MockCanceller{}, nil, cfg)
	assert.Error(t, sweeper.Start())

	sweeper, _ = newTestSweeper(t, &MockCanceller{}, nil, testSweeperConfig())
	require.NoError(t, sweeper.Start())
	assert.Len(t, sweeper.cron.Entries(), 1)

	stopped := sweeper.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
