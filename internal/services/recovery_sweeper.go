package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ruralpay/tcc-account/internal/audit"
	"github.com/ruralpay/tcc-account/internal/metrics"
	"github.com/ruralpay/tcc-account/internal/models"
	"github.com/ruralpay/tcc-account/internal/store"
	"github.com/sirupsen/logrus"
)

const sweepLockKey = "tcc:recovery-sweeper:lock"

// releaseLockScript deletes the lease only if it still carries our token, so a sweep that
// outlived its TTL cannot release a lease another instance now holds.
const releaseLockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// ErrSweepInProgress is returned when another sweep, local or on another instance, holds
// the sweep lease.
var ErrSweepInProgress = errors.New("recovery sweep already in progress")

// BranchCanceller is the part of the participant the sweeper drives.
type BranchCanceller interface {
	Cancel(ctx context.Context, xid string, branchID int64) error
}

type SweeperConfig struct {
	// RecoveryTimeout is how long a branch may stay TRYING before it is cancelled.
	RecoveryTimeout time.Duration
	SweepInterval   time.Duration
	StoreTimeout    time.Duration
	BatchSize       int
	// LockTTL bounds how long a crashed sweeper can keep others out.
	LockTTL time.Duration
}

type SweepReport struct {
	Cutoff    time.Time
	Scanned   int
	Cancelled int
	// Skipped counts branches that settled on their own between scan and cancel.
	Skipped int
	Failed  int
}

// RecoverySweeper cancels branches whose coordinator never sent Confirm or Cancel, so
// their frozen funds do not stay locked forever.
type RecoverySweeper struct {
	db        *sql.DB
	branches  *store.BranchLogStore
	canceller BranchCanceller
	redis     *redis.Client
	config    SweeperConfig
	log       *logrus.Logger
	audit     *audit.Logger
	metrics   *metrics.Metrics
	cron      *cron.Cron

	running  sync.Mutex
	now      func() time.Time
	newToken func() string
}

// NewRecoverySweeper builds a sweeper. redisClient may be nil, in which case only the
// in-process guard prevents overlapping sweeps.
func NewRecoverySweeper(db *sql.DB, canceller BranchCanceller, redisClient *redis.Client, cfg SweeperConfig, logger *logrus.Logger) *RecoverySweeper {
	cronLogger := cron.PrintfLogger(logger)

	return &RecoverySweeper{
		db:        db,
		branches:  store.NewBranchLogStore(),
		canceller: canceller,
		redis:     redisClient,
		config:    cfg,
		log:       logger,
		audit:     audit.NewLogger(logger),
		cron:      cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		now:       time.Now,
		newToken:  uuid.NewString,
	}
}

func (s *RecoverySweeper) WithMetrics(m *metrics.Metrics) *RecoverySweeper {
	s.metrics = m
	return s
}

// Start schedules Sweep every SweepInterval.
func (s *RecoverySweeper) Start() error {
	if s.config.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", s.config.SweepInterval)
	}

	schedule := "@every " + s.config.SweepInterval.String()
	if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
		return fmt.Errorf("schedule recovery sweep: %w", err)
	}

	s.cron.Start()
	s.log.WithFields(logrus.Fields{
		"schedule":         schedule,
		"recovery_timeout": s.config.RecoveryTimeout.String(),
	}).Info("recovery sweeper started")
	return nil
}

// Stop stops scheduling; the returned context is done once a running sweep has finished.
func (s *RecoverySweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *RecoverySweeper) runScheduled() {
	report, err := s.Sweep(context.Background())
	if errors.Is(err, ErrSweepInProgress) {
		s.log.Debug("recovery sweep skipped, another sweep holds the lease")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("recovery sweep failed")
		return
	}
	if report.Scanned > 0 {
		s.log.WithFields(logrus.Fields{
			"scanned":   report.Scanned,
			"cancelled": report.Cancelled,
			"skipped":   report.Skipped,
			"failed":    report.Failed,
		}).Info("recovery sweep finished")
	}
}

// Sweep cancels every branch that has been TRYING for longer than RecoveryTimeout. It
// pages through the backlog once; individual cancel failures are counted and left for
// the next sweep.
func (s *RecoverySweeper) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{}

	if !s.running.TryLock() {
		s.metrics.ObserveSweep("skipped", 0, 0)
		return report, ErrSweepInProgress
	}
	defer s.running.Unlock()

	release, err := s.acquireLease(ctx)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrSweepInProgress) {
			outcome = "skipped"
		}
		s.metrics.ObserveSweep(outcome, 0, 0)
		return report, err
	}
	defer release()

	report.Cutoff = s.now().Add(-s.config.RecoveryTimeout)

	var cursor store.StuckCursor
	for ctx.Err() == nil {
		batch, err := s.listStuck(ctx, report.Cutoff, cursor)
		if err != nil {
			s.metrics.ObserveSweep("error", report.Cancelled, report.Failed)
			return report, err
		}

		for _, branch := range batch {
			report.Scanned++

			err := s.canceller.Cancel(ctx, branch.XID, branch.BranchID)
			switch {
			case err == nil:
				report.Cancelled++
				s.log.WithFields(logrus.Fields{
					"xid":       branch.XID,
					"branch_id": branch.BranchID,
					"user_id":   branch.UserID,
					"amount":    branch.Amount,
					"age":       s.now().Sub(branch.CreatedAt).Round(time.Second).String(),
				}).Warn("cancelled branch stuck in TRYING")
				s.audit.LogBranch(audit.EventSweepCancel, branch.XID, branch.BranchID, branch.UserID, branch.Amount, ResultOK.String())
			case errors.Is(err, ErrInvalidTransition):
				// Confirmed by the coordinator after we listed it.
				report.Skipped++
			default:
				report.Failed++
				s.log.WithError(err).WithFields(logrus.Fields{
					"xid":       branch.XID,
					"branch_id": branch.BranchID,
				}).Error("failed to cancel stuck branch")
			}
		}

		if len(batch) < s.config.BatchSize {
			break
		}
		// Failed rows stay TRYING; page past them so they cannot hide the rows behind.
		last := batch[len(batch)-1]
		cursor = store.StuckCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	s.metrics.ObserveSweep("completed", report.Cancelled, report.Failed)
	return report, ctx.Err()
}

func (s *RecoverySweeper) listStuck(ctx context.Context, cutoff time.Time, after store.StuckCursor) ([]*models.TransactionLog, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	branches, err := s.branches.ListStuckTrying(ctx, s.db, cutoff, after, s.config.BatchSize)
	if err != nil {
		return nil, storeUnavailable("list stuck branches", err)
	}
	return branches, nil
}

func (s *RecoverySweeper) acquireLease(ctx context.Context) (func(), error) {
	if s.redis == nil {
		return func() {}, nil
	}

	token := s.newToken()
	acquired, err := s.redis.SetNX(ctx, sweepLockKey, token, s.config.LockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire sweep lease: %w", err)
	}
	if !acquired {
		return nil, ErrSweepInProgress
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
		defer cancel()
		if err := s.redis.Eval(ctx, releaseLockScript, []string{sweepLockKey}, token).Err(); err != nil {
			s.log.WithError(err).Warn("failed to release sweep lease, it will expire on its own")
		}
	}, nil
}
