package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ruralpay/tcc-account/internal/audit"
	"github.com/ruralpay/tcc-account/internal/metrics"
	"github.com/ruralpay/tcc-account/internal/models"
	"github.com/ruralpay/tcc-account/internal/store"
	"github.com/sirupsen/logrus"
)

// Phase names used in logs and metrics.
const (
	PhaseTry     = "try"
	PhaseConfirm = "confirm"
	PhaseCancel  = "cancel"
)

// TCCParticipant is the resource-manager side of a TCC global transaction for account
// balances. Each call runs as a single local transaction over the account row and the
// branch log row, so a branch's ledger effect and its status always commit together.
//
// Locks are always taken branch row first, account row second.
type TCCParticipant struct {
	db           *sql.DB
	ledger       *store.LedgerStore
	branches     *store.BranchLogStore
	audit        *audit.Logger
	metrics      *metrics.Metrics
	log          *logrus.Logger
	storeTimeout time.Duration
}

func NewTCCParticipant(db *sql.DB, logger *logrus.Logger, storeTimeout time.Duration) *TCCParticipant {
	return &TCCParticipant{
		db:           db,
		ledger:       store.NewLedgerStore(),
		branches:     store.NewBranchLogStore(),
		audit:        audit.NewLogger(logger),
		log:          logger,
		storeTimeout: storeTimeout,
	}
}

// WithMetrics attaches a metrics sink.
func (p *TCCParticipant) WithMetrics(m *metrics.Metrics) *TCCParticipant {
	p.metrics = m
	return p
}

// outcome carries what an operation did, for audit.
type outcome struct {
	event  string
	userID string
	amount int64
	replay bool
}

// Try reserves amount on userID's account for branch (xid, branchID). A repeated Try for
// a branch that already ran succeeds without touching the ledger again, even if the branch
// has since been confirmed or cancelled. A Try arriving after a Cancel that found no Try
// is refused.
func (p *TCCParticipant) Try(ctx context.Context, xid string, branchID int64, userID string, amount int64) error {
	start := time.Now()
	out := outcome{event: audit.EventTry, userID: userID, amount: amount}

	err := p.try(ctx, xid, branchID, userID, amount, &out)
	p.finish(ctx, PhaseTry, xid, branchID, start, out, err)
	return err
}

func (p *TCCParticipant) try(ctx context.Context, xid string, branchID int64, userID string, amount int64, out *outcome) error {
	if err := validateXID(xid); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidRequest, amount)
	}

	return p.inTx(ctx, PhaseTry, func(ctx context.Context, tx *sql.Tx) error {
		inserted, err := p.branches.InsertIfAbsent(ctx, tx, models.NewTryingLog(xid, branchID, userID, amount))
		if err != nil {
			return err
		}

		if !inserted {
			existing, err := p.branches.GetBranch(ctx, tx, xid, branchID)
			if err != nil {
				return err
			}
			out.replay = true

			if existing.IsNullCompensation() {
				return fmt.Errorf("%w: branch %s/%d was cancelled before try", ErrInvalidTransition, xid, branchID)
			}
			// The original Try ran; whatever happened since, its outcome was OK.
			if existing.UserID != userID || existing.Amount != amount {
				return fmt.Errorf("%w: branch %s/%d was tried for %s/%d", ErrInvalidRequest, xid, branchID, existing.UserID, existing.Amount)
			}
			return nil
		}

		account, err := p.ledger.LockByUserID(ctx, tx, userID)
		if errors.Is(err, store.ErrAccountNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
		}
		if err != nil {
			return err
		}

		if account.Money < amount {
			return fmt.Errorf("%w: available %d, requested %d", ErrInsufficientFunds, account.Money, amount)
		}

		return p.ledger.Freeze(ctx, tx, account.ID, amount)
	})
}

// Confirm permanently consumes the amount Try froze. Confirming a confirmed branch is a
// no-op; confirming a cancelled one is an invalid transition. Confirm before Try is
// rejected with ErrUnknownBranch.
func (p *TCCParticipant) Confirm(ctx context.Context, xid string, branchID int64) error {
	start := time.Now()
	out := outcome{event: audit.EventConfirm}

	err := p.confirm(ctx, xid, branchID, &out)
	p.finish(ctx, PhaseConfirm, xid, branchID, start, out, err)
	return err
}

func (p *TCCParticipant) confirm(ctx context.Context, xid string, branchID int64, out *outcome) error {
	if err := validateXID(xid); err != nil {
		return err
	}

	return p.inTx(ctx, PhaseConfirm, func(ctx context.Context, tx *sql.Tx) error {
		branch, err := p.branches.LockBranch(ctx, tx, xid, branchID)
		if errors.Is(err, store.ErrBranchNotFound) {
			return fmt.Errorf("%w: %s/%d has no try record", ErrUnknownBranch, xid, branchID)
		}
		if err != nil {
			return err
		}
		out.userID, out.amount = branch.UserID, branch.Amount

		switch branch.Status {
		case models.BranchConfirmed:
			out.replay = true
			return nil
		case models.BranchCancelled:
			p.audit.LogInvariantViolation(xid, branchID, branch.Status.String(), models.BranchConfirmed.String())
			return fmt.Errorf("%w: %s/%d is %s", ErrInvalidTransition, xid, branchID, branch.Status)
		}

		return p.settle(ctx, tx, branch, models.BranchConfirmed)
	})
}

// Cancel returns the amount Try froze to the available balance. Cancelling a branch that
// never ran Try records a CANCELLED placeholder so a late Try is refused.
func (p *TCCParticipant) Cancel(ctx context.Context, xid string, branchID int64) error {
	start := time.Now()
	out := outcome{event: audit.EventCancel}

	err := p.cancel(ctx, xid, branchID, &out)
	p.finish(ctx, PhaseCancel, xid, branchID, start, out, err)
	return err
}

func (p *TCCParticipant) cancel(ctx context.Context, xid string, branchID int64, out *outcome) error {
	if err := validateXID(xid); err != nil {
		return err
	}

	return p.inTx(ctx, PhaseCancel, func(ctx context.Context, tx *sql.Tx) error {
		branch, err := p.branches.LockBranch(ctx, tx, xid, branchID)
		if errors.Is(err, store.ErrBranchNotFound) {
			var inserted bool
			inserted, err = p.branches.InsertIfAbsent(ctx, tx, models.NewTransactionLog(xid, branchID, models.BranchCancelled))
			if err != nil {
				return err
			}
			if inserted {
				out.event = audit.EventNullCompensation
				return nil
			}
			// A concurrent Try committed first; cancel what it froze.
			branch, err = p.branches.LockBranch(ctx, tx, xid, branchID)
		}
		if err != nil {
			return err
		}
		out.userID, out.amount = branch.UserID, branch.Amount

		switch branch.Status {
		case models.BranchCancelled:
			out.replay = true
			return nil
		case models.BranchConfirmed:
			p.audit.LogInvariantViolation(xid, branchID, branch.Status.String(), models.BranchCancelled.String())
			return fmt.Errorf("%w: %s/%d is %s", ErrInvalidTransition, xid, branchID, branch.Status)
		}

		return p.settle(ctx, tx, branch, models.BranchCancelled)
	})
}

// settle applies the second phase to a TRYING branch whose row lock is held.
func (p *TCCParticipant) settle(ctx context.Context, tx *sql.Tx, branch *models.TransactionLog, to models.BranchStatus) error {
	account, err := p.ledger.LockByUserID(ctx, tx, branch.UserID)
	if errors.Is(err, store.ErrAccountNotFound) {
		return fmt.Errorf("%w: %s holds branch %s/%d", ErrAccountNotFound, branch.UserID, branch.XID, branch.BranchID)
	}
	if err != nil {
		return err
	}

	if to == models.BranchConfirmed {
		err = p.ledger.ConsumeFrozen(ctx, tx, account.ID, branch.Amount)
	} else {
		err = p.ledger.ReleaseFrozen(ctx, tx, account.ID, branch.Amount)
	}
	if err != nil {
		return err
	}

	return p.branches.UpdateStatus(ctx, tx, branch.ID, models.BranchTrying, to)
}

// Branch returns the stored log row for (xid, branchID).
func (p *TCCParticipant) Branch(ctx context.Context, xid string, branchID int64) (*models.TransactionLog, error) {
	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	branch, err := p.branches.GetBranch(ctx, p.db, xid, branchID)
	if errors.Is(err, store.ErrBranchNotFound) {
		return nil, fmt.Errorf("%w: %s/%d", ErrUnknownBranch, xid, branchID)
	}
	if err != nil {
		return nil, storeUnavailable("get branch", err)
	}
	return branch, nil
}

// Account returns the current balances for userID.
func (p *TCCParticipant) Account(ctx context.Context, userID string) (*models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	account, err := p.ledger.GetByUserID(ctx, p.db, userID)
	if errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, storeUnavailable("get account", err)
	}
	return account, nil
}

// inTx runs fn in one database transaction bounded by the store timeout. Domain errors
// from fn pass through unchanged; everything else becomes ErrStoreUnavailable. fn's
// writes are rolled back on any error.
func (p *TCCParticipant) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return storeUnavailable(op+": begin", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		if isDomainError(err) {
			return err
		}
		return storeUnavailable(op, err)
	}

	if err := tx.Commit(); err != nil {
		return storeUnavailable(op+": commit", err)
	}
	return nil
}

func (p *TCCParticipant) finish(ctx context.Context, phase, xid string, branchID int64, start time.Time, out outcome, err error) {
	result := ResultOf(err)
	p.metrics.ObserveOperation(phase, result.String(), time.Since(start))

	entry := p.log.WithFields(logrus.Fields{
		"phase":     phase,
		"xid":       xid,
		"branch_id": branchID,
		"result":    result.String(),
		"replay":    out.replay,
		"elapsed":   time.Since(start).String(),
	})
	if caller, ok := CallerFrom(ctx); ok {
		entry = entry.WithField("caller", caller)
	}

	switch result {
	case ResultOK:
		entry.Debug("tcc branch call completed")
		if !out.replay {
			p.audit.LogBranch(out.event, xid, branchID, out.userID, out.amount, result.String())
		}
	case ResultStoreUnavailable:
		entry.WithError(err).Error("tcc branch call failed")
		p.audit.LogError(out.event, xid, branchID, err)
	default:
		entry.WithError(err).Info("tcc branch call rejected")
		p.audit.LogBranch(out.event, xid, branchID, out.userID, out.amount, result.String())
	}
}

func validateXID(xid string) error {
	if xid == "" {
		return fmt.Errorf("%w: xid is required", ErrInvalidRequest)
	}
	return nil
}
