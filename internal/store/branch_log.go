package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ruralpay/tcc-account/internal/models"
)

// BranchLogStore persists tcc_transaction_log rows. (xid, branch_id) is unique, which is
// what makes concurrent first calls for the same branch serialize.
type BranchLogStore struct{}

func NewBranchLogStore() *BranchLogStore {
	return &BranchLogStore{}
}

const branchColumns = `id, xid, branch_id, user_id, amount, status, created_at, modified_at`

// InsertIfAbsent inserts log unless a row for its (xid, branch_id) already exists.
// On insert the generated id is written back to log.
func (s *BranchLogStore) InsertIfAbsent(ctx context.Context, q DBTX, log *models.TransactionLog) (bool, error) {
	err := q.QueryRowContext(ctx, `
		INSERT INTO tcc_transaction_log (xid, branch_id, user_id, amount, status, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (xid, branch_id) DO NOTHING
		RETURNING id`,
		log.XID, log.BranchID, log.UserID, log.Amount, log.Status, log.CreatedAt, log.ModifiedAt,
	).Scan(&log.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert branch %s/%d: %w", log.XID, log.BranchID, err)
	}
	return true, nil
}

// LockBranch reads the branch row and holds its lock until the transaction ends.
func (s *BranchLogStore) LockBranch(ctx context.Context, q DBTX, xid string, branchID int64) (*models.TransactionLog, error) {
	return scanBranch(q.QueryRowContext(ctx, `
		SELECT `+branchColumns+`
		FROM tcc_transaction_log
		WHERE xid = $1 AND branch_id = $2
		FOR UPDATE`, xid, branchID))
}

func (s *BranchLogStore) GetBranch(ctx context.Context, q DBTX, xid string, branchID int64) (*models.TransactionLog, error) {
	return scanBranch(q.QueryRowContext(ctx, `
		SELECT `+branchColumns+`
		FROM tcc_transaction_log
		WHERE xid = $1 AND branch_id = $2`, xid, branchID))
}

// UpdateStatus moves row id from one status to another. It refuses to touch a row that
// is no longer in from.
func (s *BranchLogStore) UpdateStatus(ctx context.Context, q DBTX, id int64, from, to models.BranchStatus) error {
	result, err := q.ExecContext(ctx, `
		UPDATE tcc_transaction_log
		SET status = $1, modified_at = $2
		WHERE id = $3 AND status = $4`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("update branch %d to %s: %w", id, to, err)
	}
	return checkAffected(result, ErrStaleStatus)
}

// StuckCursor is a keyset position in the (created_at, id) order of ListStuckTrying. The
// zero value starts from the oldest row.
type StuckCursor struct {
	CreatedAt time.Time
	ID        int64
}

// ListStuckTrying returns up to limit TRYING branches created before olderThan that sort
// after the cursor, oldest first.
func (s *BranchLogStore) ListStuckTrying(ctx context.Context, q DBTX, olderThan time.Time, after StuckCursor, limit int) ([]*models.TransactionLog, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+branchColumns+`
		FROM tcc_transaction_log
		WHERE status = $1 AND created_at < $2 AND (created_at, id) > ($3, $4)
		ORDER BY created_at ASC, id ASC
		LIMIT $5`, models.BranchTrying, olderThan, after.CreatedAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck branches: %w", err)
	}
	defer rows.Close()

	var branches []*models.TransactionLog
	for rows.Next() {
		var b models.TransactionLog
		if err := rows.Scan(&b.ID, &b.XID, &b.BranchID, &b.UserID, &b.Amount, &b.Status, &b.CreatedAt, &b.ModifiedAt); err != nil {
			return nil, err
		}
		branches = append(branches, &b)
	}
	return branches, rows.Err()
}

func scanBranch(row *sql.Row) (*models.TransactionLog, error) {
	var b models.TransactionLog
	err := row.Scan(&b.ID, &b.XID, &b.BranchID, &b.UserID, &b.Amount, &b.Status, &b.CreatedAt, &b.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBranchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
