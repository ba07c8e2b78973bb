package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ruralpay/tcc-account/internal/models"
)

// LedgerStore reads and mutates account balances. Every mutation is guarded in SQL so
// that money and frozen_money can never go negative, even if a caller skipped the lock.
type LedgerStore struct{}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

const accountColumns = `id, user_id, money, frozen_money, updated_at`

// LockByUserID takes the row lock on the user's account for the rest of the transaction.
func (s *LedgerStore) LockByUserID(ctx context.Context, q DBTX, userID string) (*models.Account, error) {
	return s.scanAccount(q.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM account
		WHERE user_id = $1
		FOR UPDATE`, userID))
}

func (s *LedgerStore) GetByUserID(ctx context.Context, q DBTX, userID string) (*models.Account, error) {
	return s.scanAccount(q.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM account
		WHERE user_id = $1`, userID))
}

// Freeze moves amount from money to frozen_money.
func (s *LedgerStore) Freeze(ctx context.Context, q DBTX, accountID, amount int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE account
		SET money = money - $1, frozen_money = frozen_money + $1, updated_at = $2
		WHERE id = $3 AND money >= $1`,
		amount, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("freeze account %d: %w", accountID, err)
	}
	return checkAffected(result, ErrBalanceGuard)
}

// ConsumeFrozen permanently removes amount from frozen_money.
func (s *LedgerStore) ConsumeFrozen(ctx context.Context, q DBTX, accountID, amount int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE account
		SET frozen_money = frozen_money - $1, updated_at = $2
		WHERE id = $3 AND frozen_money >= $1`,
		amount, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("consume frozen on account %d: %w", accountID, err)
	}
	return checkAffected(result, ErrBalanceGuard)
}

// ReleaseFrozen moves amount from frozen_money back to money.
func (s *LedgerStore) ReleaseFrozen(ctx context.Context, q DBTX, accountID, amount int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE account
		SET money = money + $1, frozen_money = frozen_money - $1, updated_at = $2
		WHERE id = $3 AND frozen_money >= $1`,
		amount, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("release frozen on account %d: %w", accountID, err)
	}
	return checkAffected(result, ErrBalanceGuard)
}

func (s *LedgerStore) scanAccount(row *sql.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(&account.ID, &account.UserID, &account.Money, &account.FrozenMoney, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}
