package store

import (
	"context"
	"database/sql"
	"errors"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so store methods can run inside or
// outside a caller-owned transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrBranchNotFound  = errors.New("branch not found")

	// ErrBalanceGuard means a guarded balance update matched no row: the amounts it
	// was computed from no longer hold.
	ErrBalanceGuard = errors.New("balance guard rejected update")

	// ErrStaleStatus means a conditional status update found the row in a different state.
	ErrStaleStatus = errors.New("branch status changed concurrently")
)

func checkAffected(result sql.Result, guardErr error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return guardErr
	}
	return nil
}
