package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS account (.+) CREATE TABLE IF NOT EXISTS tcc_transaction_log").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS account").WillReturnError(errors.New("permission denied"))

	err = EnsureSchema(context.Background(), db)
	assert.ErrorContains(t, err, "apply schema")
}

func TestSchemaGuardsBalances(t *testing.T) {
	assert.Contains(t, schema, "CHECK (money >= 0)")
	assert.Contains(t, schema, "CHECK (frozen_money >= 0)")
	assert.Contains(t, schema, "UNIQUE (xid, branch_id)")
}
