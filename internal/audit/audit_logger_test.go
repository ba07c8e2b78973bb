package audit

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LogBranch(t *testing.T) {
	base, hook := test.NewNullLogger()
	logger := NewLogger(base)

	logger.LogBranch(EventTry, "xid-A", 1, "user-1", 200, "OK")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "AUDIT", entry.Message)
	assert.Equal(t, true, entry.Data["audit"])
	assert.Equal(t, EventTry, entry.Data["event_type"])
	assert.Equal(t, "xid-A", entry.Data["xid"])
	assert.Equal(t, int64(1), entry.Data["branch_id"])
	assert.Equal(t, "user-1", entry.Data["user_id"])
	assert.Equal(t, int64(200), entry.Data["amount"])
	assert.Equal(t, "OK", entry.Data["result"])
}

func TestLogger_LogBranchOmitsEmptyFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	NewLogger(base).LogBranch(EventNullCompensation, "xid-D", 4, "", 0, "OK")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.NotContains(t, entry.Data, "user_id")
	assert.NotContains(t, entry.Data, "amount")
}

func TestLogger_LogInvariantViolation(t *testing.T) {
	base, hook := test.NewNullLogger()
	NewLogger(base).LogInvariantViolation("xid-A", 1, "CANCELLED", "CONFIRMED")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, EventInvariantViolation, entry.Data["event_type"])
	assert.Equal(t, "CANCELLED", entry.Data["current_status"])
	assert.Equal(t, "CONFIRMED", entry.Data["requested_outcome"])
}

func TestLogger_LogError(t *testing.T) {
	base, hook := test.NewNullLogger()
	NewLogger(base).LogError(EventConfirm, "xid-A", 1, errors.New("store down"))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "store down", entry.Data["error"])
	assert.Equal(t, "FAILED", entry.Data["result"])
}
