package audit

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Event types written to the audit stream.
const (
	EventTry                = "TCC_TRY"
	EventConfirm            = "TCC_CONFIRM"
	EventCancel             = "TCC_CANCEL"
	EventNullCompensation   = "TCC_NULL_COMPENSATION"
	EventInvariantViolation = "TCC_INVARIANT_VIOLATION"
	EventSweepCancel        = "TCC_SWEEP_CANCEL"
)

type AuditEvent struct {
	Timestamp time.Time
	EventType string
	XID       string
	BranchID  int64
	UserID    string
	Amount    int64
	Result    string
	Details   map[string]any
}

// Logger writes audit events as structured log entries tagged audit=true so they can be
// routed separately from application logs.
type Logger struct {
	log *logrus.Logger
}

func NewLogger(log *logrus.Logger) *Logger {
	return &Logger{log: log}
}

// LogBranch records the outcome of one Try, Confirm or Cancel call.
func (a *Logger) LogBranch(eventType, xid string, branchID int64, userID string, amount int64, result string) {
	a.write(logrus.InfoLevel, AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		XID:       xid,
		BranchID:  branchID,
		UserID:    userID,
		Amount:    amount,
		Result:    result,
	})
}

// LogInvariantViolation records a coordinator asking for a transition the branch state
// machine forbids, e.g. Confirm after Cancel.
func (a *Logger) LogInvariantViolation(xid string, branchID int64, current, requested string) {
	a.write(logrus.WarnLevel, AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventInvariantViolation,
		XID:       xid,
		BranchID:  branchID,
		Result:    "InvalidTransition",
		Details: map[string]any{
			"current_status":    current,
			"requested_outcome": requested,
		},
	})
}

func (a *Logger) LogError(eventType, xid string, branchID int64, err error) {
	a.write(logrus.ErrorLevel, AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		XID:       xid,
		BranchID:  branchID,
		Result:    "FAILED",
		Details:   map[string]any{"error": err.Error()},
	})
}

func (a *Logger) write(level logrus.Level, event AuditEvent) {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": event.EventType,
		"xid":        event.XID,
		"branch_id":  event.BranchID,
		"result":     event.Result,
		"event_time": event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if event.Amount != 0 {
		fields["amount"] = event.Amount
	}
	for k, v := range event.Details {
		fields[k] = v
	}
	a.log.WithFields(fields).Log(level, "AUDIT")
}
