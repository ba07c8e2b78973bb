package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"
)

// BranchStatus is the persisted state of one TCC branch. The integer codes are stored
// in tcc_transaction_log.status and must not change.
type BranchStatus int

const (
	BranchTrying    BranchStatus = 0
	BranchConfirmed BranchStatus = 1
	BranchCancelled BranchStatus = 2
)

var branchStatusNames = map[BranchStatus]string{
	BranchTrying:    "TRYING",
	BranchConfirmed: "CONFIRMED",
	BranchCancelled: "CANCELLED",
}

func (s BranchStatus) String() string {
	if name, ok := branchStatusNames[s]; ok {
		return name
	}
	return "BranchStatus(" + strconv.Itoa(int(s)) + ")"
}

func (s BranchStatus) Valid() bool {
	_, ok := branchStatusNames[s]
	return ok
}

// ParseBranchStatus maps a stored code back to a status.
func ParseBranchStatus(code int64) (BranchStatus, error) {
	s := BranchStatus(code)
	if !s.Valid() {
		return 0, fmt.Errorf("unknown branch status code %d", code)
	}
	return s, nil
}

func (s BranchStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown branch status code %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *BranchStatus) UnmarshalText(text []byte) error {
	for status, name := range branchStatusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown branch status %q", string(text))
}

// Value implements driver.Valuer for BranchStatus
func (s BranchStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown branch status code %d", int(s))
	}
	return int64(s), nil
}

// Scan implements sql.Scanner for BranchStatus
func (s *BranchStatus) Scan(value any) error {
	var code int64
	switch v := value.(type) {
	case int64:
		code = v
	case int32:
		code = int64(v)
	case int:
		code = int64(v)
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("scan branch status: %w", err)
		}
		code = n
	case nil:
		return fmt.Errorf("scan branch status: NULL status")
	default:
		return fmt.Errorf("scan branch status: unsupported type %T", value)
	}

	parsed, err := ParseBranchStatus(code)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TransactionLog is one row of tcc_transaction_log: the state of a single branch of a
// global transaction. UserID and Amount record what Try froze so that Confirm and
// Cancel can settle exactly that amount.
type TransactionLog struct {
	ID         int64        `json:"id" db:"id"`
	XID        string       `json:"xid" db:"xid"`
	BranchID   int64        `json:"branchId" db:"branch_id"`
	UserID     string       `json:"userId" db:"user_id"`
	Amount     int64        `json:"amount" db:"amount"`
	Status     BranchStatus `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"createdAt" db:"created_at"`
	ModifiedAt time.Time    `json:"modifiedAt" db:"modified_at"`
}

// NewTransactionLog builds an unsaved log row for (xid, branchID) in the given status.
func NewTransactionLog(xid string, branchID int64, status BranchStatus) *TransactionLog {
	now := time.Now().UTC()
	return &TransactionLog{
		XID:        xid,
		BranchID:   branchID,
		Status:     status,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// IsNullCompensation reports whether the row is the placeholder Cancel writes for a
// branch whose Try never ran.
func (t *TransactionLog) IsNullCompensation() bool {
	return t.Status == BranchCancelled && t.UserID == "" && t.Amount == 0
}

// NewTryingLog builds the row Try inserts for a reservation of amount on userID.
func NewTryingLog(xid string, branchID int64, userID string, amount int64) *TransactionLog {
	log := NewTransactionLog(xid, branchID, BranchTrying)
	log.UserID = userID
	log.Amount = amount
	return log
}
