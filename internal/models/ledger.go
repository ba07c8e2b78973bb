package models

import (
	"time"
)

// Account holds a user's balance. Money is what the user can spend, FrozenMoney is what
// in-flight TCC branches have reserved. Both are in minor currency units.
type Account struct {
	ID          int64     `json:"id" db:"id"`
	UserID      string    `json:"userId" db:"user_id"`
	Money       int64     `json:"money" db:"money"`
	FrozenMoney int64     `json:"frozenMoney" db:"frozen_money"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}
