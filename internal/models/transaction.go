package models

import (
	"time"
)

// TxCategory is the ledger entry category. Direction is implied:
// deposits, bonuses, wins and cashback credit the balance, the rest debit it.
type TxCategory string

const (
	TxDeposit      TxCategory = "DEPOSIT"
	TxWithdraw     TxCategory = "WITHDRAW"
	TxManualAdd    TxCategory = "MANUAL_ADD"
	TxManualDeduct TxCategory = "MANUAL_DEDUCT"
	TxBonus        TxCategory = "BONUS"
	TxBet          TxCategory = "BET"
	TxWin          TxCategory = "WIN"
	TxCashback     TxCategory = "CASHBACK"
)

// Credit reports whether the category adds to the balance.
func (c TxCategory) Credit() bool {
	switch c {
	case TxDeposit, TxManualAdd, TxBonus, TxWin, TxCashback:
		return true
	}
	return false
}

// Mirrored reports whether a main-ledger mutation of this category must be
// reflected in the external wallet. Bets and wins already happen inside the
// upstream wallet, so only money moving in or out of the system mirrors.
func (c TxCategory) Mirrored() bool {
	switch c {
	case TxDeposit, TxWithdraw, TxManualAdd, TxManualDeduct:
		return true
	}
	return false
}

// Transaction statuses. A transaction transitions out of PENDING exactly
// once. A mutation that fails before commit persists nothing, so there is
// no failed terminal status.
const (
	TxPending   = "PENDING"
	TxCompleted = "COMPLETED"
	TxRejected  = "REJECTED"
)

// Transaction is an immutable record of one balance-affecting event.
// Amount is always a positive magnitude.
type Transaction struct {
	ID            string     `json:"id" db:"id"`
	UserID        int64      `json:"user_id" db:"user_id"`
	Type          TxCategory `json:"type" db:"type"`
	SubType       string     `json:"sub_type" db:"sub_type"`
	Ledger        Ledger     `json:"ledger" db:"ledger"`
	Amount        int64      `json:"amount" db:"amount"`
	BalanceBefore int64      `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64      `json:"balance_after" db:"balance_after"`
	Status        string     `json:"status" db:"status"`
	Note          string     `json:"note" db:"note"`
	AdminID       *int64     `json:"admin_id,omitempty" db:"admin_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// EditLog is an append-only field-level audit record.
type EditLog struct {
	ID         int64     `json:"id" db:"id"`
	TargetType string    `json:"target_type" db:"target_type"`
	TargetID   int64     `json:"target_id" db:"target_id"`
	Field      string    `json:"field" db:"field"`
	OldValue   string    `json:"old_value" db:"old_value"`
	NewValue   string    `json:"new_value" db:"new_value"`
	AdminID    int64     `json:"admin_id" db:"admin_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
