package models

import (
	"time"
)

// Ledger identifies which of a user's two balances a mutation targets.
type Ledger string

const (
	LedgerMain  Ledger = "main"
	LedgerBonus Ledger = "bonus"
)

// Account is one player's money state. Balances are in satang.
// WalletUsername is the identity in the upstream gaming wallet; empty
// until the account has been provisioned there.
type Account struct {
	ID             int64     `json:"id" db:"id"`
	Username       string    `json:"username" db:"username"`
	FullName       string    `json:"full_name" db:"full_name"`
	Phone          string    `json:"phone" db:"phone"`
	BankName       string    `json:"bank_name" db:"bank_name"`
	BankAccount    string    `json:"bank_account" db:"bank_account"`
	Balance        int64     `json:"balance" db:"balance"`
	BonusBalance   int64     `json:"bonus_balance" db:"bonus_balance"`
	Version        int       `json:"version" db:"version"` // for optimistic locking
	WalletUsername string    `json:"wallet_username" db:"wallet_username"`
	Status         string    `json:"status" db:"status"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

const (
	AccountActive    = "ACTIVE"
	AccountSuspended = "SUSPENDED"
	AccountBanned    = "BANNED"
)

// Active reports whether the account may move money.
func (a *Account) Active() bool {
	return a.Status == AccountActive
}

// Provisioned reports whether the account has an external wallet identity.
func (a *Account) Provisioned() bool {
	return a.WalletUsername != ""
}

// BalanceOf returns the balance of the requested ledger.
func (a *Account) BalanceOf(ledger Ledger) int64 {
	if ledger == LedgerBonus {
		return a.BonusBalance
	}
	return a.Balance
}
