package services

import "errors"

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountInactive      = errors.New("account not active")
	ErrInsufficientFunds    = errors.New("insufficient balance")
	ErrWalletNotProvisioned = errors.New("external wallet not provisioned")
	ErrExternalTransfer     = errors.New("external transfer failed")
	ErrEntryNotFound        = errors.New("transaction not found")
	ErrAlreadyProcessed     = errors.New("transaction already processed")

	// ErrDivergence is the one unrecoverable class: the external wallet
	// applied a transfer but the local commit failed. The outbox keeps the
	// intent so the reconciler can finish the local side.
	ErrDivergence = errors.New("ledger divergence: external transfer applied, local commit failed")
)
