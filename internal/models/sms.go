package models

import (
	"time"
)

// SMS webhook log statuses. A log leaves NO_MATCH at most once, when an
// admin manually resolves it; every other status is final.
const (
	SMSMatched        = "MATCHED"
	SMSManualMatch    = "MANUAL_MATCH"
	SMSNoMatch        = "NO_MATCH"
	SMSParseFailed    = "PARSE_FAILED"
	SMSExternalFailed = "EXTERNAL_FAILED"
	SMSRejected       = "REJECTED"
)

// SMSWebhookLog records one inbound bank-SMS deposit notification and the
// outcome of matching it against the system.
type SMSWebhookLog struct {
	ID            int64     `json:"id" db:"id"`
	RawMessage    string    `json:"raw_message" db:"raw_message"`
	MessageHash   string    `json:"message_hash" db:"message_hash"`
	ParsedData    string    `json:"parsed_data" db:"parsed_data"`
	Amount        int64     `json:"amount" db:"amount"`
	DestAccount   string    `json:"dest_account" db:"dest_account"`
	SourceAccount string    `json:"source_account" db:"source_account"`
	SourceBank    string    `json:"source_bank" db:"source_bank"`
	SourceName    string    `json:"source_name" db:"source_name"`
	MatchedUserID *int64    `json:"matched_user_id,omitempty" db:"matched_user_id"`
	TransactionID *string   `json:"transaction_id,omitempty" db:"transaction_id"`
	Status        string    `json:"status" db:"status"`
	ErrorMessage  string    `json:"error_message" db:"error_message"`
	MatchLevel    int       `json:"match_level" db:"match_level"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// BankAccount is an operator-owned deposit account players transfer into.
// Level-1 matching checks inbound SMS destinations against these.
type BankAccount struct {
	ID            int64  `json:"id" db:"id"`
	BankName      string `json:"bank_name" db:"bank_name"`
	AccountNumber string `json:"account_number" db:"account_number"`
	AccountName   string `json:"account_name" db:"account_name"`
	Type          string `json:"type" db:"type"`
	IsActive      bool   `json:"is_active" db:"is_active"`
}
