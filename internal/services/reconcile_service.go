package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/chokdee888/backend/internal/audit"
	"github.com/chokdee888/backend/internal/config"
	"github.com/chokdee888/backend/internal/models"
)

const smsDedupKeyPrefix = "sms:hash:"

// IngestResult is what the webhook reports back to the SMS forwarder.
type IngestResult struct {
	Status        string `json:"status"`
	MatchLevel    int    `json:"match_level"`
	LogID         int64  `json:"log_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	UserID        int64  `json:"user_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ReconcileService turns inbound bank-SMS notifications into settled
// deposits. Matching runs three levels: the destination account must be an
// operator deposit account, the source account must belong to a registered
// user, and the sender's bank must agree with that user's registration.
type ReconcileService struct {
	db     *sql.DB
	rdb    *redis.Client
	ledger *LedgerService
	gate   *audit.Gate
	cfg    *config.MatcherConfig
}

func NewReconcileService(db *sql.DB, rdb *redis.Client, ledger *LedgerService, gate *audit.Gate, cfg *config.MatcherConfig) *ReconcileService {
	return &ReconcileService{db: db, rdb: rdb, ledger: ledger, gate: gate, cfg: cfg}
}

// Ingest processes one raw SMS end to end: dedup, parse, match, settle.
// It never returns an error for business outcomes; those are statuses in
// the result. Errors are infrastructure failures only.
func (r *ReconcileService) Ingest(ctx context.Context, message string) (*IngestResult, error) {
	hash := MessageHash(message)

	if r.rdb != nil {
		seen, err := r.rdb.Exists(ctx, smsDedupKeyPrefix+hash).Result()
		if err != nil {
			// Redis down: fall through to the database check.
			log.Printf("[SMS] Dedup fast path unavailable: %v", err)
		} else if seen > 0 {
			return &IngestResult{Status: "DUPLICATE", Reason: "message already processed"}, nil
		}
	}

	var existingID int64
	err := r.db.QueryRow(`SELECT id FROM sms_webhook_logs WHERE message_hash = $1`, hash).Scan(&existingID)
	if err == nil {
		return &IngestResult{Status: "DUPLICATE", LogID: existingID, Reason: "message already processed"}, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	parsed := ParseBankSMS(message)
	if parsed == nil {
		logID, err := r.insertLog(ctx, &models.SMSWebhookLog{
			RawMessage:   message,
			MessageHash:  hash,
			Status:       models.SMSParseFailed,
			ErrorMessage: "unrecognized SMS format",
		})
		if err != nil {
			return nil, err
		}
		return &IngestResult{Status: models.SMSParseFailed, LogID: logID}, nil
	}

	entry := logFromParsed(message, hash, parsed)

	// Level 1: the money must have landed in one of our deposit accounts.
	operatorAccount, err := r.matchOperatorAccount(parsed.DestAccountLast4)
	if err != nil {
		return nil, err
	}
	if operatorAccount == nil {
		entry.Status = models.SMSNoMatch
		entry.MatchLevel = 0
		entry.ErrorMessage = fmt.Sprintf("destination x%s is not an operator deposit account", parsed.DestAccountLast4)
		return r.finishNoMatch(ctx, entry)
	}

	// Level 2: the sender's account must belong to a registered user.
	user, err := r.matchUserAccount(parsed.SourceAccountLast4)
	if err != nil {
		return nil, err
	}
	if user == nil {
		entry.Status = models.SMSNoMatch
		entry.MatchLevel = 1
		entry.ErrorMessage = fmt.Sprintf("no active user with bank account ending %s", parsed.SourceAccountLast4)
		return r.finishNoMatch(ctx, entry)
	}

	// Level 3: the sending bank must agree with the user's registration.
	if !MatchBankName(parsed.SourceBank, user.BankName) {
		entry.Status = models.SMSNoMatch
		entry.MatchLevel = 2
		entry.MatchedUserID = &user.ID
		entry.ErrorMessage = fmt.Sprintf("bank mismatch: SMS=%s, user=%s", parsed.SourceBank, user.BankName)
		return r.finishNoMatch(ctx, entry)
	}

	log.Printf("[SMS] Matched deposit: user=%s amount=%d bank=%s", user.Username, parsed.Amount, parsed.SourceBank)

	tx, err := r.settleMatched(ctx, user, parsed)
	entry.MatchedUserID = &user.ID
	if err != nil {
		entry.Status = models.SMSExternalFailed
		entry.MatchLevel = 3
		entry.ErrorMessage = err.Error()
		logID, logErr := r.insertLog(ctx, entry)
		if logErr != nil {
			return nil, logErr
		}
		return &IngestResult{
			Status:     models.SMSExternalFailed,
			MatchLevel: 3,
			LogID:      logID,
			UserID:     user.ID,
			Reason:     err.Error(),
		}, nil
	}

	entry.Status = models.SMSMatched
	entry.MatchLevel = 3
	entry.TransactionID = &tx.ID
	logID, err := r.insertLog(ctx, entry)
	if err != nil {
		return nil, err
	}

	return &IngestResult{
		Status:        models.SMSMatched,
		MatchLevel:    3,
		LogID:         logID,
		TransactionID: tx.ID,
		UserID:        user.ID,
		Amount:        parsed.Amount,
	}, nil
}

// settleMatched settles an open deposit claim when the user has one for the
// same amount inside the claim window; otherwise it applies a fresh
// auto-deposit entry.
func (r *ReconcileService) settleMatched(ctx context.Context, user *models.Account, parsed *ParsedSMS) (*models.Transaction, error) {
	claimID, err := r.openClaim(user.ID, parsed.Amount)
	if err != nil {
		return nil, err
	}
	if claimID != "" {
		return r.ledger.SettleEntry(ctx, claimID, models.SystemActorID)
	}

	return r.ledger.Apply(ctx, Mutation{
		UserID:   user.ID,
		Ledger:   models.LedgerMain,
		Category: models.TxDeposit,
		SubType:  "AUTO_SMS",
		Amount:   parsed.Amount,
		Note: fmt.Sprintf("Auto deposit via SMS - %s X%s - %s",
			parsed.SourceBank, parsed.SourceAccountLast4, parsed.SourceName),
		ActorID: models.SystemActorID,
	})
}

// ResolveManual lets an admin attach a NO_MATCH or EXTERNAL_FAILED log to a
// user and credit the deposit.
func (r *ReconcileService) ResolveManual(ctx context.Context, logID, userID int64, actor models.Actor) (*IngestResult, error) {
	if err := r.gate.Authorize(actor, "manual", "match_sms"); err != nil {
		return nil, err
	}

	webhookLog, err := r.getLog(logID)
	if err != nil {
		return nil, err
	}
	if webhookLog.Status != models.SMSNoMatch && webhookLog.Status != models.SMSExternalFailed {
		return nil, ErrAlreadyProcessed
	}
	if webhookLog.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := r.ledger.Apply(ctx, Mutation{
		UserID:   userID,
		Ledger:   models.LedgerMain,
		Category: models.TxDeposit,
		SubType:  "MANUAL_SMS",
		Amount:   webhookLog.Amount,
		Note:     fmt.Sprintf("Manual SMS match (log %d) by %s", logID, actor.Name),
		ActorID:  actor.ID,
	})
	if err != nil {
		return nil, err
	}

	result, err := r.db.Exec(`
		UPDATE sms_webhook_logs
		SET status = $1, matched_user_id = $2, transaction_id = $3
		WHERE id = $4 AND status IN ($5, $6)`,
		models.SMSManualMatch, userID, tx.ID, logID, models.SMSNoMatch, models.SMSExternalFailed)
	if err != nil {
		return nil, err
	}
	if err := requireRow(result); err != nil {
		return nil, err
	}

	r.gate.Record("sms_webhook_log", logID, "status", webhookLog.Status, models.SMSManualMatch, actor.ID)

	return &IngestResult{
		Status:        models.SMSManualMatch,
		MatchLevel:    webhookLog.MatchLevel,
		LogID:         logID,
		TransactionID: tx.ID,
		UserID:        userID,
		Amount:        webhookLog.Amount,
	}, nil
}

// RejectLog closes an unresolvable NO_MATCH log.
func (r *ReconcileService) RejectLog(ctx context.Context, logID int64, actor models.Actor, note string) error {
	if err := r.gate.Authorize(actor, "manual", "match_sms"); err != nil {
		return err
	}

	result, err := r.db.Exec(`
		UPDATE sms_webhook_logs
		SET status = $1, error_message = $2
		WHERE id = $3 AND status IN ($4, $5)`,
		models.SMSRejected, note, logID, models.SMSNoMatch, models.SMSExternalFailed)
	if err != nil {
		return err
	}
	if err := requireRow(result); err != nil {
		return err
	}

	r.gate.Record("sms_webhook_log", logID, "status", models.SMSNoMatch, models.SMSRejected, actor.ID)
	return nil
}

// RecentLogs returns the latest webhook logs for the admin screen.
func (r *ReconcileService) RecentLogs(limit int) ([]models.SMSWebhookLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, raw_message, message_hash, parsed_data, amount, dest_account, source_account, source_bank, source_name, matched_user_id, transaction_id, status, error_message, match_level, created_at
		FROM sms_webhook_logs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.SMSWebhookLog
	for rows.Next() {
		entry, err := scanWebhookLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *entry)
	}
	return logs, rows.Err()
}

func (r *ReconcileService) finishNoMatch(ctx context.Context, entry *models.SMSWebhookLog) (*IngestResult, error) {
	logID, err := r.insertLog(ctx, entry)
	if err != nil {
		return nil, err
	}
	log.Printf("[SMS] No match at level %d: %s", entry.MatchLevel+1, entry.ErrorMessage)
	return &IngestResult{
		Status:     models.SMSNoMatch,
		MatchLevel: entry.MatchLevel,
		LogID:      logID,
		Reason:     entry.ErrorMessage,
	}, nil
}

func (r *ReconcileService) matchOperatorAccount(destLast4 string) (*models.BankAccount, error) {
	rows, err := r.db.Query(`
		SELECT id, bank_name, account_number, account_name, type, is_active
		FROM bank_accounts
		WHERE type = 'deposit' AND is_active = true`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var acct models.BankAccount
		if err := rows.Scan(&acct.ID, &acct.BankName, &acct.AccountNumber, &acct.AccountName, &acct.Type, &acct.IsActive); err != nil {
			return nil, err
		}
		if MatchAccountLast4(acct.AccountNumber, destLast4) {
			return &acct, nil
		}
	}
	return nil, rows.Err()
}

func (r *ReconcileService) matchUserAccount(sourceLast4 string) (*models.Account, error) {
	rows, err := r.db.Query(`
		SELECT id, username, bank_name, bank_account, balance, version, COALESCE(wallet_username, ''), status
		FROM users
		WHERE status = $1 AND bank_account LIKE $2`,
		models.AccountActive, "%"+sourceLast4)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var user models.Account
		if err := rows.Scan(&user.ID, &user.Username, &user.BankName, &user.BankAccount,
			&user.Balance, &user.Version, &user.WalletUsername, &user.Status); err != nil {
			return nil, err
		}
		if MatchAccountLast4(user.BankAccount, sourceLast4) {
			return &user, nil
		}
	}
	return nil, rows.Err()
}

// openClaim finds the oldest PENDING deposit claim for the user with the
// exact amount inside the claim window.
func (r *ReconcileService) openClaim(userID, amount int64) (string, error) {
	var claimID string
	err := r.db.QueryRow(`
		SELECT id FROM transactions
		WHERE user_id = $1 AND type = $2 AND status = $3 AND amount = $4 AND created_at > $5
		ORDER BY created_at ASC
		LIMIT 1`,
		userID, models.TxDeposit, models.TxPending, amount, time.Now().Add(-r.cfg.ClaimWindow)).Scan(&claimID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return claimID, nil
}

func (r *ReconcileService) insertLog(ctx context.Context, entry *models.SMSWebhookLog) (int64, error) {
	var id int64
	err := r.db.QueryRow(`
		INSERT INTO sms_webhook_logs (raw_message, message_hash, parsed_data, amount, dest_account, source_account, source_bank, source_name, matched_user_id, transaction_id, status, error_message, match_level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		entry.RawMessage, entry.MessageHash, entry.ParsedData, entry.Amount,
		entry.DestAccount, entry.SourceAccount, entry.SourceBank, entry.SourceName,
		nullableAdmin(entry.MatchedUserID), nullableString(entry.TransactionID),
		entry.Status, entry.ErrorMessage, entry.MatchLevel, time.Now()).Scan(&id)
	if err != nil {
		return 0, err
	}
	// The dedup key lands only after the log row exists. A failed ingest
	// leaves no key behind, so the forwarder's retry is not short-circuited
	// into losing the signal.
	if r.rdb != nil {
		if err := r.rdb.Set(ctx, smsDedupKeyPrefix+entry.MessageHash, 1, r.cfg.DedupTTL).Err(); err != nil {
			log.Printf("[SMS] Failed to set dedup key for log %d: %v", id, err)
		}
	}
	return id, nil
}

func (r *ReconcileService) getLog(logID int64) (*models.SMSWebhookLog, error) {
	row := r.db.QueryRow(`
		SELECT id, raw_message, message_hash, parsed_data, amount, dest_account, source_account, source_bank, source_name, matched_user_id, transaction_id, status, error_message, match_level, created_at
		FROM sms_webhook_logs
		WHERE id = $1`, logID)
	entry, err := scanWebhookLog(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func scanWebhookLog(row rowScanner) (*models.SMSWebhookLog, error) {
	var entry models.SMSWebhookLog
	var matchedUser sql.NullInt64
	var txID sql.NullString
	err := row.Scan(&entry.ID, &entry.RawMessage, &entry.MessageHash, &entry.ParsedData,
		&entry.Amount, &entry.DestAccount, &entry.SourceAccount, &entry.SourceBank,
		&entry.SourceName, &matchedUser, &txID, &entry.Status, &entry.ErrorMessage,
		&entry.MatchLevel, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if matchedUser.Valid {
		entry.MatchedUserID = &matchedUser.Int64
	}
	if txID.Valid {
		entry.TransactionID = &txID.String
	}
	return &entry, nil
}

func logFromParsed(message, hash string, parsed *ParsedSMS) *models.SMSWebhookLog {
	data, _ := json.Marshal(parsed)
	return &models.SMSWebhookLog{
		RawMessage:    message,
		MessageHash:   hash,
		ParsedData:    string(data),
		Amount:        parsed.Amount,
		DestAccount:   parsed.DestAccountLast4,
		SourceAccount: parsed.SourceAccountLast4,
		SourceBank:    parsed.SourceBank,
		SourceName:    parsed.SourceName,
	}
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
