package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/chokdee888/backend/internal/config"
	"github.com/chokdee888/backend/internal/models"
)

// Intent kinds: apply inserts a brand-new ledger entry on finalize, settle
// drives an existing PENDING entry to COMPLETED.
const (
	intentApply  = "apply"
	intentSettle = "settle"
)

// Intent statuses.
const (
	intentPending   = "PENDING"   // written before the external call
	intentSent      = "SENT"      // external call succeeded, local commit outstanding
	intentFulfilled = "FULFILLED" // both sides consistent
	intentAborted   = "ABORTED"   // external call failed, nothing applied anywhere
)

// TransferIntent is the durable record written before every external wallet
// transfer. A crash between the external call and the local commit leaves the
// intent in PENDING or SENT, and the reconciler re-drives it with the same
// idempotency token until both systems agree.
type TransferIntent struct {
	Token          string
	EntryID        string
	UserID         int64
	Ledger         models.Ledger
	Category       models.TxCategory
	SubType        string
	Note           string
	ActorID        int64
	WalletUsername string
	Amount         int64 // signed: positive credits the external wallet
	Kind           string
	Status         string
	Attempts       int
}

// OutboxStore persists transfer intents.
type OutboxStore struct {
	db *sql.DB
}

func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

func (o *OutboxStore) Create(it *TransferIntent) error {
	_, err := o.db.Exec(`
		INSERT INTO wallet_outbox (token, entry_id, user_id, ledger, category, sub_type, note, actor_id, wallet_username, amount, kind, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13, $13)`,
		it.Token, it.EntryID, it.UserID, string(it.Ledger), string(it.Category), it.SubType,
		it.Note, it.ActorID, it.WalletUsername, it.Amount, it.Kind, intentPending, time.Now())
	return err
}

// CreateOrReopen inserts a settle intent, reviving an ABORTED row for the
// same token so a settle can be retried after an external failure. Returns
// false when the token belongs to a live intent.
func (o *OutboxStore) CreateOrReopen(it *TransferIntent) (bool, error) {
	result, err := o.db.Exec(`
		INSERT INTO wallet_outbox (token, entry_id, user_id, ledger, category, sub_type, note, actor_id, wallet_username, amount, kind, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13, $13)
		ON CONFLICT (token) DO UPDATE
		SET status = $12, actor_id = $8, attempts = 0, last_error = NULL, updated_at = $13
		WHERE wallet_outbox.status = $14`,
		it.Token, it.EntryID, it.UserID, string(it.Ledger), string(it.Category), it.SubType,
		it.Note, it.ActorID, it.WalletUsername, it.Amount, it.Kind, intentPending, time.Now(), intentAborted)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (o *OutboxStore) MarkSent(token string) error {
	_, err := o.db.Exec(`UPDATE wallet_outbox SET status = $1, updated_at = $2 WHERE token = $3`,
		intentSent, time.Now(), token)
	return err
}

func (o *OutboxStore) MarkAborted(token string, cause error) error {
	_, err := o.db.Exec(`UPDATE wallet_outbox SET status = $1, last_error = $2, updated_at = $3 WHERE token = $4`,
		intentAborted, cause.Error(), time.Now(), token)
	return err
}

// MarkFulfilledTx closes the intent inside the same transaction that commits
// the local ledger state.
func (o *OutboxStore) MarkFulfilledTx(tx *sql.Tx, token string) error {
	_, err := tx.Exec(`UPDATE wallet_outbox SET status = $1, updated_at = $2 WHERE token = $3`,
		intentFulfilled, time.Now(), token)
	return err
}

func (o *OutboxStore) MarkFulfilled(token string) error {
	_, err := o.db.Exec(`UPDATE wallet_outbox SET status = $1, updated_at = $2 WHERE token = $3`,
		intentFulfilled, time.Now(), token)
	return err
}

func (o *OutboxStore) BumpAttempt(token string, cause error) error {
	_, err := o.db.Exec(`UPDATE wallet_outbox SET attempts = attempts + 1, last_error = $1, updated_at = $2 WHERE token = $3`,
		cause.Error(), time.Now(), token)
	return err
}

// Stale returns open intents the reconciler should re-drive: anything SENT,
// plus PENDING intents old enough that the originating request cannot still
// be in flight.
func (o *OutboxStore) Stale(olderThan time.Duration, maxAttempts int) ([]TransferIntent, error) {
	rows, err := o.db.Query(`
		SELECT token, entry_id, user_id, ledger, category, sub_type, note, actor_id, wallet_username, amount, kind, status, attempts
		FROM wallet_outbox
		WHERE (status = $1 OR (status = $2 AND updated_at < $3)) AND attempts < $4
		ORDER BY created_at ASC`,
		intentSent, intentPending, time.Now().Add(-olderThan), maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []TransferIntent
	for rows.Next() {
		var it TransferIntent
		var ledger, category string
		if err := rows.Scan(&it.Token, &it.EntryID, &it.UserID, &ledger, &category, &it.SubType,
			&it.Note, &it.ActorID, &it.WalletUsername, &it.Amount, &it.Kind, &it.Status, &it.Attempts); err != nil {
			return nil, err
		}
		it.Ledger = models.Ledger(ledger)
		it.Category = models.TxCategory(category)
		intents = append(intents, it)
	}
	return intents, rows.Err()
}

// Reconciler is the background worker that heals the divergence window:
// it retries open transfer intents with their original idempotency tokens
// until the external wallet and the local ledger agree.
type Reconciler struct {
	ledger *LedgerService
	outbox *OutboxStore
	cfg    *config.OutboxConfig
}

func NewReconciler(ledger *LedgerService, outbox *OutboxStore, cfg *config.OutboxConfig) *Reconciler {
	return &Reconciler{ledger: ledger, outbox: outbox, cfg: cfg}
}

// Run polls until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	log.Printf("[OUTBOX] Reconciler started, interval %s", r.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[OUTBOX] Reconciler stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	intents, err := r.outbox.Stale(r.cfg.StaleAfter, r.cfg.MaxAttempts)
	if err != nil {
		log.Printf("[OUTBOX] Failed to list stale intents: %v", err)
		return
	}

	for _, it := range intents {
		if err := r.ledger.FinalizeIntent(ctx, it); err != nil {
			log.Printf("[OUTBOX] Intent %s not finalized (attempt %d): %v", it.Token, it.Attempts+1, err)
			continue
		}
		log.Printf("[OUTBOX] Intent %s reconciled", it.Token)
	}
}
