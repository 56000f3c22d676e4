package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/chokdee888/backend/internal/audit"
	"github.com/chokdee888/backend/internal/models"
	"github.com/chokdee888/backend/internal/wallet"
)

const divergenceQueue = "divergence_alerts"

// Mutation describes a single-account balance change. Amount is always a
// positive magnitude; the direction comes from the category.
type Mutation struct {
	UserID   int64
	Ledger   models.Ledger
	Category models.TxCategory
	SubType  string
	Amount   int64
	Note     string
	ActorID  int64
}

// LedgerService owns every write to user balances and transaction entries.
// Main-ledger movements are mirrored to the external wallet through the
// outbox so that a crash mid-flight is always recoverable.
type LedgerService struct {
	db     *sql.DB
	rdb    *redis.Client
	wallet wallet.Adapter
	outbox *OutboxStore
	gate   *audit.Gate
	locks  *accountLocks
}

func NewLedgerService(db *sql.DB, rdb *redis.Client, adapter wallet.Adapter, outbox *OutboxStore, gate *audit.Gate) *LedgerService {
	return &LedgerService{
		db:     db,
		rdb:    rdb,
		wallet: adapter,
		outbox: outbox,
		gate:   gate,
		locks:  newAccountLocks(),
	}
}

// Apply executes a mutation end to end: validate, mirror to the external
// wallet when the ledger requires it, then commit the entry and the new
// balance in one transaction.
func (s *LedgerService) Apply(ctx context.Context, m Mutation) (*models.Transaction, error) {
	if m.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := s.locks.Lock(m.UserID, m.Ledger)
	defer unlock()

	account, err := s.getAccount(m.UserID)
	if err != nil {
		return nil, err
	}
	if !account.Active() {
		return nil, ErrAccountInactive
	}

	delta := m.Amount
	if !m.Category.Credit() {
		delta = -m.Amount
	}

	before := account.BalanceOf(m.Ledger)
	after := before + delta
	if after < 0 {
		return nil, ErrInsufficientFunds
	}

	now := time.Now()
	entry := &models.Transaction{
		ID:            uuid.New().String(),
		UserID:        m.UserID,
		Type:          m.Category,
		SubType:       m.SubType,
		Ledger:        m.Ledger,
		Amount:        m.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        models.TxCompleted,
		Note:          m.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if m.ActorID != models.SystemActorID {
		entry.AdminID = &m.ActorID
	}

	mirror := m.Ledger == models.LedgerMain && m.Category.Mirrored()
	token := ""
	if mirror {
		if !account.Provisioned() {
			return nil, ErrWalletNotProvisioned
		}
		token = intentToken(m.Category, entry.ID)
		intent := &TransferIntent{
			Token:          token,
			EntryID:        entry.ID,
			UserID:         m.UserID,
			Ledger:         m.Ledger,
			Category:       m.Category,
			SubType:        m.SubType,
			Note:           m.Note,
			ActorID:        m.ActorID,
			WalletUsername: account.WalletUsername,
			Amount:         delta,
			Kind:           intentApply,
		}
		if err := s.outbox.Create(intent); err != nil {
			return nil, fmt.Errorf("failed to record transfer intent: %w", err)
		}
		if err := s.wallet.Transfer(ctx, account.WalletUsername, delta, token); err != nil {
			s.outbox.MarkAborted(token, err)
			return nil, fmt.Errorf("%w: %v", ErrExternalTransfer, err)
		}
		if err := s.outbox.MarkSent(token); err != nil {
			log.Printf("[LEDGER] Failed to mark intent %s sent: %v", token, err)
		}
	}

	if err := s.commitApply(entry, account, token); err != nil {
		if mirror {
			return nil, s.reportDivergence(ctx, token, err)
		}
		return nil, err
	}

	s.gate.Record("user", m.UserID, balanceColumn(m.Ledger),
		fmt.Sprintf("%d", before), fmt.Sprintf("%d", after), m.ActorID)

	return entry, nil
}

// CreateDepositClaim records a PENDING deposit entry with no balance effect.
// The balance moves only when the entry is settled against a verified bank
// transfer or approved by an admin.
func (s *LedgerService) CreateDepositClaim(ctx context.Context, m Mutation) (*models.Transaction, error) {
	if m.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if m.Category != models.TxDeposit {
		return nil, ErrInvalidAmount
	}

	account, err := s.getAccount(m.UserID)
	if err != nil {
		return nil, err
	}
	if !account.Active() {
		return nil, ErrAccountInactive
	}
	if !account.Provisioned() {
		return nil, ErrWalletNotProvisioned
	}

	now := time.Now()
	entry := &models.Transaction{
		ID:        uuid.New().String(),
		UserID:    m.UserID,
		Type:      models.TxDeposit,
		SubType:   m.SubType,
		Ledger:    models.LedgerMain,
		Amount:    m.Amount,
		Status:    models.TxPending,
		Note:      m.Note,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.insertEntry(tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return entry, nil
}

// ReserveWithdrawal debits the spendable balance immediately and records a
// PENDING withdrawal entry. The external wallet is untouched until approval;
// a rejection with refund returns the reservation.
func (s *LedgerService) ReserveWithdrawal(ctx context.Context, m Mutation) (*models.Transaction, error) {
	if m.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := s.locks.Lock(m.UserID, models.LedgerMain)
	defer unlock()

	account, err := s.getAccount(m.UserID)
	if err != nil {
		return nil, err
	}
	if !account.Active() {
		return nil, ErrAccountInactive
	}
	if !account.Provisioned() {
		return nil, ErrWalletNotProvisioned
	}

	before := account.Balance
	after := before - m.Amount
	if after < 0 {
		return nil, ErrInsufficientFunds
	}

	now := time.Now()
	entry := &models.Transaction{
		ID:            uuid.New().String(),
		UserID:        m.UserID,
		Type:          models.TxWithdraw,
		SubType:       m.SubType,
		Ledger:        models.LedgerMain,
		Amount:        m.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        models.TxPending,
		Note:          m.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.insertEntry(tx, entry); err != nil {
		return nil, err
	}
	if err := s.updateBalance(tx, m.UserID, models.LedgerMain, after, account.Version); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.gate.Record("user", m.UserID, balanceColumn(models.LedgerMain),
		fmt.Sprintf("%d", before), fmt.Sprintf("%d", after), m.ActorID)

	return entry, nil
}

// SettleEntry drives a PENDING entry to COMPLETED. Deposits credit the local
// balance and the external wallet; withdrawals only debit the external side,
// the local balance was already reserved.
func (s *LedgerService) SettleEntry(ctx context.Context, entryID string, actorID int64) (*models.Transaction, error) {
	entry, err := s.getEntry(entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.TxPending {
		return nil, ErrAlreadyProcessed
	}

	unlock := s.locks.Lock(entry.UserID, entry.Ledger)
	defer unlock()

	account, err := s.getAccount(entry.UserID)
	if err != nil {
		return nil, err
	}
	if !account.Provisioned() {
		return nil, ErrWalletNotProvisioned
	}

	delta := entry.Amount
	if !entry.Type.Credit() {
		delta = -entry.Amount
	}

	token := intentToken(entry.Type, entry.ID)
	intent := &TransferIntent{
		Token:          token,
		EntryID:        entry.ID,
		UserID:         entry.UserID,
		Ledger:         entry.Ledger,
		Category:       entry.Type,
		SubType:        entry.SubType,
		Note:           entry.Note,
		ActorID:        actorID,
		WalletUsername: account.WalletUsername,
		Amount:         delta,
		Kind:           intentSettle,
	}
	// An ABORTED intent from an earlier failed attempt reopens here, so an
	// external refusal never leaves the entry permanently unapprovable.
	reopened, err := s.outbox.CreateOrReopen(intent)
	if err != nil {
		return nil, fmt.Errorf("failed to record transfer intent: %w", err)
	}
	if !reopened {
		// Token held by a live intent: a concurrent settle owns this entry.
		return nil, ErrAlreadyProcessed
	}

	if err := s.wallet.Transfer(ctx, account.WalletUsername, delta, token); err != nil {
		s.outbox.MarkAborted(token, err)
		return nil, fmt.Errorf("%w: %v", ErrExternalTransfer, err)
	}
	if err := s.outbox.MarkSent(token); err != nil {
		log.Printf("[LEDGER] Failed to mark intent %s sent: %v", token, err)
	}

	if err := s.commitSettle(entry, account, actorID, token); err != nil {
		return nil, s.reportDivergence(ctx, token, err)
	}

	if entry.Type.Credit() {
		s.gate.Record("user", entry.UserID, balanceColumn(entry.Ledger),
			fmt.Sprintf("%d", account.BalanceOf(entry.Ledger)),
			fmt.Sprintf("%d", account.BalanceOf(entry.Ledger)+entry.Amount), actorID)
	}

	entry.Status = models.TxCompleted
	return entry, nil
}

// RejectEntry moves a PENDING entry to REJECTED. For withdrawals, refund
// controls whether the reserved funds return to the player.
func (s *LedgerService) RejectEntry(ctx context.Context, entryID string, actorID int64, note string, refund bool) (*models.Transaction, error) {
	entry, err := s.getEntry(entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.TxPending {
		return nil, ErrAlreadyProcessed
	}

	unlock := s.locks.Lock(entry.UserID, entry.Ledger)
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE transactions
		SET status = $1, note = $2, admin_id = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		models.TxRejected, note, actorID, time.Now(), entryID, models.TxPending)
	if err != nil {
		return nil, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, ErrAlreadyProcessed
	}

	refunded := refund && entry.Type == models.TxWithdraw
	if refunded {
		account, err := s.getAccount(entry.UserID)
		if err != nil {
			return nil, err
		}
		restored := account.Balance + entry.Amount
		if err := s.updateBalance(tx, entry.UserID, models.LedgerMain, restored, account.Version); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if refunded {
		s.gate.Record("user", entry.UserID, "balance",
			fmt.Sprintf("reserved %d", entry.Amount), "refunded", actorID)
	} else if entry.Type == models.TxWithdraw {
		s.gate.RecordHighRisk("transaction", entry.UserID, "withdrawal_rejected_no_refund",
			fmt.Sprintf("entry %s amount %d retained", entryID, entry.Amount), actorID)
	}

	entry.Status = models.TxRejected
	entry.Note = note
	return entry, nil
}

// FinalizeIntent re-drives an open transfer intent. The external call is
// retried with the original token, so a transfer that already landed is a
// no-op upstream, and the local commit is repeated until it sticks.
func (s *LedgerService) FinalizeIntent(ctx context.Context, it TransferIntent) error {
	unlock := s.locks.Lock(it.UserID, it.Ledger)
	defer unlock()

	if it.Kind == intentSettle {
		entry, err := s.getEntry(it.EntryID)
		if err != nil {
			s.outbox.BumpAttempt(it.Token, err)
			return err
		}
		if entry.Status != models.TxPending {
			// Local side already committed, only the intent row lagged.
			return s.outbox.MarkFulfilled(it.Token)
		}
		if err := s.wallet.Transfer(ctx, it.WalletUsername, it.Amount, it.Token); err != nil {
			s.outbox.BumpAttempt(it.Token, err)
			return err
		}
		s.outbox.MarkSent(it.Token)

		account, err := s.getAccount(it.UserID)
		if err != nil {
			s.outbox.BumpAttempt(it.Token, err)
			return err
		}
		if err := s.commitSettle(entry, account, it.ActorID, it.Token); err != nil {
			s.outbox.BumpAttempt(it.Token, err)
			return err
		}
		return nil
	}

	// Apply intents insert the entry themselves; if the row exists the
	// original commit landed and only the intent row is stale.
	if _, err := s.getEntry(it.EntryID); err == nil {
		return s.outbox.MarkFulfilled(it.Token)
	} else if err != ErrEntryNotFound {
		s.outbox.BumpAttempt(it.Token, err)
		return err
	}

	if err := s.wallet.Transfer(ctx, it.WalletUsername, it.Amount, it.Token); err != nil {
		s.outbox.BumpAttempt(it.Token, err)
		return err
	}
	s.outbox.MarkSent(it.Token)

	account, err := s.getAccount(it.UserID)
	if err != nil {
		s.outbox.BumpAttempt(it.Token, err)
		return err
	}

	before := account.BalanceOf(it.Ledger)
	now := time.Now()
	entry := &models.Transaction{
		ID:            it.EntryID,
		UserID:        it.UserID,
		Type:          it.Category,
		SubType:       it.SubType,
		Ledger:        it.Ledger,
		Amount:        magnitude(it.Amount),
		BalanceBefore: before,
		BalanceAfter:  before + it.Amount,
		Status:        models.TxCompleted,
		Note:          it.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if it.ActorID != models.SystemActorID {
		entry.AdminID = &it.ActorID
	}

	if err := s.commitApply(entry, account, it.Token); err != nil {
		s.outbox.BumpAttempt(it.Token, err)
		return err
	}
	return nil
}

// ProvisionWallet creates the user's external wallet identity if it does
// not exist yet. Idempotent: an already-provisioned account returns its
// existing username.
func (s *LedgerService) ProvisionWallet(ctx context.Context, userID int64) (string, error) {
	unlock := s.locks.Lock(userID, models.LedgerMain)
	defer unlock()

	account, err := s.getAccount(userID)
	if err != nil {
		return "", err
	}
	if account.Provisioned() {
		return account.WalletUsername, nil
	}

	username, err := s.wallet.Provision(ctx, account.Phone)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(`UPDATE users SET wallet_username = $1, updated_at = $2 WHERE id = $3`,
		username, time.Now(), userID)
	if err != nil {
		return "", err
	}

	log.Printf("[LEDGER] Provisioned wallet %s for user %d", username, userID)
	return username, nil
}

// Entry loads a single ledger entry by ID.
func (s *LedgerService) Entry(entryID string) (*models.Transaction, error) {
	return s.getEntry(entryID)
}

// Account loads a user's balance state.
func (s *LedgerService) Account(userID int64) (*models.Account, error) {
	return s.getAccount(userID)
}

// History returns a user's ledger entries, newest first.
func (s *LedgerService) History(userID int64, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, type, sub_type, ledger, amount, balance_before, balance_after, status, note, admin_id, created_at, updated_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.Transaction
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// PendingEntries lists open approval work, oldest first.
func (s *LedgerService) PendingEntries(category models.TxCategory, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, type, sub_type, ledger, amount, balance_before, balance_after, status, note, admin_id, created_at, updated_at
		FROM transactions
		WHERE status = $1 AND type = $2
		ORDER BY created_at ASC
		LIMIT $3`, models.TxPending, category, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.Transaction
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (s *LedgerService) commitApply(entry *models.Transaction, account *models.Account, token string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.insertEntry(tx, entry); err != nil {
		return err
	}
	if err := s.updateBalance(tx, entry.UserID, entry.Ledger, entry.BalanceAfter, account.Version); err != nil {
		return err
	}
	if token != "" {
		if err := s.outbox.MarkFulfilledTx(tx, token); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *LedgerService) commitSettle(entry *models.Transaction, account *models.Account, actorID int64, token string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if entry.Type.Credit() {
		before := account.BalanceOf(entry.Ledger)
		after := before + entry.Amount
		result, err := tx.Exec(`
			UPDATE transactions
			SET status = $1, balance_before = $2, balance_after = $3, admin_id = $4, updated_at = $5
			WHERE id = $6 AND status = $7`,
			models.TxCompleted, before, after, nullableActor(actorID), time.Now(), entry.ID, models.TxPending)
		if err != nil {
			return err
		}
		if err := requireRow(result); err != nil {
			return err
		}
		if err := s.updateBalance(tx, entry.UserID, entry.Ledger, after, account.Version); err != nil {
			return err
		}
	} else {
		// Withdrawal funds were reserved at request time.
		result, err := tx.Exec(`
			UPDATE transactions
			SET status = $1, admin_id = $2, updated_at = $3
			WHERE id = $4 AND status = $5`,
			models.TxCompleted, nullableActor(actorID), time.Now(), entry.ID, models.TxPending)
		if err != nil {
			return err
		}
		if err := requireRow(result); err != nil {
			return err
		}
	}

	if err := s.outbox.MarkFulfilledTx(tx, token); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *LedgerService) insertEntry(tx *sql.Tx, entry *models.Transaction) error {
	_, err := tx.Exec(`
		INSERT INTO transactions (id, user_id, type, sub_type, ledger, amount, balance_before, balance_after, status, note, admin_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, entry.UserID, entry.Type, entry.SubType, entry.Ledger, entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter, entry.Status, entry.Note,
		nullableAdmin(entry.AdminID), entry.CreatedAt, entry.UpdatedAt)
	return err
}

func (s *LedgerService) updateBalance(tx *sql.Tx, userID int64, ledger models.Ledger, newBalance int64, version int) error {
	query := fmt.Sprintf(`
		UPDATE users
		SET %s = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`, balanceColumn(ledger))
	result, err := tx.Exec(query, newBalance, time.Now(), userID, version)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for user %d", userID)
	}
	return nil
}

func (s *LedgerService) getAccount(userID int64) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRow(`
		SELECT id, username, phone, balance, bonus_balance, version, COALESCE(wallet_username, ''), status, updated_at
		FROM users
		WHERE id = $1`, userID).Scan(
		&account.ID, &account.Username, &account.Phone, &account.Balance, &account.BonusBalance,
		&account.Version, &account.WalletUsername, &account.Status, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) getEntry(entryID string) (*models.Transaction, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, type, sub_type, ledger, amount, balance_before, balance_after, status, note, admin_id, created_at, updated_at
		FROM transactions
		WHERE id = $1`, entryID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *LedgerService) reportDivergence(ctx context.Context, token string, cause error) error {
	log.Printf("[LEDGER] DIVERGENCE: external transfer %s succeeded but local commit failed: %v", token, cause)
	alert, _ := json.Marshal(map[string]interface{}{
		"token":       token,
		"error":       cause.Error(),
		"detected_at": time.Now().UTC().Format(time.RFC3339),
	})
	if s.rdb != nil {
		if err := s.rdb.RPush(ctx, divergenceQueue, alert).Err(); err != nil {
			log.Printf("[LEDGER] Failed to queue divergence alert for %s: %v", token, err)
		}
	}
	return fmt.Errorf("%w: intent %s awaiting reconciliation: %v", ErrDivergence, token, cause)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.Transaction, error) {
	var entry models.Transaction
	var adminID sql.NullInt64
	err := row.Scan(&entry.ID, &entry.UserID, &entry.Type, &entry.SubType, &entry.Ledger,
		&entry.Amount, &entry.BalanceBefore, &entry.BalanceAfter, &entry.Status,
		&entry.Note, &adminID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if adminID.Valid {
		entry.AdminID = &adminID.Int64
	}
	return &entry, nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

func intentToken(category models.TxCategory, entryID string) string {
	return fmt.Sprintf("%s:%s", category, entryID)
}

func balanceColumn(ledger models.Ledger) string {
	if ledger == models.LedgerBonus {
		return "bonus_balance"
	}
	return "balance"
}

func magnitude(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func nullableActor(actorID int64) sql.NullInt64 {
	if actorID == models.SystemActorID {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: actorID, Valid: true}
}

func nullableAdmin(adminID *int64) sql.NullInt64 {
	if adminID == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *adminID, Valid: true}
}
