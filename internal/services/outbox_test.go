package services

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/chokdee888/backend/internal/models"
)

func newTestOutbox(t *testing.T) (*OutboxStore, sqlmock.Sqlmock) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewOutboxStore(db), dbMock
}

func TestOutboxStore_Create(t *testing.T) {
	store, dbMock := newTestOutbox(t)

	dbMock.ExpectExec("INSERT INTO wallet_outbox").
		WithArgs("DEPOSIT:entry-1", "entry-1", int64(42), "main", "DEPOSIT", "AUTO_SMS",
			"auto deposit", int64(0), "AG-CHKK567890", int64(1000), intentApply,
			intentPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Create(&TransferIntent{
		Token:          "DEPOSIT:entry-1",
		EntryID:        "entry-1",
		UserID:         42,
		Ledger:         models.LedgerMain,
		Category:       models.TxDeposit,
		SubType:        "AUTO_SMS",
		Note:           "auto deposit",
		ActorID:        models.SystemActorID,
		WalletUsername: "AG-CHKK567890",
		Amount:         1000,
		Kind:           intentApply,
	})

	assert.NoError(t, err)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestOutboxStore_CreateOrReopen(t *testing.T) {
	settleIntent := &TransferIntent{
		Token:          "WITHDRAW:entry-1",
		EntryID:        "entry-1",
		UserID:         42,
		Ledger:         models.LedgerMain,
		Category:       models.TxWithdraw,
		SubType:        "USER_REQUEST",
		ActorID:        7,
		WalletUsername: "AG-CHKK567890",
		Amount:         -40000,
		Kind:           intentSettle,
	}

	t.Run("fresh token inserts", func(t *testing.T) {
		store, dbMock := newTestOutbox(t)

		dbMock.ExpectExec("INSERT INTO wallet_outbox").
			WithArgs("WITHDRAW:entry-1", "entry-1", int64(42), "main", "WITHDRAW", "USER_REQUEST",
				"", int64(7), "AG-CHKK567890", int64(-40000), intentSettle,
				intentPending, sqlmock.AnyArg(), intentAborted).
			WillReturnResult(sqlmock.NewResult(1, 1))

		reopened, err := store.CreateOrReopen(settleIntent)

		assert.NoError(t, err)
		assert.True(t, reopened)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("live token is refused", func(t *testing.T) {
		store, dbMock := newTestOutbox(t)

		dbMock.ExpectExec("INSERT INTO wallet_outbox").
			WillReturnResult(sqlmock.NewResult(0, 0))

		reopened, err := store.CreateOrReopen(settleIntent)

		assert.NoError(t, err)
		assert.False(t, reopened)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestOutboxStore_Transitions(t *testing.T) {
	t.Run("sent", func(t *testing.T) {
		store, dbMock := newTestOutbox(t)

		dbMock.ExpectExec("UPDATE wallet_outbox SET status").
			WithArgs(intentSent, sqlmock.AnyArg(), "DEPOSIT:entry-1").
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, store.MarkSent("DEPOSIT:entry-1"))
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("aborted carries the cause", func(t *testing.T) {
		store, dbMock := newTestOutbox(t)

		dbMock.ExpectExec("UPDATE wallet_outbox SET status").
			WithArgs(intentAborted, "upstream refused", sqlmock.AnyArg(), "DEPOSIT:entry-1").
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, store.MarkAborted("DEPOSIT:entry-1", errors.New("upstream refused")))
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("bump attempt", func(t *testing.T) {
		store, dbMock := newTestOutbox(t)

		dbMock.ExpectExec("UPDATE wallet_outbox SET attempts = attempts \\+ 1").
			WithArgs("timeout", sqlmock.AnyArg(), "DEPOSIT:entry-1").
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, store.BumpAttempt("DEPOSIT:entry-1", errors.New("timeout")))
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestOutboxStore_Stale(t *testing.T) {
	store, dbMock := newTestOutbox(t)

	rows := sqlmock.NewRows([]string{"token", "entry_id", "user_id", "ledger", "category", "sub_type",
		"note", "actor_id", "wallet_username", "amount", "kind", "status", "attempts"}).
		AddRow("DEPOSIT:entry-1", "entry-1", 42, "main", "DEPOSIT", "AUTO_SMS",
			"", 0, "AG-CHKK567890", 1000, intentSettle, intentSent, 2).
		AddRow("WITHDRAW:entry-2", "entry-2", 43, "main", "WITHDRAW", "",
			"", 7, "AG-CHKK999999", -50000, intentSettle, intentPending, 0)

	dbMock.ExpectQuery("SELECT token, entry_id, user_id").
		WithArgs(intentSent, intentPending, sqlmock.AnyArg(), 10).
		WillReturnRows(rows)

	intents, err := store.Stale(2*time.Minute, 10)

	assert.NoError(t, err)
	assert.Len(t, intents, 2)
	assert.Equal(t, models.TxDeposit, intents[0].Category)
	assert.Equal(t, models.LedgerMain, intents[0].Ledger)
	assert.Equal(t, 2, intents[0].Attempts)
	assert.Equal(t, int64(-50000), intents[1].Amount)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}
