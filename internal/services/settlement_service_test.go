package services

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/chokdee888/backend/internal/models"
)

func newTestSettlement(t *testing.T) (*SettlementService, sqlmock.Sqlmock) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSettlementService(db, testSettlementConfig()), dbMock
}

func TestSettlementService_ConfirmPayout(t *testing.T) {
	t.Run("delivered payout marks SENT", func(t *testing.T) {
		service, dbMock := newTestSettlement(t)

		dbMock.ExpectQuery("UPDATE payout_instructions").
			WithArgs(PayoutSent, "msg-1").
			WillReturnRows(sqlmock.NewRows([]string{"entry_id"}).AddRow("entry-1"))

		entryID, err := service.ConfirmPayout("msg-1", "ACSC")

		assert.NoError(t, err)
		assert.Equal(t, "entry-1", entryID)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("gateway rejection marks REJECTED", func(t *testing.T) {
		service, dbMock := newTestSettlement(t)

		dbMock.ExpectQuery("UPDATE payout_instructions").
			WithArgs(PayoutRejected, "msg-1").
			WillReturnRows(sqlmock.NewRows([]string{"entry_id"}).AddRow("entry-1"))

		entryID, err := service.ConfirmPayout("msg-1", "RJCT")

		assert.NoError(t, err)
		assert.Equal(t, "entry-1", entryID)
	})

	t.Run("unknown message id", func(t *testing.T) {
		service, dbMock := newTestSettlement(t)

		dbMock.ExpectQuery("UPDATE payout_instructions").
			WillReturnError(sql.ErrNoRows)

		_, err := service.ConfirmPayout("msg-x", "ACSC")
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})
}

func TestSettlementService_StatusReport(t *testing.T) {
	service, _ := newTestSettlement(t)

	adminID := int64(7)
	entry := &models.Transaction{
		ID:      "entry-1",
		UserID:  42,
		Type:    models.TxWithdraw,
		Amount:  40000,
		AdminID: &adminID,
	}

	report, err := service.StatusReport(entry, "ACSC")

	assert.NoError(t, err)
	assert.Contains(t, report, "WITHDRAW:entry-1")
	assert.Contains(t, report, "ACSC")
	assert.Contains(t, report, "<?xml")
}
