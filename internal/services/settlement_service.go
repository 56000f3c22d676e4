package services

import (
	"context"
	"database/sql"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/chokdee888/backend/internal/config"
	"github.com/chokdee888/backend/internal/models"
)

// Payout instruction statuses.
const (
	PayoutQueued   = "QUEUED"
	PayoutSent     = "SENT"
	PayoutRejected = "REJECTED"
)

// SettlementService builds ISO 20022 payout instructions for approved
// withdrawals in gatewayAuto mode. The instruction is queued in the
// database; delivery to the bank gateway is a separate concern.
type SettlementService struct {
	db  *sql.DB
	cfg *config.SettlementConfig
}

func NewSettlementService(db *sql.DB, cfg *config.SettlementConfig) *SettlementService {
	return &SettlementService{db: db, cfg: cfg}
}

// QueuePayout creates a pacs.008 credit transfer for the withdrawal and
// stores it as a QUEUED instruction. Returns the message ID.
func (s *SettlementService) QueuePayout(ctx context.Context, entry *models.Transaction) (string, error) {
	if entry.Type != models.TxWithdraw {
		return "", fmt.Errorf("payout requires a withdrawal entry, got %s", entry.Type)
	}

	var fullName, bankName, bankAccount string
	err := s.db.QueryRow(`
		SELECT full_name, bank_name, bank_account
		FROM users
		WHERE id = $1`, entry.UserID).Scan(&fullName, &bankName, &bankAccount)
	if err == sql.ErrNoRows {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}

	doc, msgID := s.buildPacs008(entry, fullName, bankName, bankAccount)
	xmlData, err := toXML(doc)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(`
		INSERT INTO payout_instructions (message_id, entry_id, user_id, amount, document, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msgID, entry.ID, entry.UserID, entry.Amount, xmlData, PayoutQueued, time.Now())
	if err != nil {
		return "", err
	}

	return msgID, nil
}

// ConfirmPayout records a gateway delivery callback. RJCT from the gateway
// marks the instruction REJECTED, everything else counts as delivered.
// Returns the entry ID the instruction settles.
func (s *SettlementService) ConfirmPayout(messageID, gatewayStatus string) (string, error) {
	status := PayoutSent
	if gatewayStatus == "RJCT" {
		status = PayoutRejected
	}

	var entryID string
	err := s.db.QueryRow(`
		UPDATE payout_instructions
		SET status = $1
		WHERE message_id = $2
		RETURNING entry_id`, status, messageID).Scan(&entryID)
	if err == sql.ErrNoRows {
		return "", ErrEntryNotFound
	}
	if err != nil {
		return "", err
	}
	return entryID, nil
}

// StatusReport builds the pacs.002 status report answering a gateway
// callback for a previously issued payout.
func (s *SettlementService) StatusReport(entry *models.Transaction, status string) (string, error) {
	msgID := uuid.New().String()
	token := intentToken(entry.Type, entry.ID)

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(time.Now()),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(entry.ID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(token)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(entry.ID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}
	return toXML(doc)
}

func (s *SettlementService) buildPacs008(entry *models.Transaction, fullName, bankName, bankAccount string) (*pacs_v08.FIToFICustomerCreditTransferV08, string) {
	msgID := uuid.New().String()
	now := time.Now()
	settlementDate := now
	amount := float64(entry.Amount) / 100 // satang to baht

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(s.cfg.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(entry.ID)}[0],
					EndToEndId: common.Max35Text(intentToken(entry.Type, entry.ID)),
					TxId:       &[]common.Max35Text{common.Max35Text(entry.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(s.cfg.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.cfg.OperatorBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(s.cfg.OperatorName)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(bankCodeFor(bankName)),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(fullName)}[0],
				},
				CdtrAcct: &pacs_v08.CashAccount38{
					Id: pacs_v08.AccountIdentification4Choice{
						Othr: pacs_v08.GenericAccountIdentification1{
							Id: common.Max34Text(bankAccount),
						},
					},
				},
			},
		},
	}

	return doc, msgID
}

// bankCodeFor resolves a user-entered bank name, usually Thai, to an SMS
// bank code usable as a clearing member ID.
func bankCodeFor(bankName string) string {
	for code := range bankAliases {
		if MatchBankName(code, bankName) {
			return code
		}
	}
	return strings.ToUpper(bankName)
}

func toXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
