package services

import (
	"context"
	"fmt"
	"log"

	"github.com/chokdee888/backend/internal/audit"
	"github.com/chokdee888/backend/internal/models"
)

// Settlement modes for withdrawal approval.
const (
	SettleManual      = "manual"      // admin transfers at the bank themselves
	SettleGatewayAuto = "gatewayAuto" // payout instruction goes to the bank gateway
)

// ApprovalService gates every admin decision on PENDING entries and manual
// balance adjustments behind capability checks, then delegates the money
// movement to the ledger.
type ApprovalService struct {
	ledger     *LedgerService
	gate       *audit.Gate
	settlement *SettlementService
}

func NewApprovalService(ledger *LedgerService, gate *audit.Gate, settlement *SettlementService) *ApprovalService {
	return &ApprovalService{ledger: ledger, gate: gate, settlement: settlement}
}

// Approve settles a PENDING entry. Deposits credit both ledgers; withdrawals
// debit only the external wallet since the funds were reserved at request
// time. In gatewayAuto mode an approved withdrawal also produces a bank
// payout instruction.
func (a *ApprovalService) Approve(ctx context.Context, entryID string, actor models.Actor, mode string) (*models.Transaction, error) {
	entry, err := a.ledger.Entry(entryID)
	if err != nil {
		return nil, err
	}

	if err := a.gate.Authorize(actor, "manual", approveAction(entry.Type)); err != nil {
		return nil, err
	}

	settled, err := a.ledger.SettleEntry(ctx, entryID, actor.ID)
	if err != nil {
		return nil, err
	}

	if mode == SettleGatewayAuto && settled.Type == models.TxWithdraw {
		ref, err := a.settlement.QueuePayout(ctx, settled)
		if err != nil {
			// The ledger is already settled; the payout can be re-issued.
			log.Printf("[APPROVAL] Payout instruction for entry %s failed: %v", entryID, err)
		} else {
			log.Printf("[APPROVAL] Payout instruction %s queued for entry %s", ref, entryID)
		}
	}

	return settled, nil
}

// Reject closes a PENDING entry without settling it. For withdrawals,
// refund=false keeps the reserved funds and is recorded as a high-risk
// action.
func (a *ApprovalService) Reject(ctx context.Context, entryID string, actor models.Actor, note string, refund bool) (*models.Transaction, error) {
	entry, err := a.ledger.Entry(entryID)
	if err != nil {
		return nil, err
	}

	if err := a.gate.Authorize(actor, "manual", rejectAction(entry.Type)); err != nil {
		return nil, err
	}

	return a.ledger.RejectEntry(ctx, entryID, actor.ID, note, refund)
}

// ManualAdjust applies an admin-initiated credit or deduction. The category
// must be MANUAL_ADD or MANUAL_DEDUCT; anything else belongs to the normal
// deposit/withdrawal flow.
func (a *ApprovalService) ManualAdjust(ctx context.Context, m Mutation, actor models.Actor) (*models.Transaction, error) {
	var action string
	switch m.Category {
	case models.TxManualAdd, models.TxBonus:
		action = "add"
	case models.TxManualDeduct:
		action = "deduct"
	default:
		return nil, fmt.Errorf("%w: category %s is not a manual adjustment", ErrInvalidAmount, m.Category)
	}

	if err := a.gate.Authorize(actor, "manual", action); err != nil {
		return nil, err
	}

	m.ActorID = actor.ID
	return a.ledger.Apply(ctx, m)
}

func approveAction(category models.TxCategory) string {
	if category == models.TxWithdraw {
		return "approve_withdraw"
	}
	return "approve_deposit"
}

func rejectAction(category models.TxCategory) string {
	if category == models.TxWithdraw {
		return "reject_withdraw"
	}
	return "reject_deposit"
}
