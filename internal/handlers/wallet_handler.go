package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/chokdee888/backend/internal/middleware"
	"github.com/chokdee888/backend/internal/models"
	"github.com/chokdee888/backend/internal/services"
	"github.com/chokdee888/backend/internal/wallet"
)

// WalletHandler is the player-facing money surface: balances, deposit
// claims, withdrawal requests and transaction history.
type WalletHandler struct {
	ledger    *services.LedgerService
	qr        *services.QRService
	wallet    wallet.Adapter
	validator *services.ValidationHelper
}

func NewWalletHandler(ledger *services.LedgerService, qr *services.QRService, adapter wallet.Adapter) *WalletHandler {
	return &WalletHandler{
		ledger:    ledger,
		qr:        qr,
		wallet:    adapter,
		validator: services.NewValidationHelper(),
	}
}

// GetBalance returns the local balances plus the live external wallet
// balance when the account is provisioned.
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := h.ledger.Account(userID)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	resp := map[string]any{
		"success":       true,
		"balance":       account.Balance,
		"bonus_balance": account.BonusBalance,
	}

	if account.Provisioned() {
		if external, err := h.wallet.GetBalance(r.Context(), account.WalletUsername); err == nil {
			resp["wallet_balance"] = external
		}
	}

	services.SendJSONResponse(w, http.StatusOK, resp)
}

// RequestDeposit opens a deposit claim and returns the transfer
// instruction as a QR code.
func (h *WalletHandler) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	claim, err := h.ledger.CreateDepositClaim(r.Context(), services.Mutation{
		UserID:   userID,
		Category: models.TxDeposit,
		Ledger:   models.LedgerMain,
		SubType:  "USER_REQUEST",
		Amount:   req.Amount,
		ActorID:  models.SystemActorID,
	})
	if err != nil {
		sendServiceError(w, err)
		return
	}

	code, image, err := h.qr.GenerateDepositQR(r.Context(), userID, req.Amount, claim.ID)
	if err != nil {
		// The claim stands; the client can still deposit without the QR.
		services.SendJSONResponse(w, http.StatusCreated, map[string]any{
			"success":  true,
			"claim_id": claim.ID,
		})
		return
	}

	services.SendJSONResponse(w, http.StatusCreated, map[string]any{
		"success":  true,
		"claim_id": claim.ID,
		"qr_code":  code,
		"qr_image": image,
	})
}

// RequestWithdrawal reserves the amount from the spendable balance and
// queues a PENDING withdrawal for admin approval.
func (h *WalletHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entry, err := h.ledger.ReserveWithdrawal(r.Context(), services.Mutation{
		UserID:   userID,
		Category: models.TxWithdraw,
		Ledger:   models.LedgerMain,
		SubType:  "USER_REQUEST",
		Amount:   req.Amount,
		ActorID:  models.SystemActorID,
	})
	if err != nil {
		sendServiceError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusCreated, map[string]any{
		"success":     true,
		"entry_id":    entry.ID,
		"status":      entry.Status,
		"new_balance": entry.BalanceAfter,
	})
}

// ResolveDepositQR validates a scanned deposit code and returns the
// transfer instruction it carries. Codes are single-use.
func (h *WalletHandler) ResolveDepositQR(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserID(r.Context()); !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Code string `json:"code" validate:"required"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	instruction, err := h.qr.ResolveDepositQR(r.Context(), req.Code)
	if err != nil {
		services.SendErrorResponse(w, "Invalid or expired QR code", http.StatusBadRequest, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":     true,
		"instruction": instruction,
	})
}

// Provision creates the player's external wallet identity. Idempotent.
func (h *WalletHandler) Provision(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	username, err := h.ledger.ProvisionWallet(r.Context(), userID)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":         true,
		"wallet_username": username,
	})
}

// GetTransactions returns the player's recent ledger entries.
func (h *WalletHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	entries, err := h.ledger.History(userID, limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":      true,
		"transactions": entries,
		"count":        len(entries),
	})
}

// decodeBody reads a single JSON object with the standard size and
// strictness limits. Writes the error response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// sendServiceError maps service sentinels to HTTP statuses.
func sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAccountNotFound), errors.Is(err, services.ErrEntryNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, services.ErrInvalidAmount), errors.Is(err, services.ErrInsufficientFunds),
		errors.Is(err, services.ErrWalletNotProvisioned):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrAccountInactive):
		services.SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, services.ErrAlreadyProcessed):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, services.ErrExternalTransfer),
		errors.Is(err, wallet.ErrRegisterFailed), errors.Is(err, wallet.ErrTransferFailed):
		services.SendErrorResponse(w, err.Error(), http.StatusBadGateway, nil)
	case errors.Is(err, services.ErrDivergence):
		services.SendErrorResponse(w, "Transfer is being reconciled, do not retry", http.StatusAccepted, nil)
	default:
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
