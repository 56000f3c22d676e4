package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chokdee888/backend/internal/audit"
	"github.com/chokdee888/backend/internal/middleware"
	"github.com/chokdee888/backend/internal/models"
	"github.com/chokdee888/backend/internal/services"
)

// ManualHandler is the admin surface: manual balance adjustments,
// approval decisions on pending entries, and unmatched-SMS resolution.
type ManualHandler struct {
	approval  *services.ApprovalService
	ledger    *services.LedgerService
	reconcile *services.ReconcileService
	validator *services.ValidationHelper
}

func NewManualHandler(approval *services.ApprovalService, ledger *services.LedgerService, reconcile *services.ReconcileService) *ManualHandler {
	return &ManualHandler{
		approval:  approval,
		ledger:    ledger,
		reconcile: reconcile,
		validator: services.NewValidationHelper(),
	}
}

type adjustRequest struct {
	UserID  int64  `json:"user_id" validate:"required,gt=0"`
	Amount  int64  `json:"amount" validate:"required,gt=0"`
	Ledger  string `json:"ledger" validate:"omitempty,oneof=main bonus"`
	SubType string `json:"sub_type"`
	Note    string `json:"note"`
}

// AddBalance credits a user manually.
func (h *ManualHandler) AddBalance(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, models.TxManualAdd)
}

// DeductBalance debits a user manually.
func (h *ManualHandler) DeductBalance(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, models.TxManualDeduct)
}

func (h *ManualHandler) adjust(w http.ResponseWriter, r *http.Request, category models.TxCategory) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req adjustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ledger := models.LedgerMain
	if req.Ledger == string(models.LedgerBonus) {
		ledger = models.LedgerBonus
	}

	entry, err := h.approval.ManualAdjust(r.Context(), services.Mutation{
		UserID:   req.UserID,
		Ledger:   ledger,
		Category: category,
		SubType:  req.SubType,
		Amount:   req.Amount,
		Note:     req.Note,
	}, actor)
	if err != nil {
		sendAdminError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusCreated, map[string]any{
		"success":     true,
		"transaction": entry,
	})
}

// Approve settles a PENDING entry.
func (h *ManualHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	entryID := chi.URLParam(r, "entryID")

	var req struct {
		Mode string `json:"mode" validate:"omitempty,oneof=manual gatewayAuto"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Mode == "" {
		req.Mode = services.SettleManual
	}

	entry, err := h.approval.Approve(r.Context(), entryID, actor, req.Mode)
	if err != nil {
		sendAdminError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":     true,
		"transaction": entry,
	})
}

// Reject closes a PENDING entry. For withdrawals refund defaults to true;
// refund=false retains the reserved funds and is audit-flagged.
func (h *ManualHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	entryID := chi.URLParam(r, "entryID")

	var req struct {
		Note   string `json:"note" validate:"required"`
		Refund *bool  `json:"refund"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	refund := true
	if req.Refund != nil {
		refund = *req.Refund
	}

	entry, err := h.approval.Reject(r.Context(), entryID, actor, req.Note, refund)
	if err != nil {
		sendAdminError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":     true,
		"transaction": entry,
	})
}

// ListPending lists open approval work for one category.
func (h *ManualHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.ActorFrom(r.Context()); !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	category := models.TxWithdraw
	if r.URL.Query().Get("type") == string(models.TxDeposit) {
		category = models.TxDeposit
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	entries, err := h.ledger.PendingEntries(category, limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch pending entries", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":      true,
		"transactions": entries,
		"count":        len(entries),
	})
}

// ResolveSMS attaches an unmatched SMS log to a user and credits the
// deposit.
func (h *ManualHandler) ResolveSMS(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	logID, err := strconv.ParseInt(chi.URLParam(r, "logID"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid log ID", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		UserID int64 `json:"user_id" validate:"required,gt=0"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.reconcile.ResolveManual(r.Context(), logID, req.UserID, actor)
	if err != nil {
		sendAdminError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

// RejectSMS closes an unresolvable SMS log.
func (h *ManualHandler) RejectSMS(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	logID, err := strconv.ParseInt(chi.URLParam(r, "logID"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid log ID", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Note string `json:"note" validate:"required"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.reconcile.RejectLog(r.Context(), logID, actor, req.Note); err != nil {
		sendAdminError(w, err)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}

func sendAdminError(w http.ResponseWriter, err error) {
	if errors.Is(err, audit.ErrPermissionDenied) {
		services.SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
		return
	}
	sendServiceError(w, err)
}
