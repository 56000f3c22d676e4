package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chokdee888/backend/internal/middleware"
	"github.com/chokdee888/backend/internal/services"
)

// WebhookHandler receives bank-SMS notifications from forwarder apps and
// delivery callbacks from the payout gateway. Forwarders are inconsistent
// about field names and HTTP methods, so the SMS endpoint accepts several
// of both.
type WebhookHandler struct {
	reconcile  *services.ReconcileService
	settlement *services.SettlementService
	ledger     *services.LedgerService
}

func NewWebhookHandler(reconcile *services.ReconcileService, settlement *services.SettlementService, ledger *services.LedgerService) *WebhookHandler {
	return &WebhookHandler{reconcile: reconcile, settlement: settlement, ledger: ledger}
}

// Receive handles POSTed SMS payloads.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	message := firstString(body, "message", "body", "text", "key", "msg")
	if message == "" {
		services.SendErrorResponse(w, "No message provided", http.StatusBadRequest, nil)
		return
	}

	h.process(w, r, message, start)
}

// ReceiveGet handles forwarders that can only issue GET requests, taking
// the SMS from query parameters.
func (h *WebhookHandler) ReceiveGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	query := r.URL.Query()
	message := query.Get("message")
	if message == "" {
		message = query.Get("body")
	}
	if message == "" {
		message = query.Get("text")
	}
	if message == "" {
		services.SendErrorResponse(w, "No message provided", http.StatusBadRequest, nil)
		return
	}

	h.process(w, r, message, start)
}

func (h *WebhookHandler) process(w http.ResponseWriter, r *http.Request, message string, start time.Time) {
	log.Printf("[WEBHOOK] Received SMS: %s", truncate(message, 100))

	result, err := h.reconcile.Ingest(r.Context(), message)
	if err != nil {
		log.Printf("[WEBHOOK] Ingest failed: %v", err)
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
		return
	}

	elapsed := time.Since(start)
	log.Printf("[WEBHOOK] Processed in %s: status=%s level=%d", elapsed, result.Status, result.MatchLevel)

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success": result.Status == "MATCHED" || result.Status == "MANUAL_MATCH",
		"result":  result,
		"elapsed": elapsed.String(),
	})
}

// PayoutStatus receives the bank gateway's delivery callback for a queued
// payout instruction and answers with a pacs.002 status report.
func (h *WebhookHandler) PayoutStatus(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	entryID, err := h.settlement.ConfirmPayout(messageID, req.Status)
	if err == services.ErrEntryNotFound {
		services.SendErrorResponse(w, "Unknown payout instruction", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
		return
	}

	entry, err := h.ledger.Entry(entryID)
	if err != nil {
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
		return
	}

	report, err := h.settlement.StatusReport(entry, req.Status)
	if err != nil {
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[WEBHOOK] Payout %s reported %s by gateway", messageID, req.Status)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(report))
}

// Test confirms the webhook is reachable, for forwarder setup.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "SMS webhook is ready",
		"endpoint": "/api/notify/webhook",
		"methods":  "POST or GET",
	})
}

// Logs returns recent webhook logs for the admin screen.
func (h *WebhookHandler) Logs(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.ActorFrom(r.Context()); !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	logs, err := h.reconcile.RecentLogs(limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch logs", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"logs":    logs,
		"count":   len(logs),
	})
}

func firstString(body map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := body[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
