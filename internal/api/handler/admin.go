package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminHandler exposes the payout approval surface. Every route behind it
// requires the admin role.
type AdminHandler struct {
	svc *service.AdminService
}

func NewAdminHandler(svc *service.AdminService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// ListPendingPayouts handles GET /v1/admin/payouts/pending.
func (h *AdminHandler) ListPendingPayouts(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := paginationParams(w, r)
	if !ok {
		return
	}

	var accountID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("account_id")); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account_id")
			return
		}
		accountID = &parsed
	}

	payouts, err := h.svc.ListPendingPayouts(r.Context(), accountID, limit, offset)
	if err != nil {
		zap.L().Error("list pending payouts failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "admin/list-failed", "Failed to list pending payouts")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{"payouts": payouts})
}

// DecidePayoutRequest represents the request body for an approval decision.
type DecidePayoutRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// DecidePayout handles POST /v1/admin/payouts/{id}/decide. A transaction can
// be decided exactly once; repeat decisions get 409.
func (h *AdminHandler) DecidePayout(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	var req DecidePayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	resp, err := h.svc.DecidePayout(r.Context(), service.DecidePayoutRequest{
		TransactionID: transactionID,
		Decision:      req.Decision,
		Reason:        req.Reason,
		ActorID:       &actorID,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTransactionNotFound):
			RespondError(w, r, http.StatusNotFound, "transaction/not-found", "Transaction not found")
		case errors.Is(err, models.ErrAlreadyDecided):
			RespondError(w, r, http.StatusConflict, "payout/already-decided", "Payout has already been decided")
		case errors.Is(err, service.ErrUnknownDecision):
			RespondError(w, r, http.StatusBadRequest, "request/invalid-decision", "decision must be \"approve\" or \"reject\"")
		default:
			zap.L().Error("decide payout failed", zap.Error(err),
				zap.String("transaction_id", transactionID.String()),
				zap.String("decision", req.Decision))
			RespondError(w, r, http.StatusInternalServerError, "admin/decide-failed", "Failed to decide payout")
		}
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}
