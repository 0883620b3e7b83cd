package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MiB

// WebhookHandler receives settlement notifications from the payment rail.
type WebhookHandler struct {
	svc *service.WebhookService
}

func NewWebhookHandler(svc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// HandleRailEvent handles POST /v1/webhooks/rail. The raw body is read before
// parsing so the HMAC check covers exactly the bytes the rail signed.
func (h *WebhookHandler) HandleRailEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/unreadable-body", "Failed to read request body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")

	resp, err := h.svc.HandleRailEvent(r.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid webhook signature")
		case errors.Is(err, models.ErrTransactionNotFound):
			RespondError(w, r, http.StatusNotFound, "transaction/not-found", "Transaction not found")
		default:
			zap.L().Error("rail webhook processing failed", zap.Error(err))
			RespondError(w, r, http.StatusBadRequest, "webhook/invalid-event", err.Error())
		}
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}
