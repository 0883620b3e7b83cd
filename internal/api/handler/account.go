package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AccountHandler struct {
	wallet *service.WalletService
}

func NewAccountHandler(wallet *service.WalletService) *AccountHandler {
	return &AccountHandler{wallet: wallet}
}

// GetAccount handles GET /v1/accounts/{id}.
// Returns the balance snapshot plus recent transactions.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account ID")
		return
	}

	limit, offset, ok := paginationParams(w, r)
	if !ok {
		return
	}

	snapshot, err := h.wallet.GetAccountSnapshot(r.Context(), accountID, limit, offset)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			RespondError(w, r, http.StatusNotFound, "account/not-found", "Account not found")
			return
		}
		zap.L().Error("get account snapshot failed", zap.Error(err), zap.String("account_id", accountID.String()))
		RespondError(w, r, http.StatusInternalServerError, "account/read-failed", "Failed to get account")
		return
	}
	if !isAdmin && snapshot.Account.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	RespondJSON(w, http.StatusOK, snapshot)
}

func paginationParams(w http.ResponseWriter, r *http.Request) (limit, offset int32, ok bool) {
	limit = 50
	offset = 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return 0, 0, false
		}
		limit = int32(parsed)
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = int32(parsed)
	}
	return limit, offset, true
}
