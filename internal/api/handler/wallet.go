package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WalletHandler handles deposit and payout intake plus transaction reads.
type WalletHandler struct {
	wallet *service.WalletService
	repo   *repository.Repository
}

func NewWalletHandler(wallet *service.WalletService, repo *repository.Repository) *WalletHandler {
	return &WalletHandler{wallet: wallet, repo: repo}
}

// CreateDepositRequest represents the request body for a deposit.
type CreateDepositRequest struct {
	AccountID    string `json:"account_id"`
	AmountMicros int64  `json:"amount_micros"`
}

// CreatePayoutRequest represents the request body for a payout.
type CreatePayoutRequest struct {
	AccountID      string  `json:"account_id"`
	CounterpartyID *string `json:"counterparty_id,omitempty"`
	AmountMicros   int64   `json:"amount_micros"`
}

// CreateDeposit handles POST /v1/deposits. Returns 202 Accepted: the credit
// lands asynchronously once the settlement worker confirms the funds.
func (h *WalletHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreateDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	accountID, ok := h.authorizeAccount(w, r, req.AccountID, actorID, isAdmin)
	if !ok {
		return
	}

	resp, err := h.wallet.CreateDeposit(r.Context(), service.CreateDepositRequest{
		AccountID:    accountID,
		AmountMicros: req.AmountMicros,
	})
	if err != nil {
		h.respondIntakeError(w, r, err, "deposit")
		return
	}

	RespondJSON(w, http.StatusAccepted, resp)
}

// CreatePayout handles POST /v1/payouts. The amount is held immediately;
// settlement waits for an admin decision.
func (h *WalletHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreatePayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	accountID, ok := h.authorizeAccount(w, r, req.AccountID, actorID, isAdmin)
	if !ok {
		return
	}

	var counterpartyID *uuid.UUID
	if req.CounterpartyID != nil && *req.CounterpartyID != "" {
		parsed, err := uuid.Parse(*req.CounterpartyID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-counterparty-id", "Invalid counterparty_id")
			return
		}
		counterpartyID = &parsed
	}

	resp, err := h.wallet.CreatePayout(r.Context(), service.CreatePayoutRequest{
		AccountID:      accountID,
		CounterpartyID: counterpartyID,
		AmountMicros:   req.AmountMicros,
	})
	if err != nil {
		h.respondIntakeError(w, r, err, "payout")
		return
	}

	RespondJSON(w, http.StatusAccepted, resp)
}

// GetTransaction handles GET /v1/transactions/{id}.
func (h *WalletHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	tx, err := h.wallet.GetTransaction(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, models.ErrTransactionNotFound) {
			RespondError(w, r, http.StatusNotFound, "transaction/not-found", "Transaction not found")
			return
		}
		zap.L().Error("get transaction failed", zap.Error(err), zap.String("transaction_id", transactionID.String()))
		RespondError(w, r, http.StatusInternalServerError, "transaction/read-failed", "Failed to get transaction")
		return
	}

	if !isAdmin {
		account, accErr := h.repo.GetAccount(r.Context(), tx.AccountID)
		if accErr != nil {
			RespondError(w, r, http.StatusInternalServerError, "transaction/account-read-failed", "Failed to verify transaction ownership")
			return
		}
		if account.UserID != actorID {
			RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
			return
		}
	}

	RespondJSON(w, http.StatusOK, tx)
}

func (h *WalletHandler) authorizeAccount(w http.ResponseWriter, r *http.Request, rawAccountID string, actorID uuid.UUID, isAdmin bool) (uuid.UUID, bool) {
	if rawAccountID == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-account-id", "account_id is required")
		return uuid.Nil, false
	}
	accountID, err := uuid.Parse(rawAccountID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account_id")
		return uuid.Nil, false
	}

	account, err := h.repo.GetAccount(r.Context(), accountID)
	if err != nil {
		RespondError(w, r, http.StatusNotFound, "account/not-found", "Account not found")
		return uuid.Nil, false
	}
	if !isAdmin && account.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return uuid.Nil, false
	}
	return accountID, true
}

func (h *WalletHandler) respondIntakeError(w http.ResponseWriter, r *http.Request, err error, kind string) {
	switch {
	case errors.Is(err, models.ErrInvalidAmount):
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "Amount must be greater than zero")
	case errors.Is(err, models.ErrSelfTransferNotAllowed):
		RespondError(w, r, http.StatusBadRequest, "payout/self-transfer", "Payouts to the originating account are not allowed")
	case errors.Is(err, models.ErrAccountNotFound):
		RespondError(w, r, http.StatusNotFound, "account/not-found", "Account not found")
	case errors.Is(err, models.ErrInsufficientBalance):
		RespondError(w, r, http.StatusUnprocessableEntity, "payout/insufficient-balance", "Insufficient available balance")
	case errors.Is(err, models.ErrDailyLimitExceeded):
		RespondError(w, r, http.StatusUnprocessableEntity, "wallet/daily-limit-exceeded", "Daily transfer limit exceeded")
	default:
		zap.L().Error("transaction intake failed", zap.Error(err), zap.String("kind", kind))
		RespondError(w, r, http.StatusInternalServerError, kind+"/create-failed", "Failed to create "+kind)
	}
}
