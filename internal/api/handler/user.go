package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ayo6706/wallet-settlement/internal/service"
	"go.uber.org/zap"
)

type UserHandler struct {
	svc *service.AccountService
}

func NewUserHandler(svc *service.AccountService) *UserHandler {
	return &UserHandler{svc: svc}
}

// CreateUser provisions a user plus their zero-balance account. Requested
// roles are ignored; everyone starts as a regular user.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if req.Username == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-username", "username is required")
		return
	}

	resp, err := h.svc.CreateUserWithAccount(r.Context(), service.CreateUserRequest{
		Username: req.Username,
		Email:    req.Email,
		Role:     "user",
	})
	if err != nil {
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("create user failed", zap.Error(err), zap.String("email", req.Email))
		RespondError(w, r, http.StatusInternalServerError, "user/create-failed", "Failed to create user")
		return
	}

	RespondJSON(w, http.StatusCreated, resp)
}
