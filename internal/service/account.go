package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
)

// AccountService provisions users and their zero-balance accounts.
type AccountService struct {
	repo  *repository.Repository
	store QueryStore
}

func NewAccountService(repo *repository.Repository, store QueryStore) *AccountService {
	return &AccountService{repo: repo, store: store}
}

// CreateUserRequest holds the parameters for user provisioning.
type CreateUserRequest struct {
	Username string
	Email    string
	Role     string
}

// CreateUserResponse returns the provisioned user and account.
type CreateUserResponse struct {
	User    models.User    `json:"user"`
	Account models.Account `json:"account"`
}

// CreateUserWithAccount creates a user and a zero-balance account for them
// in one database transaction.
func (s *AccountService) CreateUserWithAccount(ctx context.Context, req CreateUserRequest) (*CreateUserResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = "user"
	}
	if role != "user" && role != "admin" {
		return nil, fmt.Errorf("unknown role: %q", req.Role)
	}

	user := models.User{
		ID:       uuid.New(),
		Username: username,
		Email:    strings.TrimSpace(req.Email),
		Role:     role,
	}
	var account models.Account
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := qtx.CreateUser(ctx, &user); err != nil {
			return err
		}
		var err error
		account, err = qtx.CreateAccount(ctx, repository.CreateAccountParams{
			ID:     uuid.New(),
			UserID: user.ID,
		})
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &CreateUserResponse{User: user, Account: account}, nil
}

// GetUser retrieves a user by ID.
func (s *AccountService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.repo.GetUser(ctx, id)
}

// GetAccountByUser finds the account owned by the given user.
func (s *AccountService) GetAccountByUser(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	return s.repo.GetAccountByUser(ctx, userID)
}
