package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the thin read/provisioning layer used by HTTP handlers.
// Balance-mutating paths go through Store/Queries instead.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	return New(r.db).CreateUser(ctx, user)
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	query := `SELECT id, username, email, role, created_at FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.Username, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	account, err := New(r.db).GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (r *Repository) GetAccountByUser(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get account by user: %w", err)
	}
	return &account, nil
}

func (r *Repository) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	txs, err := New(r.db).ListTransactionsByAccount(ctx, ListTransactionsByAccountParams{
		AccountID: accountID,
		Limit:     int32(limit),
		Offset:    int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}
