package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so the same query set
// can run standalone or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Queries bundles all hand-written SQL against the wallet schema.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to the given transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// CreateUser inserts a user row, filling in the database timestamp.
func (q *Queries) CreateUser(ctx context.Context, user *models.User) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO users (id, username, email, role, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at`,
		user.ID, user.Username, user.Email, user.Role).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

const accountColumns = "id, user_id, available_micros, held_micros, created_at, updated_at"

func scanAccount(row pgx.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.UserID, &a.AvailableMicros, &a.HeldMicros, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

type CreateAccountParams struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

// CreateAccount provisions a zero-balance account.
func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO accounts (id, user_id, available_micros, held_micros, created_at, updated_at)
		VALUES ($1, $2, 0, 0, NOW(), NOW())
		RETURNING `+accountColumns,
		arg.ID, arg.UserID)
	return scanAccount(row)
}

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	row := q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetAccountForUpdate takes the row lock that serializes same-account
// mutations across processes. Only call inside RunInTx.
func (q *Queries) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (models.Account, error) {
	row := q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

type BalanceMutationParams struct {
	AmountMicros int64
	ID           uuid.UUID
}

// HoldFunds moves amount from available to held. The WHERE guard makes the
// hold conditional on sufficient available balance, so the row count tells
// the caller whether the reservation happened.
func (q *Queries) HoldFunds(ctx context.Context, arg BalanceMutationParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE accounts
		SET available_micros = available_micros - $1,
		    held_micros = held_micros + $1,
		    updated_at = NOW()
		WHERE id = $2 AND available_micros >= $1`,
		arg.AmountMicros, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReleaseHeldFunds returns held amount to available (payout reject/timeout).
func (q *Queries) ReleaseHeldFunds(ctx context.Context, arg BalanceMutationParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE accounts
		SET held_micros = held_micros - $1,
		    available_micros = available_micros + $1,
		    updated_at = NOW()
		WHERE id = $2 AND held_micros >= $1`,
		arg.AmountMicros, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CommitHeldFunds burns a hold on payout approval.
func (q *Queries) CommitHeldFunds(ctx context.Context, arg BalanceMutationParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE accounts
		SET held_micros = held_micros - $1,
		    updated_at = NOW()
		WHERE id = $2 AND held_micros >= $1`,
		arg.AmountMicros, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreditAvailable adds settled funds to an account's available balance.
func (q *Queries) CreditAvailable(ctx context.Context, arg BalanceMutationParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE accounts
		SET available_micros = available_micros + $1,
		    updated_at = NOW()
		WHERE id = $2`,
		arg.AmountMicros, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const transactionColumns = "id, account_id, counterparty_id, amount_micros, kind, status, created_at, updated_at"

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	var counterparty pgtype.UUID
	err := row.Scan(&t.ID, &t.AccountID, &counterparty, &t.AmountMicros, &t.Kind, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if counterparty.Valid {
		id := FromPgUUID(counterparty)
		t.CounterpartyID = &id
	}
	return t, nil
}

type CreateTransactionParams struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	CounterpartyID pgtype.UUID
	AmountMicros   int64
	Kind           string
	Status         string
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (models.Transaction, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO transactions (id, account_id, counterparty_id, amount_micros, kind, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING `+transactionColumns,
		arg.ID, arg.AccountID, arg.CounterpartyID, arg.AmountMicros, arg.Kind, arg.Status)
	return scanTransaction(row)
}

func (q *Queries) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	row := q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetTransactionForUpdate locks the transaction row for a settlement decision.
func (q *Queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	row := q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	return scanTransaction(row)
}

func (q *Queries) GetTransactionStatusForUpdate(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := q.db.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	return status, err
}

type UpdateTransactionStatusParams struct {
	Status string
	ID     uuid.UUID
}

func (q *Queries) UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2`,
		arg.Status, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type ListTransactionsByAccountParams struct {
	AccountID uuid.UUID
	Limit     int32
	Offset    int32
}

func (q *Queries) ListTransactionsByAccount(ctx context.Context, arg ListTransactionsByAccountParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		arg.AccountID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

type ListPendingPayoutsParams struct {
	AccountID pgtype.UUID // optional filter; invalid means all accounts
	Limit     int32
	Offset    int32
}

func (q *Queries) ListPendingPayouts(ctx context.Context, arg ListPendingPayoutsParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE kind = 'payout' AND status = 'PENDING'
		  AND ($1::uuid IS NULL OR account_id = $1)
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`,
		arg.AccountID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// SumDailyActiveAmount computes the rolling calendar-day total of non-failed
// transaction amounts for the limit check. Must run under the account lock.
func (q *Queries) SumDailyActiveAmount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_micros), 0)
		FROM transactions
		WHERE account_id = $1
		  AND created_at >= date_trunc('day', NOW())
		  AND status != 'FAILED'`,
		accountID).Scan(&total)
	return total, err
}

type ListStalePendingParams struct {
	CreatedBefore pgtype.Timestamptz
	Limit         int32
}

// ListStalePendingTransactions finds transactions stuck PENDING past the
// cutoff; the reconciliation sweep re-enqueues them.
func (q *Queries) ListStalePendingTransactions(ctx context.Context, arg ListStalePendingParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`,
		arg.CreatedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListNegativeBalanceAccounts should always return nothing; any row is a
// conservation violation.
func (q *Queries) ListNegativeBalanceAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE available_micros < 0 OR held_micros < 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   pgtype.UUID
	ActorID    pgtype.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id`,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata).Scan(&id)
	return id, err
}

type IdempotencyKeyRow struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKeyRow, error) {
	var row IdempotencyKeyRow
	err := q.db.QueryRow(ctx, `
		SELECT idempotency_key, request_hash, method, path,
		       COALESCE(response_status, 0), COALESCE(response_body, ''::bytea),
		       COALESCE(content_type, ''), in_progress
		FROM idempotency_keys WHERE idempotency_key = $1`,
		key).Scan(&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path,
		&row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress)
	return row, err
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

// ReserveIdempotencyKey claims the key for the current request. ON CONFLICT
// DO NOTHING plus RETURNING means a losing racer gets pgx.ErrNoRows.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (string, error) {
	var key string
	err := q.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key`,
		arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path).Scan(&key)
	return key, err
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKeyRow, error) {
	var row IdempotencyKeyRow
	err := q.db.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress`,
		arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash).
		Scan(&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path,
			&row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress)
	return row, err
}
