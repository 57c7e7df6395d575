package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/aryan-thawkar/minipr2/internal/domain"
	"github.com/aryan-thawkar/minipr2/internal/errors"
)

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
)

const accountColumns = `id, name, balance, identity_id, is_admin, created_at, updated_at`

type accountRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewAccountRepository(db SQLExecutor, logger *slog.Logger) domain.AccountRepository {
	return &accountRepository{
		db:     db,
		logger: logger,
	}
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	if account.IsAdmin {
		account.IdentityID = nil
	} else if account.IdentityID == nil || *account.IdentityID < 0 {
		return errors.NewAppError(errors.InvalidInput, "user account requires a non-negative identity")
	}
	if account.Balance.IsNegative() {
		return errors.ErrInvalidAmount
	}

	query := `
		INSERT INTO accounts (id, name, balance, identity_id, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	var identityID sql.NullInt64
	if account.IdentityID != nil {
		identityID = sql.NullInt64{Int64: int64(*account.IdentityID), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		query,
		account.ID,
		account.Name,
		account.Balance.String(),
		identityID,
		account.IsAdmin,
		account.CreatedAt,
		account.UpdatedAt,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			r.logger.Warn("Duplicate account creation attempt", "account_id", account.ID, "constraint", pqErr.Constraint)
			switch pqErr.Constraint {
			case "accounts_identity_id_key":
				return errors.ErrDuplicateIdentity
			case "accounts_single_admin":
				return errors.ErrDuplicateAccount.WithDetails("ledger already has an admin account")
			}
			return errors.ErrDuplicateAccount
		}
		r.logger.Error("Failed to create account", "account_id", account.ID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to create account").WithCause(err)
	}

	r.logger.Info("Account created successfully", "account_id", account.ID)
	return nil
}

func (r *accountRepository) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(ctx, query, id)
}

func (r *accountRepository) GetAccountForUpdate(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return r.scanAccount(ctx, query, id)
}

func (r *accountRepository) GetAccountByIdentity(ctx context.Context, identityID int) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE identity_id = $1`
	return r.scanAccount(ctx, query, identityID)
}

func (r *accountRepository) scanAccount(ctx context.Context, query string, arg interface{}) (*domain.Account, error) {
	var account domain.Account
	var balanceStr string
	var identityID sql.NullInt64

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Name,
		&balanceStr,
		&identityID,
		&account.IsAdmin,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			r.logger.Debug("Account not found", "lookup", arg)
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("Failed to get account", "lookup", arg, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get account").WithCause(err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		r.logger.Error("Failed to parse balance", "account_id", account.ID, "balance_str", balanceStr, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to parse balance").WithCause(err)
	}

	account.Balance = balance
	if identityID.Valid {
		account.IdentityID = domain.IntPtr(int(identityID.Int64))
	}
	return &account, nil
}

func (r *accountRepository) UpdateAccountBalance(ctx context.Context, id string, newBalance decimal.Decimal) error {
	if newBalance.IsNegative() {
		return errors.ErrInsufficientBalance
	}

	query := `
		UPDATE accounts
		SET balance = $1, updated_at = $2
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, newBalance.String(), time.Now(), id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqCheckViolation {
			return errors.ErrInsufficientBalance
		}
		r.logger.Error("Failed to update account balance", "account_id", id, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update account balance").WithCause(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithCause(err)
	}

	if rowsAffected == 0 {
		r.logger.Warn("No account found to update", "account_id", id)
		return errors.ErrAccountNotFound
	}

	r.logger.Debug("Account balance updated", "account_id", id, "new_balance", newBalance)
	return nil
}

func (r *accountRepository) ListIdentityIDs(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT identity_id FROM accounts WHERE identity_id IS NOT NULL ORDER BY identity_id`)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list identities").WithCause(err)
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan identity").WithCause(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list identities").WithCause(err)
	}
	return ids, nil
}
