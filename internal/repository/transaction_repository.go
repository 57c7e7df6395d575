package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/aryan-thawkar/minipr2/internal/domain"
	"github.com/aryan-thawkar/minipr2/internal/errors"
)

type transactionRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewTransactionRepository(db SQLExecutor, logger *slog.Logger) domain.TransactionRepository {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

// AppendTransaction inserts tx only while its resulting balance equals the
// account's current balance.
func (r *transactionRepository) AppendTransaction(ctx context.Context, tx *domain.Transaction) error {
	if !tx.Amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if !tx.Kind.Valid() {
		return errors.NewAppErrorf(errors.InvalidInput, "unknown transaction kind %q", tx.Kind)
	}

	query := `
		INSERT INTO account_transactions
		(id, account_id, occurred_at, amount, kind, resulting_balance, counterparty)
		SELECT $1::uuid, $2::text, $3::timestamptz, $4::numeric, $5::text, $6::numeric, $7::text
		WHERE EXISTS (SELECT 1 FROM accounts WHERE id = $2::text AND balance = $6::numeric)
	`

	var counterparty sql.NullString
	if tx.Counterparty != "" {
		counterparty = sql.NullString{String: tx.Counterparty, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		query,
		tx.ID,
		tx.AccountID,
		tx.Timestamp,
		tx.Amount.String(),
		string(tx.Kind),
		tx.ResultingBalance.String(),
		counterparty,
	)
	if err != nil {
		r.logger.Error("Failed to append transaction",
			"account_id", tx.AccountID,
			"kind", tx.Kind,
			"amount", tx.Amount,
			"error", err)
		return errors.NewAppError(errors.InternalError, "failed to append transaction").WithCause(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithCause(err)
	}
	if rowsAffected == 0 {
		if _, err := NewAccountRepository(r.db, r.logger).GetAccount(ctx, tx.AccountID); err != nil {
			return err
		}
		return errors.NewAppErrorf(errors.InternalError,
			"resulting balance %s does not match account %s", tx.ResultingBalance, tx.AccountID)
	}

	r.logger.Debug("Transaction appended", "transaction_id", tx.ID, "account_id", tx.AccountID)
	return nil
}

func (r *transactionRepository) ListTransactions(ctx context.Context, accountID string, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT id, account_id, occurred_at, amount, kind, resulting_balance, counterparty
		FROM (
			SELECT * FROM account_transactions
			WHERE account_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC
	`

	// LIMIT NULL is LIMIT ALL.
	var limitArg sql.NullInt64
	if limit > 0 {
		limitArg = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := r.db.QueryContext(ctx, query, accountID, limitArg)
	if err != nil {
		r.logger.Error("Failed to list transactions", "account_id", accountID, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list transactions").WithCause(err)
	}
	defer rows.Close()

	txs := []*domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list transactions").WithCause(err)
	}

	if len(txs) == 0 {
		if _, err := NewAccountRepository(r.db, r.logger).GetAccount(ctx, accountID); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

func scanTransaction(rows *sql.Rows) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amountStr, balanceStr, kind string
	var counterparty sql.NullString

	if err := rows.Scan(
		&tx.ID,
		&tx.AccountID,
		&tx.Timestamp,
		&amountStr,
		&kind,
		&balanceStr,
		&counterparty,
	); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to scan transaction").WithCause(err)
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse amount").WithCause(err)
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse balance").WithCause(err)
	}

	tx.Amount = amount
	tx.ResultingBalance = balance
	tx.Kind = domain.TransactionKind(kind)
	tx.Counterparty = counterparty.String
	return &tx, nil
}
