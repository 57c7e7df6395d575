package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindDeposit TransactionKind = "deposit"
	KindPayment TransactionKind = "payment"
	KindReceive TransactionKind = "receive"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindPayment, KindReceive:
		return true
	}
	return false
}

// Transaction is an immutable, append-only history entry. ResultingBalance
// is the account balance immediately after the entry was applied.
type Transaction struct {
	ID               uuid.UUID       `json:"id"`
	AccountID        string          `json:"account_id"`
	Timestamp        time.Time       `json:"timestamp"`
	Amount           decimal.Decimal `json:"amount"`
	Kind             TransactionKind `json:"kind"`
	ResultingBalance decimal.Decimal `json:"resulting_balance"`
	Counterparty     string          `json:"counterparty,omitempty"`
}

type TransactionRepository interface {
	AppendTransaction(ctx context.Context, tx *Transaction) error
	// ListTransactions returns the last limit entries in append order;
	// limit <= 0 returns the full history.
	ListTransactions(ctx context.Context, accountID string, limit int) ([]*Transaction, error)
}

// Store groups the repositories behind one unit of work. Repositories
// obtained from the Store passed to fn see and mutate the same
// transactional state; fn returning an error discards every change.
type Store interface {
	Account() AccountRepository
	Transaction() TransactionRepository
	WithTransaction(ctx context.Context, fn func(Store) error) error
}
