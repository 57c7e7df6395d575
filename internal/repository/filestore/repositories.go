package filestore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aryan-thawkar/minipr2/internal/domain"
	"github.com/aryan-thawkar/minipr2/internal/errors"
)

// ledgerAccess is implemented by FileStore, where every mutate is its own
// persisted unit, and by txStore, where mutations land in the working copy.
type ledgerAccess interface {
	view(fn func(*domain.Ledger) error) error
	mutate(fn func(*domain.Ledger) error) error
}

type accountRepository struct {
	ledger ledgerAccess
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	return r.ledger.mutate(func(l *domain.Ledger) error {
		return l.Add(account.WithoutHistory())
	})
}

func (r *accountRepository) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var out *domain.Account
	err := r.ledger.view(func(l *domain.Ledger) error {
		a, ok := l.Account(id)
		if !ok {
			return errors.ErrAccountNotFound
		}
		out = a.WithoutHistory()
		return nil
	})
	return out, err
}

// GetAccountForUpdate is GetAccount: the store lock already covers the
// whole ledger.
func (r *accountRepository) GetAccountForUpdate(ctx context.Context, id string) (*domain.Account, error) {
	return r.GetAccount(ctx, id)
}

func (r *accountRepository) GetAccountByIdentity(ctx context.Context, identityID int) (*domain.Account, error) {
	var out *domain.Account
	err := r.ledger.view(func(l *domain.Ledger) error {
		a, ok := l.AccountByIdentity(identityID)
		if !ok {
			return errors.ErrAccountNotFound
		}
		out = a.WithoutHistory()
		return nil
	})
	return out, err
}

func (r *accountRepository) UpdateAccountBalance(ctx context.Context, id string, newBalance decimal.Decimal) error {
	return r.ledger.mutate(func(l *domain.Ledger) error {
		if err := l.SetBalance(id, newBalance); err != nil {
			return err
		}
		a, _ := l.Account(id)
		a.UpdatedAt = time.Now()
		return nil
	})
}

func (r *accountRepository) ListIdentityIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := r.ledger.view(func(l *domain.Ledger) error {
		ids = l.IdentityIDs()
		return nil
	})
	return ids, err
}

type transactionRepository struct {
	ledger ledgerAccess
}

func (r *transactionRepository) AppendTransaction(ctx context.Context, tx *domain.Transaction) error {
	return r.ledger.mutate(func(l *domain.Ledger) error {
		return l.Append(tx)
	})
}

func (r *transactionRepository) ListTransactions(ctx context.Context, accountID string, limit int) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := r.ledger.view(func(l *domain.Ledger) error {
		a, ok := l.Account(accountID)
		if !ok {
			return errors.ErrAccountNotFound
		}
		txs := a.Transactions
		if limit > 0 && len(txs) > limit {
			txs = txs[len(txs)-limit:]
		}
		out = make([]*domain.Transaction, len(txs))
		for i, tx := range txs {
			c := *tx
			out[i] = &c
		}
		return nil
	})
	return out, err
}
