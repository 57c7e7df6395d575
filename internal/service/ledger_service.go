package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aryan-thawkar/minipr2/internal/domain"
	"github.com/aryan-thawkar/minipr2/internal/errors"
)

// RecentTransactionLimit is how much history a balance check shows.
const RecentTransactionLimit = 5

var maxAmount = decimal.NewFromInt(10_000_000_000) // 10 billion

// LedgerService applies balance mutations. Each mutation is one unit of work
// on the store: balances and history entries change together or not at all.
type LedgerService struct {
	store  domain.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewLedgerService(store domain.Store, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// TransferResult is the state of both accounts after a transfer.
type TransferResult struct {
	Payer  *domain.Account
	Payee  *domain.Account
	Debit  *domain.Transaction
	Credit *domain.Transaction
}

// EnsureAdmin returns the admin account, creating it on first start.
func (s *LedgerService) EnsureAdmin(ctx context.Context, name string) (*domain.Account, error) {
	admin, err := s.store.Account().GetAccount(ctx, domain.AdminAccountID)
	if err == nil {
		return admin, nil
	}
	if !errors.Is(err, errors.ErrAccountNotFound) {
		return nil, err
	}

	admin = &domain.Account{
		ID:      domain.AdminAccountID,
		Name:    name,
		Balance: decimal.Zero,
		IsAdmin: true,
	}
	if err := s.store.Account().CreateAccount(ctx, admin); err != nil {
		return nil, err
	}
	s.logger.Info("Admin account created", "account_id", admin.ID)
	return admin, nil
}

// FindByPhone reports absence as found == false rather than an error.
func (s *LedgerService) FindByPhone(ctx context.Context, phone string) (*domain.Account, bool, error) {
	return found(s.store.Account().GetAccount(ctx, phone))
}

func (s *LedgerService) FindByIdentity(ctx context.Context, identityID int) (*domain.Account, bool, error) {
	return found(s.store.Account().GetAccountByIdentity(ctx, identityID))
}

func found(a *domain.Account, err error) (*domain.Account, bool, error) {
	if errors.Is(err, errors.ErrAccountNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

func (s *LedgerService) UsedIdentityIDs(ctx context.Context) ([]int, error) {
	return s.store.Account().ListIdentityIDs(ctx)
}

// CreateAccount stores account together with a deposit entry seeding its
// opening balance. A zero opening balance records no deposit.
func (s *LedgerService) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	opening := account.Balance
	if opening.IsNegative() {
		return nil, errors.ErrInvalidAmount
	}

	created := account.WithoutHistory()
	created.Balance = decimal.Zero

	err := s.store.WithTransaction(ctx, func(st domain.Store) error {
		if err := st.Account().CreateAccount(ctx, created); err != nil {
			return err
		}
		if opening.IsZero() {
			return nil
		}
		tx, err := s.deposit(ctx, st, created.ID, opening)
		if err != nil {
			return err
		}
		created.Balance = tx.ResultingBalance
		created.Transactions = []*domain.Transaction{tx}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create account", "account_id", account.ID, "error", err)
		return nil, err
	}

	s.logger.Info("Account created", "account_id", created.ID, "opening_balance", opening)
	return created, nil
}

// ApplyDeposit credits amount to an existing account.
func (s *LedgerService) ApplyDeposit(ctx context.Context, accountID string, amount decimal.Decimal) (*domain.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var tx *domain.Transaction
	err := s.store.WithTransaction(ctx, func(st domain.Store) error {
		var err error
		tx, err = s.deposit(ctx, st, accountID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *LedgerService) deposit(ctx context.Context, st domain.Store, accountID string, amount decimal.Decimal) (*domain.Transaction, error) {
	account, err := st.Account().GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	balance := account.Balance.Add(amount)
	if err := st.Account().UpdateAccountBalance(ctx, accountID, balance); err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		ID:               uuid.New(),
		AccountID:        accountID,
		Timestamp:        s.timestamp(),
		Amount:           amount,
		Kind:             domain.KindDeposit,
		ResultingBalance: balance,
	}
	if err := st.Transaction().AppendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ApplyTransfer moves amount from payer to payee and records a payment
// entry on the payer and a receive entry, naming the payer, on the payee.
// The balance check is repeated under the store lock, so a concurrent
// transfer can never drive the payer negative.
func (s *LedgerService) ApplyTransfer(ctx context.Context, payerID, payeeID string, amount decimal.Decimal) (*TransferResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if payerID == payeeID {
		return nil, errors.NewAppError(errors.InvalidInput, "payer and payee must be different accounts")
	}

	var result *TransferResult
	err := s.store.WithTransaction(ctx, func(st domain.Store) error {
		payer, payee, err := lockPair(ctx, st, payerID, payeeID)
		if err != nil {
			return err
		}

		if payer.Balance.LessThan(amount) {
			return errors.ErrInsufficientBalance.WithDetails(
				fmt.Sprintf("balance %s is less than %s", payer.Balance.StringFixed(2), amount.StringFixed(2)))
		}

		payer.Balance = payer.Balance.Sub(amount)
		payee.Balance = payee.Balance.Add(amount)

		if err := st.Account().UpdateAccountBalance(ctx, payer.ID, payer.Balance); err != nil {
			return err
		}
		if err := st.Account().UpdateAccountBalance(ctx, payee.ID, payee.Balance); err != nil {
			return err
		}

		now := s.timestamp()
		debit := &domain.Transaction{
			ID:               uuid.New(),
			AccountID:        payer.ID,
			Timestamp:        now,
			Amount:           amount,
			Kind:             domain.KindPayment,
			ResultingBalance: payer.Balance,
		}
		credit := &domain.Transaction{
			ID:               uuid.New(),
			AccountID:        payee.ID,
			Timestamp:        now,
			Amount:           amount,
			Kind:             domain.KindReceive,
			ResultingBalance: payee.Balance,
			Counterparty:     payer.Name,
		}
		if err := st.Transaction().AppendTransaction(ctx, debit); err != nil {
			return err
		}
		if err := st.Transaction().AppendTransaction(ctx, credit); err != nil {
			return err
		}

		result = &TransferResult{Payer: payer, Payee: payee, Debit: debit, Credit: credit}
		return nil
	})
	if err != nil {
		s.logger.Warn("Transfer not applied",
			"payer_id", payerID,
			"payee_id", payeeID,
			"amount", amount,
			"reason", errors.Reason(err))
		return nil, err
	}

	s.logger.Info("Transfer applied",
		"payer_id", payerID,
		"payee_id", payeeID,
		"amount", amount,
		"debit_id", result.Debit.ID,
		"credit_id", result.Credit.ID,
		"payer_balance", result.Payer.Balance)
	return result, nil
}

// lockPair locks both accounts in id order so that concurrent transfers
// between the same accounts cannot deadlock.
func lockPair(ctx context.Context, st domain.Store, payerID, payeeID string) (*domain.Account, *domain.Account, error) {
	order := []string{payerID, payeeID}
	if payeeID < payerID {
		order = []string{payeeID, payerID}
	}

	locked := make(map[string]*domain.Account, 2)
	for _, id := range order {
		a, err := st.Account().GetAccountForUpdate(ctx, id)
		if err != nil {
			if id == payerID && errors.Is(err, errors.ErrAccountNotFound) {
				return nil, nil, errors.ErrPayerNotFound
			}
			return nil, nil, err
		}
		locked[id] = a
	}
	return locked[payerID], locked[payeeID], nil
}

// History returns the last limit entries of an account, oldest first.
func (s *LedgerService) History(ctx context.Context, accountID string, limit int) ([]*domain.Transaction, error) {
	return s.store.Transaction().ListTransactions(ctx, accountID, limit)
}

func (s *LedgerService) timestamp() time.Time {
	return s.now().Truncate(time.Second)
}

// validateAmount accepts positive amounts with at most two decimal places.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return errors.NewAppError(errors.InvalidAmount, "amount must have at most two decimal places")
	}
	if amount.GreaterThan(maxAmount) {
		return errors.NewAppError(errors.InvalidAmount, "amount exceeds maximum limit")
	}
	return nil
}
