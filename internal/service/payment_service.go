package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aryan-thawkar/minipr2/internal/domain"
	"github.com/aryan-thawkar/minipr2/internal/errors"
	"github.com/aryan-thawkar/minipr2/internal/metrics"
)

// PaymentService runs fingerprint-authorised payments from a user account
// to the admin account.
type PaymentService struct {
	ledger  *LedgerService
	sensor  IdentitySensor
	payeeID string
	logger  *slog.Logger
}

func NewPaymentService(ledger *LedgerService, sensor IdentitySensor, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		ledger:  ledger,
		sensor:  sensor,
		payeeID: domain.AdminAccountID,
		logger:  logger,
	}
}

// Receipt describes an applied payment.
type Receipt struct {
	ID           uuid.UUID       `json:"id"`
	PayerID      string          `json:"payer_id"`
	PayerName    string          `json:"payer_name"`
	PayeeID      string          `json:"payee_id"`
	Amount       decimal.Decimal `json:"amount"`
	PayerBalance decimal.Decimal `json:"payer_balance"`
	Timestamp    time.Time       `json:"timestamp"`
	IdentityID   int             `json:"identity_id"`
	Confidence   int             `json:"confidence"`
}

// BalanceReport is an account's balance and its most recent history.
type BalanceReport struct {
	AccountID          string                `json:"account_id"`
	Name               string                `json:"name"`
	Balance            decimal.Decimal       `json:"balance"`
	RecentTransactions []*domain.Transaction `json:"recent_transactions"`
}

// Pay charges amount to the account registered under phone once the
// fingerprint on the sensor is verified as that account's. The balance is
// checked before the sensor is used and again when the transfer is applied.
func (s *PaymentService) Pay(ctx context.Context, phone string, amount decimal.Decimal) (*Receipt, error) {
	receipt, err := s.pay(ctx, strings.TrimSpace(phone), amount)
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues(string(errors.CodeOf(err))).Inc()
		s.logger.Warn("Payment rejected",
			"payer_id", phone,
			"amount", amount,
			"result", errors.CodeOf(err),
			"reason", errors.Reason(err))
		return nil, err
	}
	metrics.PaymentsTotal.WithLabelValues("applied").Inc()
	return receipt, nil
}

func (s *PaymentService) pay(ctx context.Context, phone string, amount decimal.Decimal) (*Receipt, error) {
	s.logger.Info("Processing payment", "payer_id", phone, "amount", amount)

	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	payer, err := s.lookupPayer(ctx, phone)
	if err != nil {
		return nil, err
	}

	if payer.Balance.LessThan(amount) {
		return nil, errors.ErrInsufficientBalance
	}

	match, err := s.sensor.Verify(ctx)
	if err != nil {
		return nil, verificationFailure(err)
	}
	if !payer.BoundTo(match.IdentityID) {
		return nil, errors.ErrIdentityMismatch.WithDetails("verified identity is bound to a different account")
	}

	result, err := s.ledger.ApplyTransfer(ctx, payer.ID, s.payeeID, amount)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		ID:           result.Debit.ID,
		PayerID:      result.Payer.ID,
		PayerName:    result.Payer.Name,
		PayeeID:      result.Payee.ID,
		Amount:       amount,
		PayerBalance: result.Payer.Balance,
		Timestamp:    result.Debit.Timestamp,
		IdentityID:   match.IdentityID,
		Confidence:   match.Confidence,
	}
	s.logger.Info("Payment applied",
		"receipt_id", receipt.ID,
		"payer_id", receipt.PayerID,
		"amount", amount,
		"confidence", match.Confidence)
	return receipt, nil
}

// CheckBalance reports the balance of the account under phone after the
// fingerprint on the sensor is verified as that account's.
func (s *PaymentService) CheckBalance(ctx context.Context, phone string) (*BalanceReport, error) {
	phone = strings.TrimSpace(phone)

	account, exists, err := s.ledger.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if !exists || account.IsAdmin {
		return nil, errors.ErrAccountNotFound
	}

	match, err := s.sensor.Verify(ctx)
	if err != nil {
		s.logger.Warn("Balance check rejected", "account_id", phone, "reason", errors.Reason(err))
		return nil, verificationFailure(err)
	}
	if !account.BoundTo(match.IdentityID) {
		s.logger.Warn("Balance check rejected", "account_id", phone, "reason", errors.IdentityMismatch)
		return nil, errors.ErrIdentityMismatch
	}

	history, err := s.ledger.History(ctx, account.ID, RecentTransactionLimit)
	if err != nil {
		return nil, err
	}

	// Re-read: a payment may have landed while the finger was on the sensor.
	current, exists, err := s.ledger.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.ErrAccountNotFound
	}

	return &BalanceReport{
		AccountID:          current.ID,
		Name:               current.Name,
		Balance:            current.Balance,
		RecentTransactions: history,
	}, nil
}

func (s *PaymentService) lookupPayer(ctx context.Context, phone string) (*domain.Account, error) {
	if phone == "" {
		return nil, errors.ErrPayerNotFound
	}
	payer, exists, err := s.ledger.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if !exists || payer.IsAdmin {
		return nil, errors.ErrPayerNotFound
	}
	return payer, nil
}
