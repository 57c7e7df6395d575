package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/aryan-thawkar/minipr2/internal/domain"
	"github.com/aryan-thawkar/minipr2/internal/errors"
	"github.com/aryan-thawkar/minipr2/internal/identity"
	"github.com/aryan-thawkar/minipr2/internal/metrics"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{3,19}$`)

// IdentitySensor is the fingerprint device as the services see it.
type IdentitySensor interface {
	Verify(ctx context.Context) (identity.Match, error)
	Enroll(ctx context.Context, slot int) error
}

type AccountService struct {
	ledger *LedgerService
	sensor IdentitySensor
	logger *slog.Logger

	// regMu spans slot allocation, enrollment and persistence so two
	// registrations never enroll into the same slot.
	regMu sync.Mutex
}

func NewAccountService(ledger *LedgerService, sensor IdentitySensor, logger *slog.Logger) *AccountService {
	return &AccountService{
		ledger: ledger,
		sensor: sensor,
		logger: logger,
	}
}

// Authentication is a verified fingerprint and the account bound to it.
type Authentication struct {
	IdentityID int    `json:"identity_id"`
	Confidence int    `json:"confidence"`
	AccountID  string `json:"account_id"`
	Name       string `json:"name"`
}

// RegisterAccount enrolls a new fingerprint and creates the account bound
// to it, seeded with initialBalance.
func (s *AccountService) RegisterAccount(ctx context.Context, name, phone string, initialBalance decimal.Decimal) (*domain.Account, error) {
	account, err := s.register(ctx, name, phone, initialBalance)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues(string(errors.CodeOf(err))).Inc()
		return nil, err
	}
	metrics.RegistrationsTotal.WithLabelValues("created").Inc()
	return account, nil
}

func (s *AccountService) register(ctx context.Context, name, phone string, initialBalance decimal.Decimal) (*domain.Account, error) {
	s.logger.Info("Registering account", "account_id", phone, "initial_balance", initialBalance)

	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if err := validateRegistration(name, phone, initialBalance); err != nil {
		return nil, err
	}

	s.regMu.Lock()
	defer s.regMu.Unlock()

	if _, exists, err := s.ledger.FindByPhone(ctx, phone); err != nil {
		return nil, err
	} else if exists {
		return nil, errors.ErrDuplicateAccount.WithDetails("phone number already registered")
	}

	used, err := s.ledger.UsedIdentityIDs(ctx)
	if err != nil {
		return nil, err
	}
	slot := identity.NextSlot(used)

	s.logger.Info("Enrolling fingerprint", "account_id", phone, "slot", slot)
	if err := s.sensor.Enroll(ctx, slot); err != nil {
		s.logger.Warn("Enrollment failed", "account_id", phone, "slot", slot, "reason", errors.Reason(err))
		return nil, err
	}

	// The template is on the sensor now; bind it even if the caller has
	// gone away.
	account, err := s.ledger.CreateAccount(context.WithoutCancel(ctx), &domain.Account{
		ID:         phone,
		Name:       name,
		Balance:    initialBalance,
		IdentityID: domain.IntPtr(slot),
	})
	if err != nil {
		// The sensor now holds a template no account points at. The next
		// registration allocates the same slot and overwrites it.
		metrics.OrphanedSlotsTotal.Inc()
		s.logger.Error("Enrolled slot left unbound", "account_id", phone, "slot", slot, "error", err)
		return nil, err
	}
	return account, nil
}

func validateRegistration(name, phone string, initialBalance decimal.Decimal) error {
	if name == "" {
		return errors.NewAppError(errors.InvalidInput, "name is required")
	}
	if !phonePattern.MatchString(phone) {
		return errors.NewAppError(errors.InvalidInput, "phone must be 3 to 19 digits with an optional leading +")
	}
	if initialBalance.IsNegative() {
		return errors.ErrInvalidAmount
	}
	if !initialBalance.Equal(initialBalance.Round(2)) {
		return errors.NewAppError(errors.InvalidAmount, "initial balance must have at most two decimal places")
	}
	if initialBalance.GreaterThan(maxAmount) {
		return errors.NewAppError(errors.InvalidAmount, "initial balance exceeds maximum limit")
	}
	return nil
}

// Authenticate reads a fingerprint and resolves the account bound to it.
func (s *AccountService) Authenticate(ctx context.Context) (*Authentication, error) {
	match, err := s.sensor.Verify(ctx)
	if err != nil {
		s.logger.Warn("Authentication rejected", "reason", errors.Reason(err))
		return nil, verificationFailure(err)
	}

	account, exists, err := s.ledger.FindByIdentity(ctx, match.IdentityID)
	if err != nil {
		return nil, err
	}
	if !exists {
		s.logger.Warn("Fingerprint not bound to an account", "identity_id", match.IdentityID)
		return nil, errors.ErrAccountNotFound.WithDetails("fingerprint is not registered")
	}

	s.logger.Info("Authenticated", "account_id", account.ID, "identity_id", match.IdentityID, "confidence", match.Confidence)
	return &Authentication{
		IdentityID: match.IdentityID,
		Confidence: match.Confidence,
		AccountID:  account.ID,
		Name:       account.Name,
	}, nil
}

// verificationFailure makes sure a failed sensor read surfaces as an
// identity verification failure with the original error as its cause.
func verificationFailure(err error) error {
	if errors.CodeOf(err) == errors.IdentityVerificationFailed {
		return err
	}
	return errors.ErrIdentityVerificationFailed.WithCause(err)
}
