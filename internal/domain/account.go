package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AdminAccountID is the account that receives every payment.
const AdminAccountID = "admin"

// Account is a user (identified by phone number) or the single admin
// account. IdentityID is the sensor slot bound to the user's enrolled
// fingerprint; it is nil for the admin.
type Account struct {
	ID           string          `json:"account_id"`
	Name         string          `json:"name"`
	Balance      decimal.Decimal `json:"balance"`
	IdentityID   *int            `json:"identity_id,omitempty"`
	IsAdmin      bool            `json:"is_admin"`
	Transactions []*Transaction  `json:"transactions,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// BoundTo reports whether the account is bound to the given sensor slot.
func (a *Account) BoundTo(identityID int) bool {
	return a.IdentityID != nil && *a.IdentityID == identityID
}

// Clone returns a deep copy, transactions included.
func (a *Account) Clone() *Account {
	c := a.WithoutHistory()
	if a.Transactions != nil {
		c.Transactions = make([]*Transaction, len(a.Transactions))
		for i, t := range a.Transactions {
			tc := *t
			c.Transactions[i] = &tc
		}
	}
	return c
}

// WithoutHistory returns a copy of the account without its transactions.
func (a *Account) WithoutHistory() *Account {
	c := *a
	if a.IdentityID != nil {
		id := *a.IdentityID
		c.IdentityID = &id
	}
	c.Transactions = nil
	return &c
}

// IntPtr is a convenience for building accounts with a bound identity.
func IntPtr(v int) *int { return &v }

type AccountRepository interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountForUpdate(ctx context.Context, id string) (*Account, error)
	GetAccountByIdentity(ctx context.Context, identityID int) (*Account, error)
	UpdateAccountBalance(ctx context.Context, id string, newBalance decimal.Decimal) error
	ListIdentityIDs(ctx context.Context) ([]int, error)
}
