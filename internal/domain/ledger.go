package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aryan-thawkar/minipr2/internal/errors"
)

// Ledger is the whole durable document: one admin plus the user accounts
// in registration order, with lookup indexes by account id and identity.
type Ledger struct {
	Admin *Account
	Users []*Account

	byID       map[string]*Account
	byIdentity map[int]*Account
}

// NewLedger returns an empty ledger. The admin account is added like any
// other account, through Add.
func NewLedger() *Ledger {
	return &Ledger{
		byID:       make(map[string]*Account),
		byIdentity: make(map[int]*Account),
	}
}

// Reindex rebuilds the lookup indexes and checks the ledger invariants:
// unique account ids, identities unique among users, non-negative balances.
func (l *Ledger) Reindex() error {
	l.byID = make(map[string]*Account, len(l.Users)+1)
	l.byIdentity = make(map[int]*Account, len(l.Users))

	if l.Admin != nil {
		l.byID[l.Admin.ID] = l.Admin
	}

	for _, u := range l.Users {
		if _, dup := l.byID[u.ID]; dup {
			return errors.ErrDuplicateAccount.WithDetails(u.ID)
		}
		if u.IdentityID == nil {
			return errors.NewAppErrorf(errors.InternalError, "user %s has no identity", u.ID)
		}
		if _, dup := l.byIdentity[*u.IdentityID]; dup {
			return errors.ErrDuplicateIdentity.WithDetails(fmt.Sprintf("identity %d", *u.IdentityID))
		}
		l.byID[u.ID] = u
		l.byIdentity[*u.IdentityID] = u
	}

	for _, a := range l.byID {
		if a.Balance.IsNegative() {
			return errors.NewAppErrorf(errors.InternalError, "account %s has a negative balance", a.ID)
		}
	}
	return nil
}

func (l *Ledger) Account(id string) (*Account, bool) {
	a, ok := l.byID[id]
	return a, ok
}

func (l *Ledger) AccountByIdentity(identityID int) (*Account, bool) {
	a, ok := l.byIdentity[identityID]
	return a, ok
}

// Add registers a new account. At most one admin account may exist.
func (l *Ledger) Add(a *Account) error {
	if _, dup := l.byID[a.ID]; dup {
		return errors.ErrDuplicateAccount
	}
	if a.Balance.IsNegative() {
		return errors.ErrInvalidAmount
	}
	if a.IsAdmin {
		if l.Admin != nil {
			return errors.ErrDuplicateAccount.WithDetails("ledger already has an admin account")
		}
		a.IdentityID = nil
		l.Admin = a
		l.byID[a.ID] = a
		return nil
	}
	if a.IdentityID == nil {
		return errors.NewAppError(errors.InvalidInput, "user account requires an identity")
	}
	if *a.IdentityID < 0 {
		return errors.NewAppError(errors.InvalidInput, "identity must be non-negative")
	}
	if _, dup := l.byIdentity[*a.IdentityID]; dup {
		return errors.ErrDuplicateIdentity
	}
	l.Users = append(l.Users, a)
	l.byID[a.ID] = a
	l.byIdentity[*a.IdentityID] = a
	return nil
}

// SetBalance overwrites an account balance; negative balances are refused.
func (l *Ledger) SetBalance(id string, balance decimal.Decimal) error {
	a, ok := l.byID[id]
	if !ok {
		return errors.ErrAccountNotFound
	}
	if balance.IsNegative() {
		return errors.ErrInsufficientBalance
	}
	a.Balance = balance
	return nil
}

// Append adds tx to its account's history. The entry must carry a positive
// amount and a resulting balance equal to the account's current balance.
func (l *Ledger) Append(tx *Transaction) error {
	a, ok := l.byID[tx.AccountID]
	if !ok {
		return errors.ErrAccountNotFound
	}
	if !tx.Amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if !tx.Kind.Valid() {
		return errors.NewAppErrorf(errors.InvalidInput, "unknown transaction kind %q", tx.Kind)
	}
	if !tx.ResultingBalance.Equal(a.Balance) {
		return errors.NewAppErrorf(errors.InternalError,
			"resulting balance %s does not match account balance %s", tx.ResultingBalance, a.Balance)
	}
	c := *tx
	a.Transactions = append(a.Transactions, &c)
	return nil
}

// IdentityIDs returns every identity bound to a user, ascending.
func (l *Ledger) IdentityIDs() []int {
	ids := make([]int, 0, len(l.byIdentity))
	for id := range l.byIdentity {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Clone returns an independent deep copy. The copy is indexed as it is
// built; it holds the same accounts, so it satisfies the same invariants.
func (l *Ledger) Clone() *Ledger {
	c := NewLedger()
	if l.Admin != nil {
		c.Admin = l.Admin.Clone()
		c.byID[c.Admin.ID] = c.Admin
	}
	if l.Users != nil {
		c.Users = make([]*Account, len(l.Users))
		for i, u := range l.Users {
			cu := u.Clone()
			c.Users[i] = cu
			c.byID[cu.ID] = cu
			if cu.IdentityID != nil {
				c.byIdentity[*cu.IdentityID] = cu
			}
		}
	}
	return c
}
