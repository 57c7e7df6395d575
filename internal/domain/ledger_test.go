package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan-thawkar/minipr2/internal/errors"
)

func newUser(phone string, identity int, balance string) *Account {
	return &Account{
		ID:         phone,
		Name:       "user " + phone,
		Balance:    decimal.RequireFromString(balance),
		IdentityID: IntPtr(identity),
	}
}

func TestLedger_AddEnforcesUniqueness(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Add(&Account{ID: AdminAccountID, Name: "Admin", IsAdmin: true}))
	require.NoError(t, l.Add(newUser("+1000000001", 0, "10")))

	err := l.Add(newUser("+1000000001", 1, "10"))
	assert.True(t, errors.Is(err, errors.ErrDuplicateAccount))

	err = l.Add(newUser("+1000000002", 0, "10"))
	assert.True(t, errors.Is(err, errors.ErrDuplicateIdentity))

	err = l.Add(&Account{ID: "root", IsAdmin: true})
	assert.True(t, errors.Is(err, errors.ErrDuplicateAccount))

	err = l.Add(&Account{ID: "+1000000003", Name: "no identity"})
	assert.Error(t, err)

	assert.Equal(t, []int{0}, l.IdentityIDs())
}

func TestLedger_LookupByIDAndIdentity(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Add(newUser("+1000000001", 3, "10")))
	require.NoError(t, l.Add(newUser("+1000000002", 1, "10")))

	a, ok := l.AccountByIdentity(3)
	require.True(t, ok)
	assert.Equal(t, "+1000000001", a.ID)

	_, ok = l.AccountByIdentity(2)
	assert.False(t, ok)

	_, ok = l.Account("+1999999999")
	assert.False(t, ok)

	assert.Equal(t, []int{1, 3}, l.IdentityIDs())
}

func TestLedger_SetBalanceRejectsNegative(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Add(newUser("+1000000001", 0, "10")))

	err := l.SetBalance("+1000000001", decimal.NewFromInt(-1))
	assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))

	a, _ := l.Account("+1000000001")
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(10)))
}

func TestLedger_AppendChecksResultingBalance(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Add(newUser("+1000000001", 0, "100")))

	bad := &Transaction{
		ID:               uuid.New(),
		AccountID:        "+1000000001",
		Amount:           decimal.NewFromInt(100),
		Kind:             KindDeposit,
		ResultingBalance: decimal.NewFromInt(50),
	}
	assert.Error(t, l.Append(bad))

	zero := &Transaction{
		ID:               uuid.New(),
		AccountID:        "+1000000001",
		Amount:           decimal.Zero,
		Kind:             KindDeposit,
		ResultingBalance: decimal.NewFromInt(100),
	}
	assert.True(t, errors.Is(l.Append(zero), errors.ErrInvalidAmount))

	good := &Transaction{
		ID:               uuid.New(),
		AccountID:        "+1000000001",
		Amount:           decimal.NewFromInt(100),
		Kind:             KindDeposit,
		ResultingBalance: decimal.RequireFromString("100.00"),
	}
	require.NoError(t, l.Append(good))

	a, _ := l.Account("+1000000001")
	require.Len(t, a.Transactions, 1)
	assert.Equal(t, good.ID, a.Transactions[0].ID)
}

func TestLedger_CloneIsIndependent(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Add(&Account{ID: AdminAccountID, Name: "Admin", IsAdmin: true}))
	require.NoError(t, l.Add(newUser("+1000000001", 0, "100")))

	c := l.Clone()
	require.NoError(t, c.SetBalance("+1000000001", decimal.NewFromInt(1)))
	require.NoError(t, c.Add(newUser("+1000000002", 1, "5")))
	ca, _ := c.Account("+1000000001")
	*ca.IdentityID = 9

	orig, _ := l.Account("+1000000001")
	assert.True(t, orig.Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 0, *orig.IdentityID)
	assert.Len(t, l.Users, 1)
	_, ok := l.Account("+1000000002")
	assert.False(t, ok)
}

func TestLedger_CloneIndexesItsOwnAccounts(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Add(&Account{ID: AdminAccountID, Name: "Admin", IsAdmin: true}))
	require.NoError(t, l.Add(newUser("+1000000001", 3, "100")))

	c := l.Clone()

	byID, ok := c.Account("+1000000001")
	require.True(t, ok)
	byIdentity, ok := c.AccountByIdentity(3)
	require.True(t, ok)
	assert.Same(t, byID, byIdentity)
	assert.Same(t, c.Users[0], byID)

	admin, ok := c.Account(AdminAccountID)
	require.True(t, ok)
	assert.Same(t, c.Admin, admin)

	orig, _ := l.Account("+1000000001")
	assert.NotSame(t, orig, byID)
	assert.NoError(t, c.Reindex())
	assert.Equal(t, []int{3}, c.IdentityIDs())
}

func TestLedger_ReindexDetectsCorruption(t *testing.T) {
	l := &Ledger{Users: []*Account{
		newUser("+1000000001", 4, "1"),
		newUser("+1000000002", 4, "1"),
	}}
	err := l.Reindex()
	assert.True(t, errors.Is(err, errors.ErrDuplicateIdentity))

	l = &Ledger{Users: []*Account{newUser("+1000000001", 0, "-1")}}
	assert.Error(t, l.Reindex())
}
