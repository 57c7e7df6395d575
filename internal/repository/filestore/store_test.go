package filestore

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan-thawkar/minipr2/internal/domain"
	"github.com/aryan-thawkar/minipr2/internal/errors"
)

const legacyLedger = `{
    "admin": {
        "name": "Admin",
        "password": "admin123",
        "balance": 30.0,
        "transactions": [
            {"date": "2024-03-01 10:15:00", "amount": 30.0, "type": "receive", "balance": 30.0, "from": "Alice"}
        ]
    },
    "users": [
        {
            "phone": "+1000000001",
            "name": "Alice",
            "fingerprint_id": 3,
            "balance": 70.0,
            "transactions": [
                {"date": "2024-03-01 10:00:00", "amount": 100.0, "type": "deposit", "balance": 100.0},
                {"date": "2024-03-01 10:15:00", "amount": 30.0, "type": "payment", "balance": 70.0}
            ]
        }
    ]
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTemp(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "bank_data.json")
	s, err := Open(path, discardLogger())
	require.NoError(t, err)
	return s, path
}

func deposit(accountID string, amount, balance string) *domain.Transaction {
	return &domain.Transaction{
		ID:               uuid.New(),
		AccountID:        accountID,
		Timestamp:        time.Now().Truncate(time.Second),
		Amount:           decimal.RequireFromString(amount),
		Kind:             domain.KindDeposit,
		ResultingBalance: decimal.RequireFromString(balance),
	}
}

func seed(t *testing.T, s *FileStore) {
	t.Helper()
	ctx := context.Background()
	err := s.WithTransaction(ctx, func(st domain.Store) error {
		if err := st.Account().CreateAccount(ctx, &domain.Account{ID: domain.AdminAccountID, Name: "Admin", IsAdmin: true}); err != nil {
			return err
		}
		if err := st.Account().CreateAccount(ctx, &domain.Account{
			ID:         "+1000000001",
			Name:       "Alice",
			Balance:    decimal.NewFromInt(100),
			IdentityID: domain.IntPtr(3),
		}); err != nil {
			return err
		}
		return st.Transaction().AppendTransaction(ctx, deposit("+1000000001", "100", "100"))
	})
	require.NoError(t, err)
}

func TestOpen_MissingFileIsEmptyLedger(t *testing.T) {
	s, path := openTemp(t)

	ids, err := s.Account().ListIdentityIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_PersistsAndReloads(t *testing.T) {
	s, path := openTemp(t)
	seed(t, s)

	reopened, err := Open(path, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	alice, err := reopened.Account().GetAccountByIdentity(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "+1000000001", alice.ID)
	assert.Equal(t, "Alice", alice.Name)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(100)))

	admin, err := reopened.Account().GetAccount(ctx, domain.AdminAccountID)
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)
	assert.Nil(t, admin.IdentityID)

	txs, err := reopened.Transaction().ListTransactions(ctx, "+1000000001", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.KindDeposit, txs[0].Kind)

	original, err := s.Transaction().ListTransactions(ctx, "+1000000001", 0)
	require.NoError(t, err)
	assert.Equal(t, original[0].ID, txs[0].ID)
	assert.True(t, original[0].Timestamp.Equal(txs[0].Timestamp))
}

func TestOpen_LegacyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank_data.json")
	require.NoError(t, os.WriteFile(path, []byte(legacyLedger), 0o644))

	s, err := Open(path, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	alice, err := s.Account().GetAccount(ctx, "+1000000001")
	require.NoError(t, err)
	assert.True(t, alice.BoundTo(3))
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(70)))

	adminTxs, err := s.Transaction().ListTransactions(ctx, domain.AdminAccountID, 0)
	require.NoError(t, err)
	require.Len(t, adminTxs, 1)
	assert.Equal(t, domain.KindReceive, adminTxs[0].Kind)
	assert.Equal(t, "Alice", adminTxs[0].Counterparty)

	// Derived ids are stable across loads.
	again, err := Open(path, discardLogger())
	require.NoError(t, err)
	againTxs, err := again.Transaction().ListTransactions(ctx, domain.AdminAccountID, 0)
	require.NoError(t, err)
	assert.Equal(t, adminTxs[0].ID, againTxs[0].ID)

	// A rewrite keeps the fields the kiosk relies on, password included.
	require.NoError(t, s.Account().UpdateAccountBalance(ctx, "+1000000001", decimal.NewFromInt(70)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"password": "admin123"`)
	assert.Contains(t, string(data), `"fingerprint_id": 3`)
	assert.Contains(t, string(data), `"date": "2024-03-01 10:15:00"`)
}

func TestFileStore_TimestampsSurviveAmbiguousLocalTime(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	local := time.Local
	time.Local = ny
	t.Cleanup(func() { time.Local = local })

	s, path := openTemp(t)
	seed(t, s)
	ctx := context.Background()

	// 06:30Z is 01:30 EST, the second 01:30 of the fall-back night.
	at := time.Date(2026, 11, 1, 6, 30, 0, 0, time.UTC)
	tx := deposit("+1000000001", "5", "105")
	tx.Timestamp = at
	err = s.WithTransaction(ctx, func(st domain.Store) error {
		if err := st.Account().UpdateAccountBalance(ctx, "+1000000001", decimal.NewFromInt(105)); err != nil {
			return err
		}
		return st.Transaction().AppendTransaction(ctx, tx)
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"date": "2026-11-01 01:30:00"`)

	reopened, err := Open(path, discardLogger())
	require.NoError(t, err)
	txs, err := reopened.Transaction().ListTransactions(ctx, "+1000000001", 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, at.Equal(txs[0].Timestamp), "reloaded %s", txs[0].Timestamp.UTC())

	// A different zone on the next run does not move the history.
	time.Local = time.UTC
	again, err := Open(path, discardLogger())
	require.NoError(t, err)
	txs, err = again.Transaction().ListTransactions(ctx, "+1000000001", 1)
	require.NoError(t, err)
	assert.True(t, at.Equal(txs[0].Timestamp))
}

func TestWithTransaction_CancelledContextIsPersistenceError(t *testing.T) {
	s, _ := openTemp(t)
	seed(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithTransaction(ctx, func(st domain.Store) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
	assert.True(t, stderrors.Is(err, context.Canceled))
}

func TestOpen_RejectsCorruptLedger(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte(`{"users": [`), 0o644))
	_, err := Open(garbage, discardLogger())
	assert.Error(t, err)

	dup := filepath.Join(dir, "dup.json")
	require.NoError(t, os.WriteFile(dup, []byte(`{"admin": null, "users": [
		{"phone": "+1", "name": "a", "fingerprint_id": 1, "balance": 1, "transactions": []},
		{"phone": "+2", "name": "b", "fingerprint_id": 1, "balance": 1, "transactions": []}
	]}`), 0o644))
	_, err = Open(dup, discardLogger())
	assert.Error(t, err)
}

func TestWithTransaction_PersistFailureRollsBack(t *testing.T) {
	s, path := openTemp(t)
	seed(t, s)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	s.writeFile = func(string, []byte) error { return stderrors.New("no space left on device") }
	ctx := context.Background()

	err = s.WithTransaction(ctx, func(st domain.Store) error {
		if err := st.Account().UpdateAccountBalance(ctx, "+1000000001", decimal.NewFromInt(70)); err != nil {
			return err
		}
		return st.Account().UpdateAccountBalance(ctx, domain.AdminAccountID, decimal.NewFromInt(30))
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistence))

	alice, err := s.Account().GetAccount(ctx, "+1000000001")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(100)))
	admin, err := s.Account().GetAccount(ctx, domain.AdminAccountID)
	require.NoError(t, err)
	assert.True(t, admin.Balance.IsZero())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestWithTransaction_CallbackErrorDiscardsChanges(t *testing.T) {
	s, _ := openTemp(t)
	seed(t, s)

	writes := 0
	s.writeFile = func(path string, data []byte) error {
		writes++
		return writeFileAtomic(path, data)
	}
	ctx := context.Background()

	err := s.WithTransaction(ctx, func(st domain.Store) error {
		if err := st.Account().UpdateAccountBalance(ctx, "+1000000001", decimal.NewFromInt(1)); err != nil {
			return err
		}
		return errors.ErrInsufficientBalance
	})
	assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))
	assert.Equal(t, 0, writes)

	alice, err := s.Account().GetAccount(ctx, "+1000000001")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(100)))
}

func TestAccountRepository_Invariants(t *testing.T) {
	s, _ := openTemp(t)
	seed(t, s)
	ctx := context.Background()

	err := s.Account().CreateAccount(ctx, &domain.Account{ID: "+1000000002", Name: "Bob", IdentityID: domain.IntPtr(3)})
	assert.True(t, errors.Is(err, errors.ErrDuplicateIdentity))

	err = s.Account().CreateAccount(ctx, &domain.Account{ID: "+1000000001", Name: "Alice again", IdentityID: domain.IntPtr(4)})
	assert.True(t, errors.Is(err, errors.ErrDuplicateAccount))

	err = s.Account().UpdateAccountBalance(ctx, "+1000000001", decimal.NewFromInt(-5))
	assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))

	_, err = s.Account().GetAccountByIdentity(ctx, 9)
	assert.True(t, errors.Is(err, errors.ErrAccountNotFound))

	_, err = s.Transaction().ListTransactions(ctx, "+1999999999", 5)
	assert.True(t, errors.Is(err, errors.ErrAccountNotFound))
}

func TestTransactionRepository_ListLimit(t *testing.T) {
	s, _ := openTemp(t)
	seed(t, s)
	ctx := context.Background()

	balance := decimal.NewFromInt(100)
	for i := 1; i <= 6; i++ {
		balance = balance.Add(decimal.NewFromInt(int64(i)))
		err := s.WithTransaction(ctx, func(st domain.Store) error {
			if err := st.Account().UpdateAccountBalance(ctx, "+1000000001", balance); err != nil {
				return err
			}
			tx := deposit("+1000000001", decimal.NewFromInt(int64(i)).String(), balance.String())
			return st.Transaction().AppendTransaction(ctx, tx)
		})
		require.NoError(t, err)
	}

	last, err := s.Transaction().ListTransactions(ctx, "+1000000001", 5)
	require.NoError(t, err)
	require.Len(t, last, 5)
	assert.True(t, last[0].Amount.Equal(decimal.NewFromInt(2)))
	assert.True(t, last[4].ResultingBalance.Equal(balance))

	all, err := s.Transaction().ListTransactions(ctx, "+1000000001", 0)
	require.NoError(t, err)
	assert.Len(t, all, 7)
}

func TestWriteFileAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bank_data.json")

	require.NoError(t, writeFileAtomic(path, []byte(`{"users":[]}`)))
	require.NoError(t, writeFileAtomic(path, []byte(`{"admin":null,"users":[]}`)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bank_data.json", entries[0].Name())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"admin":null,"users":[]}`, string(data))
}
