package filestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aryan-thawkar/minipr2/internal/domain"
)

// dateLayout is the timestamp format of existing bank_data.json files.
// Dates are written in local time, as the kiosk always did. Local time
// without an offset is ambiguous across DST changes and time zones, so
// every entry also carries an RFC 3339 "timestamp", which wins on load.
const dateLayout = "2006-01-02 15:04:05"

type document struct {
	Admin *adminRecord  `json:"admin"`
	Users []*userRecord `json:"users"`
}

type adminRecord struct {
	Name         string      `json:"name"`
	Password     string      `json:"password,omitempty"`
	Balance      json.Number `json:"balance"`
	Transactions []*txRecord `json:"transactions"`
	CreatedAt    *time.Time  `json:"created_at,omitempty"`
	UpdatedAt    *time.Time  `json:"updated_at,omitempty"`
}

type userRecord struct {
	Phone         string      `json:"phone"`
	Name          string      `json:"name"`
	FingerprintID int         `json:"fingerprint_id"`
	Balance       json.Number `json:"balance"`
	Transactions  []*txRecord `json:"transactions"`
	CreatedAt     *time.Time  `json:"created_at,omitempty"`
	UpdatedAt     *time.Time  `json:"updated_at,omitempty"`
}

type txRecord struct {
	ID        string      `json:"id,omitempty"`
	Date      string      `json:"date"`
	Timestamp string      `json:"timestamp,omitempty"`
	Amount    json.Number `json:"amount"`
	Type      string      `json:"type"`
	Balance   json.Number `json:"balance"`
	From      string      `json:"from,omitempty"`
}

// decode builds a ledger from the document and checks its invariants. The
// admin password, which the ledger does not model, is returned separately
// so it survives a rewrite.
func decode(doc *document) (*domain.Ledger, string, error) {
	l := &domain.Ledger{}
	var password string

	if doc.Admin != nil {
		balance, err := parseAmount(doc.Admin.Balance)
		if err != nil {
			return nil, "", fmt.Errorf("admin balance: %w", err)
		}
		txs, err := decodeTransactions(domain.AdminAccountID, doc.Admin.Transactions)
		if err != nil {
			return nil, "", err
		}
		l.Admin = &domain.Account{
			ID:           domain.AdminAccountID,
			Name:         doc.Admin.Name,
			Balance:      balance,
			IsAdmin:      true,
			Transactions: txs,
			CreatedAt:    derefTime(doc.Admin.CreatedAt),
			UpdatedAt:    derefTime(doc.Admin.UpdatedAt),
		}
		password = doc.Admin.Password
	}

	for _, u := range doc.Users {
		balance, err := parseAmount(u.Balance)
		if err != nil {
			return nil, "", fmt.Errorf("user %s balance: %w", u.Phone, err)
		}
		txs, err := decodeTransactions(u.Phone, u.Transactions)
		if err != nil {
			return nil, "", err
		}
		l.Users = append(l.Users, &domain.Account{
			ID:           u.Phone,
			Name:         u.Name,
			Balance:      balance,
			IdentityID:   domain.IntPtr(u.FingerprintID),
			Transactions: txs,
			CreatedAt:    derefTime(u.CreatedAt),
			UpdatedAt:    derefTime(u.UpdatedAt),
		})
	}

	if err := l.Reindex(); err != nil {
		return nil, "", err
	}
	return l, password, nil
}

func decodeTransactions(accountID string, records []*txRecord) ([]*domain.Transaction, error) {
	txs := make([]*domain.Transaction, 0, len(records))
	for i, r := range records {
		tx, err := decodeTransaction(accountID, i, r)
		if err != nil {
			return nil, fmt.Errorf("account %s transaction %d: %w", accountID, i, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func decodeTransaction(accountID string, index int, r *txRecord) (*domain.Transaction, error) {
	ts, err := decodeTimestamp(r)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return nil, err
	}
	balance, err := parseAmount(r.Balance)
	if err != nil {
		return nil, err
	}
	kind := domain.TransactionKind(r.Type)
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown type %q", r.Type)
	}

	// Entries written before ids were recorded get a stable derived id.
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d/%s", accountID, index, r.Date)))
	if r.ID != "" {
		if id, err = uuid.Parse(r.ID); err != nil {
			return nil, err
		}
	}

	return &domain.Transaction{
		ID:               id,
		AccountID:        accountID,
		Timestamp:        ts,
		Amount:           amount,
		Kind:             kind,
		ResultingBalance: balance,
		Counterparty:     r.From,
	}, nil
}

// decodeTimestamp prefers the zoned timestamp and falls back to the legacy
// local date for entries written before it existed.
func decodeTimestamp(r *txRecord) (time.Time, error) {
	if r.Timestamp != "" {
		return time.Parse(time.RFC3339, r.Timestamp)
	}
	return time.ParseInLocation(dateLayout, r.Date, time.Local)
}

func encode(l *domain.Ledger, password string) *document {
	doc := &document{Users: make([]*userRecord, 0, len(l.Users))}

	if l.Admin != nil {
		doc.Admin = &adminRecord{
			Name:         l.Admin.Name,
			Password:     password,
			Balance:      formatAmount(l.Admin.Balance),
			Transactions: encodeTransactions(l.Admin.Transactions),
			CreatedAt:    timePtr(l.Admin.CreatedAt),
			UpdatedAt:    timePtr(l.Admin.UpdatedAt),
		}
	}

	for _, u := range l.Users {
		doc.Users = append(doc.Users, &userRecord{
			Phone:         u.ID,
			Name:          u.Name,
			FingerprintID: *u.IdentityID,
			Balance:       formatAmount(u.Balance),
			Transactions:  encodeTransactions(u.Transactions),
			CreatedAt:     timePtr(u.CreatedAt),
			UpdatedAt:     timePtr(u.UpdatedAt),
		})
	}
	return doc
}

func encodeTransactions(txs []*domain.Transaction) []*txRecord {
	records := make([]*txRecord, 0, len(txs))
	for _, tx := range txs {
		records = append(records, &txRecord{
			ID:        tx.ID.String(),
			Date:      tx.Timestamp.In(time.Local).Format(dateLayout),
			Timestamp: tx.Timestamp.Format(time.RFC3339Nano),
			Amount:    formatAmount(tx.Amount),
			Type:      string(tx.Kind),
			Balance:   formatAmount(tx.ResultingBalance),
			From:      tx.Counterparty,
		})
	}
	return records
}

func parseAmount(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}

func formatAmount(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
