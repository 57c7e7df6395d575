package handler

import (
	"net/http"
	"time"

	"github.com/aryan-thawkar/minipr2/internal/domain"
	"github.com/aryan-thawkar/minipr2/internal/errors"
	"github.com/aryan-thawkar/minipr2/internal/service"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type AccountHandler struct {
	accountService *service.AccountService
	paymentService *service.PaymentService
}

func NewAccountHandler(accountService *service.AccountService, paymentService *service.PaymentService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		paymentService: paymentService,
	}
}

type CreateAccountRequest struct {
	Name           string `json:"name" validate:"required,max=100"`
	Phone          string `json:"phone" validate:"required,max=20"`
	InitialBalance string `json:"initial_balance" validate:"required,numeric"`
}

type AccountResponse struct {
	AccountID  string `json:"account_id"`
	Name       string `json:"name"`
	Balance    string `json:"balance"`
	IdentityID *int   `json:"identity_id,omitempty"`
}

type TransactionResponse struct {
	Date    string `json:"date"`
	Type    string `json:"type"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
	From    string `json:"from,omitempty"`
}

type BalanceResponse struct {
	AccountID          string                `json:"account_id"`
	Name               string                `json:"name"`
	Balance            string                `json:"balance"`
	RecentTransactions []TransactionResponse `json:"recent_transactions"`
}

// CreateAccount registers a new customer. The request blocks while the
// customer places a finger on the sensor.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if appErr := decodeRequest(r, &req); appErr != nil {
		writeError(w, appErr)
		return
	}

	initialBalance, err := decimal.NewFromString(req.InitialBalance)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidAmount, "invalid initial_balance format"))
		return
	}

	account, err := h.accountService.RegisterAccount(r.Context(), req.Name, req.Phone, initialBalance)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAccountResponse(account))
}

// Authenticate identifies whoever is on the sensor.
func (h *AccountHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	auth, err := h.accountService.Authenticate(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

// GetBalance shows balance and recent history once the account holder's
// fingerprint is verified.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	phone := mux.Vars(r)["phone"]

	report, err := h.paymentService.CheckBalance(r.Context(), phone)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := BalanceResponse{
		AccountID:          report.AccountID,
		Name:               report.Name,
		Balance:            report.Balance.StringFixed(2),
		RecentTransactions: make([]TransactionResponse, 0, len(report.RecentTransactions)),
	}
	for _, tx := range report.RecentTransactions {
		response.RecentTransactions = append(response.RecentTransactions, newTransactionResponse(tx))
	}

	writeJSON(w, http.StatusOK, response)
}

func newAccountResponse(a *domain.Account) AccountResponse {
	return AccountResponse{
		AccountID:  a.ID,
		Name:       a.Name,
		Balance:    a.Balance.StringFixed(2),
		IdentityID: a.IdentityID,
	}
}

func newTransactionResponse(tx *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		Date:    tx.Timestamp.Format(time.DateTime),
		Type:    string(tx.Kind),
		Amount:  tx.Amount.StringFixed(2),
		Balance: tx.ResultingBalance.StringFixed(2),
		From:    tx.Counterparty,
	}
}
