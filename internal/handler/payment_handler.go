package handler

import (
	"net/http"
	"time"

	"github.com/aryan-thawkar/minipr2/internal/errors"
	"github.com/aryan-thawkar/minipr2/internal/service"

	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
}

func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

type PaymentRequest struct {
	Phone  string `json:"phone" validate:"required,max=20"`
	Amount string `json:"amount" validate:"required,numeric"`
}

type PaymentResponse struct {
	ReceiptID    string `json:"receipt_id"`
	PayerID      string `json:"payer_id"`
	PayerName    string `json:"payer_name"`
	PayeeID      string `json:"payee_id"`
	Amount       string `json:"amount"`
	PayerBalance string `json:"payer_balance"`
	Timestamp    string `json:"timestamp"`
	Confidence   int    `json:"confidence"`
}

// Pay charges the account under phone after fingerprint verification.
func (h *PaymentHandler) Pay(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if appErr := decodeRequest(r, &req); appErr != nil {
		writeError(w, appErr)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidAmount, "invalid amount format").WithDetails(err.Error()))
		return
	}

	receipt, err := h.paymentService.Pay(r.Context(), req.Phone, amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := PaymentResponse{
		ReceiptID:    receipt.ID.String(),
		PayerID:      receipt.PayerID,
		PayerName:    receipt.PayerName,
		PayeeID:      receipt.PayeeID,
		Amount:       receipt.Amount.StringFixed(2),
		PayerBalance: receipt.PayerBalance.StringFixed(2),
		Timestamp:    receipt.Timestamp.Format(time.DateTime),
		Confidence:   receipt.Confidence,
	}

	writeJSON(w, http.StatusCreated, response)
}
