package httpapi

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"karuna.org/internal/donation"
	"karuna.org/internal/payment"
)

// paymentView is returned to the donor who created the payment.
type paymentView struct {
	TransactionID string               `json:"transaction_id"`
	Status        donation.Status      `json:"status"`
	Method        payment.Method       `json:"method"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	RecipientID   string               `json:"recipient_id"`
	Instructions  payment.Instructions `json:"instructions"`
	QRCode        string               `json:"qr_code,omitempty"`
	Recurring     *donation.Recurring  `json:"recurring,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// statusView is the public status read; it carries no donor data.
type statusView struct {
	TransactionID string          `json:"transaction_id"`
	Status        donation.Status `json:"status"`
	Method        payment.Method  `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	RecipientID   string          `json:"recipient_id"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeOK(w, http.StatusOK, "", map[string]any{
		"currency": a.payments.Currency(),
		"methods":  a.payments.Methods(),
	})
}

func (a *API) createPayment(method payment.Method) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var in donation.CreateInput
		if err := decodeJSON(r, &in); err != nil {
			a.fail(w, r, err)
			return
		}
		in.Method = method
		rec, err := a.donations.CreateDirectPayment(r.Context(), in)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		view := paymentView{
			TransactionID: rec.TransactionID,
			Status:        rec.Status,
			Method:        rec.Method,
			Amount:        rec.Amount,
			Currency:      rec.Currency,
			RecipientID:   rec.RecipientID,
			Instructions:  rec.Instructions,
			Recurring:     rec.Recurring,
			CreatedAt:     rec.CreatedAt,
		}
		if rec.Instructions.UPI != nil {
			view.QRCode = rec.Instructions.UPI.QRCode
		}
		w.Header().Set("Location", "/api/direct-payment/status/"+rec.TransactionID)
		writeOK(w, http.StatusCreated, "payment created", view)
	}
}

func (a *API) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	txnID, ok := a.transactionID(w, r, "/api/direct-payment/status/")
	if !ok {
		return
	}
	rec, err := a.donations.Get(r.Context(), txnID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", statusView{
		TransactionID: rec.TransactionID,
		Status:        rec.Status,
		Method:        rec.Method,
		Amount:        rec.Amount,
		Currency:      rec.Currency,
		RecipientID:   rec.RecipientID,
		CompletedAt:   rec.CompletedAt,
		RefundedAt:    rec.RefundedAt,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	})
}

// handleVerify records an admin's manual attestation that funds arrived.
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	txnID, ok := a.transactionID(w, r, "/api/direct-payment/verify/")
	if !ok {
		return
	}
	var in donation.VerifyInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	in.VerifiedBy = principal(r).Subject
	rec, err := a.donations.Verify(r.Context(), txnID, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "payment verified", rec)
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	txnID, ok := a.transactionID(w, r, "/api/direct-payment/refund/")
	if !ok {
		return
	}
	var in donation.RefundInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	rec, err := a.donations.Refund(r.Context(), txnID, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "payment refunded", rec)
}

func (a *API) handleFail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	txnID, ok := a.transactionID(w, r, "/api/direct-payment/fail/")
	if !ok {
		return
	}
	var req failRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	rec, err := a.donations.Fail(r.Context(), txnID, req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "payment marked failed", rec)
}

func (a *API) transactionID(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	parts, ok := pathParams(r.URL.Path, prefix, 1)
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found", nil)
		return "", false
	}
	return parts[0], true
}
