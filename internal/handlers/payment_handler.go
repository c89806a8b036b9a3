package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/services"
	"go.uber.org/zap"
)

// PaymentFlow is the part of the payment service the public endpoints use.
type PaymentFlow interface {
	InstantPay(ctx context.Context, invoice string, code models.GatewayCode) (string, *models.Payment, error)
	HandleCallback(ctx context.Context, data models.CallbackData) (*models.Payment, bool, error)
	ByInvoice(ctx context.Context, invoice string) (*models.Payment, error)
	Verify(ctx context.Context, p *models.Payment, data models.CallbackData) (bool, error)
}

type PaymentHandler struct {
	payments  PaymentFlow
	validator *services.ValidationHelper
	logger    *zap.Logger
}

func NewPaymentHandler(payments PaymentFlow, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		validator: services.NewValidationHelper(),
		logger:    logger.Named("payment_handler"),
	}
}

type paymentStatus struct {
	InvoiceNumber string `json:"invoice_number"`
	Amount        int64  `json:"amount"`
	IsPaid        bool   `json:"is_paid"`
}

func statusOf(p *models.Payment, paid bool) paymentStatus {
	return paymentStatus{InvoiceNumber: p.InvoiceNumber, Amount: p.Amount, IsPaid: paid}
}

// InstantPay redirects the user to the gateway for an invoice. A paid
// invoice is replaced by a fresh top-up of the same amount.
func (h *PaymentHandler) InstantPay(w http.ResponseWriter, r *http.Request) {
	params := services.InstantPayParams{
		Invoice: chi.URLParam(r, "invoice"),
		Gateway: chi.URLParam(r, "gateway"),
	}
	if err := h.validator.ValidateStruct(&params); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	redirect, p, err := h.payments.InstantPay(r.Context(), params.Invoice, models.GatewayCode(params.Gateway))
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	h.logger.Info("redirecting to gateway", zap.String("invoice", p.InvoiceNumber), zap.String("gateway", params.Gateway))
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Callback receives the provider redirect, as query string or form post.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		services.SendErrorResponse(w, "Invalid callback", http.StatusBadRequest, nil)
		return
	}
	data := make(models.CallbackData, len(r.Form))
	for key := range r.Form {
		data[key] = r.Form.Get(key)
	}

	p, paid, err := h.payments.HandleCallback(r.Context(), data)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	services.SendJSON(w, http.StatusOK, statusOf(p, paid))
}

// Status reports whether an invoice is paid, verifying requested payments
// with their gateway on the way.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.ByInvoice(r.Context(), chi.URLParam(r, "invoice"))
	if err != nil {
		sendError(w, h.logger, err)
		return
	}

	paid := p.IsPaid
	if !paid && p.Requested() {
		if paid, err = h.payments.Verify(r.Context(), p, nil); err != nil {
			sendError(w, h.logger, err)
			return
		}
	}
	services.SendJSON(w, http.StatusOK, statusOf(p, paid))
}
