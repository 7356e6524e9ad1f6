package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/promptsmith/internal/app"
	"github.com/shrimpsizemoose/promptsmith/internal/models"
	"github.com/shrimpsizemoose/promptsmith/internal/payment"
)

type PaymentFlow interface {
	Create(ctx context.Context, clientID string, req models.PaymentRequest) (*models.PaymentResponse, error)
	Refresh(ctx context.Context, clientID, paymentID string) (*models.PaymentStatusResponse, error)
}

type PaymentHandler struct {
	flow         PaymentFlow
	clientHeader string
}

func NewPaymentHandler(flow PaymentFlow, clientHeader string) *PaymentHandler {
	return &PaymentHandler{flow: flow, clientHeader: clientHeader}
}

// HandleCreate serves POST /api/create-payment.
func (h *PaymentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = models.PaymentTypeLifetime
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment request")
		return
	}

	resp, err := h.flow.Create(r.Context(), r.Header.Get(h.clientHeader), req)
	switch {
	case errors.Is(err, app.ErrPriceMismatch):
		writeError(w, http.StatusBadRequest, "Amount or currency does not match the offer")
	case errors.Is(err, payment.ErrNotConfigured):
		logger.Error.Printf("Payment creation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Payment is not configured")
	case err != nil:
		logger.Error.Printf("Payment creation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create payment")
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleStatus serves GET /api/payments/{id}.
func (h *PaymentHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing payment id")
		return
	}

	resp, err := h.flow.Refresh(r.Context(), r.Header.Get(h.clientHeader), id)
	switch {
	case errors.Is(err, app.ErrUnknownPayment):
		writeError(w, http.StatusNotFound, "Payment not found")
	case err != nil:
		logger.Error.Printf("Payment status check failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to check payment status")
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}
