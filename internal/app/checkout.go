package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/promptsmith/internal/metrics"
	"github.com/shrimpsizemoose/promptsmith/internal/models"
	"github.com/shrimpsizemoose/promptsmith/internal/payment"
	"github.com/shrimpsizemoose/promptsmith/internal/receipt"
	"github.com/shrimpsizemoose/promptsmith/internal/store"
)

var (
	ErrPriceMismatch  = errors.New("amount or currency does not match the offer")
	ErrUnknownPayment = errors.New("unknown payment")
)

type PaymentGateway interface {
	CreatePayment(ctx context.Context, p payment.CreateParams) (*payment.Payment, error)
	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
}

// PaidMarker unlocks a client after a successful payment.
type PaidMarker interface {
	MarkPaid(ctx context.Context, client string) error
	Status(ctx context.Context, client string) (models.QuotaStatus, error)
}

type Offer struct {
	Price       float64
	Currency    string
	Description string
	ReturnURL   string
}

// Checkout runs the one-time payment flow: create a payment at the gateway,
// remember it, and unlock the client once the gateway reports success.
type Checkout struct {
	gateway  PaymentGateway
	store    store.PaymentStore
	ledger   PaidMarker
	receipts *receipt.Issuer
	offer    Offer
	now      func() time.Time
}

// NewCheckout wires the flow. ledger and receipts may be nil.
func NewCheckout(gateway PaymentGateway, st store.PaymentStore, ledger PaidMarker, receipts *receipt.Issuer, offer Offer) *Checkout {
	return &Checkout{
		gateway:  gateway,
		store:    st,
		ledger:   ledger,
		receipts: receipts,
		offer:    offer,
		now:      time.Now,
	}
}

func (c *Checkout) Create(ctx context.Context, clientID string, req models.PaymentRequest) (*models.PaymentResponse, error) {
	if req.Amount != c.offer.Price || req.Currency != c.offer.Currency {
		return nil, fmt.Errorf("%w: got %.2f %s", ErrPriceMismatch, req.Amount, req.Currency)
	}

	p, err := c.gateway.CreatePayment(ctx, payment.CreateParams{
		Amount:      c.offer.Price,
		Currency:    c.offer.Currency,
		Description: c.offer.Description,
		ReturnURL:   c.offer.ReturnURL,
		ClientID:    clientID,
		Type:        models.PaymentTypeLifetime,
	})
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues("create_failed").Inc()
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	confirmationURL := p.ConfirmationURL()
	status := p.Status
	if status == "" {
		status = models.PaymentPending
	}
	rec := &models.Payment{
		ID:              p.ID,
		ClientID:        clientID,
		Amount:          strconv.FormatFloat(c.offer.Price, 'f', 2, 64),
		Currency:        c.offer.Currency,
		Status:          status,
		ConfirmationURL: &confirmationURL,
		CreatedAt:       c.now().Unix(),
	}
	if err := c.store.CreatePayment(rec); err != nil {
		return nil, fmt.Errorf("failed to save payment %s: %w", p.ID, err)
	}

	metrics.PaymentsTotal.WithLabelValues(status).Inc()
	logger.Info.Printf("Created payment %s for client %q", p.ID, clientID)

	return &models.PaymentResponse{
		ConfirmationURL: confirmationURL,
		PaymentID:       p.ID,
	}, nil
}

// Refresh asks the gateway for the current status of a known payment. Once it
// succeeded the owning client is marked paid and, when receipts are enabled,
// gets a signed receipt.
func (c *Checkout) Refresh(ctx context.Context, clientID, paymentID string) (*models.PaymentStatusResponse, error) {
	rec, err := c.store.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if rec == nil || (rec.ClientID != "" && rec.ClientID != clientID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPayment, paymentID)
	}

	p, err := c.gateway.GetPayment(ctx, paymentID)
	if errors.Is(err, payment.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPayment, paymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payment %s: %w", paymentID, err)
	}

	succeeded := p.Status == models.PaymentSucceeded
	if p.Status != rec.Status {
		var paidAt *int64
		if succeeded {
			ts := c.now().Unix()
			paidAt = &ts
		}
		if err := c.store.UpdatePaymentStatus(paymentID, p.Status, paidAt); err != nil {
			return nil, err
		}
		metrics.PaymentsTotal.WithLabelValues(p.Status).Inc()
		logger.Info.Printf("Payment %s moved from %s to %s", paymentID, rec.Status, p.Status)
	}

	resp := &models.PaymentStatusResponse{
		PaymentID: paymentID,
		Status:    p.Status,
		Paid:      succeeded,
	}
	if !succeeded || rec.ClientID == "" {
		return resp, nil
	}

	if c.ledger != nil {
		if err := c.ledger.MarkPaid(ctx, rec.ClientID); err != nil {
			return nil, err
		}
		st, err := c.ledger.Status(ctx, rec.ClientID)
		if err != nil {
			return nil, err
		}
		resp.Quota = &st
	}
	if c.receipts != nil {
		token, err := c.receipts.Issue(rec.ClientID, paymentID)
		if err != nil {
			return nil, err
		}
		resp.Receipt = token
	}
	return resp, nil
}
