package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{APIURL: srv.URL + "/v3", ShopID: "shop", SecretKey: "secret"})
}

func TestCreatePayment(t *testing.T) {
	var got createRequest
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/payments", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)

		_, err := uuid.Parse(r.Header.Get("Idempotence-Key"))
		assert.NoError(t, err)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(Payment{
			ID:           "2d1f-pay",
			Status:       "pending",
			Amount:       got.Amount,
			Confirmation: &Confirmation{Type: "redirect", ConfirmationURL: "https://yoomoney.ru/checkout/2d1f"},
		})
	})

	p, err := c.CreatePayment(context.Background(), CreateParams{
		Amount:      99,
		Currency:    "RUB",
		Description: "Lifetime access",
		ReturnURL:   "https://example.com/payment?payment=success",
		ClientID:    "client-a",
		Type:        "lifetime_access",
	})
	require.NoError(t, err)

	assert.Equal(t, "2d1f-pay", p.ID)
	assert.Equal(t, "https://yoomoney.ru/checkout/2d1f", p.ConfirmationURL())

	assert.Equal(t, Amount{Value: "99.00", Currency: "RUB"}, got.Amount)
	assert.True(t, got.Capture)
	assert.Equal(t, "redirect", got.Confirmation.Type)
	assert.Equal(t, "https://example.com/payment?payment=success", got.Confirmation.ReturnURL)
	assert.Equal(t, map[string]string{"type": "lifetime_access", "client_id": "client-a"}, got.Metadata)
}

func TestCreatePaymentWithoutConfirmation(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","status":"pending"}`))
	})

	_, err := c.CreatePayment(context.Background(), CreateParams{Amount: 99, Currency: "RUB"})
	assert.ErrorIs(t, err, ErrGateway)
}

func TestGetPayment(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Empty(t, r.Header.Get("Idempotence-Key"))
		if r.URL.Path != "/v3/payments/pay-1" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"id":"pay-1","status":"succeeded","paid":true,"metadata":{"client_id":"client-a"}}`))
	})

	p, err := c.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", p.Status)
	assert.True(t, p.Paid)
	assert.Equal(t, "client-a", p.Metadata["client_id"])

	_, err = c.GetPayment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGatewayErrors(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","code":"invalid_credentials"}`))
	})

	_, err := c.GetPayment(context.Background(), "pay-1")
	assert.ErrorIs(t, err, ErrGateway)

	unconfigured := NewClient(Config{})
	_, err = unconfigured.CreatePayment(context.Background(), CreateParams{Amount: 99, Currency: "RUB"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
