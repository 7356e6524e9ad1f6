package handlers

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/shrimpsizemoose/promptsmith/internal/models"
	"github.com/shrimpsizemoose/promptsmith/internal/receipt"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Status(ctx context.Context, client string) (models.QuotaStatus, error) {
	args := m.Called(ctx, client)
	return args.Get(0).(models.QuotaStatus), args.Error(1)
}

func (m *mockLedger) Consume(ctx context.Context, client string) (models.QuotaStatus, error) {
	args := m.Called(ctx, client)
	return args.Get(0).(models.QuotaStatus), args.Error(1)
}

func (m *mockLedger) MarkPaid(ctx context.Context, client string) error {
	return m.Called(ctx, client).Error(0)
}

func (m *mockLedger) GrantBonus(ctx context.Context, client string, blocks int) (models.QuotaStatus, error) {
	args := m.Called(ctx, client, blocks)
	return args.Get(0).(models.QuotaStatus), args.Error(1)
}

type mockReceipts struct {
	mock.Mock
}

func (m *mockReceipts) Verify(token, clientID string) (*receipt.Claims, error) {
	args := m.Called(token, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*receipt.Claims), args.Error(1)
}

type mockAdmin struct {
	mock.Mock
}

func (m *mockAdmin) ValidateAdmin(r *http.Request) error {
	return m.Called(r.Header.Get("Authorization")).Error(0)
}

type mockFlow struct {
	mock.Mock
}

func (m *mockFlow) Create(ctx context.Context, clientID string, req models.PaymentRequest) (*models.PaymentResponse, error) {
	args := m.Called(ctx, clientID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentResponse), args.Error(1)
}

func (m *mockFlow) Refresh(ctx context.Context, clientID, paymentID string) (*models.PaymentStatusResponse, error) {
	args := m.Called(ctx, clientID, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentStatusResponse), args.Error(1)
}
