package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/shrimpsizemoose/promptsmith/internal/models"
)

type PaymentStore interface {
	Close() error
	ApplyMigrations(dir string) error

	CreatePayment(p *models.Payment) error
	GetPayment(id string) (*models.Payment, error)
	UpdatePaymentStatus(id, status string, paidAt *int64) error
	ListClientPayments(clientID string) ([]models.Payment, error)
	ListPendingPayments(since int64) ([]models.Payment, error)
}

// BaseStore provides common functionality for different DB implementations
type BaseStore struct {
	DB        *sqlx.DB
	Converter func(string) string
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// ApplyMigrations applies SQL migrations from a directory, translating dialect if needed
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file.Name(), err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file.Name(), err)
		}
	}

	return nil
}

func (s *BaseStore) CreatePayment(p *models.Payment) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid payment: %w", err)
	}

	_, err := s.DB.NamedExec(`
		INSERT INTO payments (id, client_id, amount, currency, status, confirmation_url, created_at, paid_at)
		VALUES (:id, :client_id, :amount, :currency, :status, :confirmation_url, :created_at, :paid_at)
	`, p)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *BaseStore) GetPayment(id string) (*models.Payment, error) {
	var p models.Payment
	query := s.Converter(`
		SELECT id, client_id, amount, currency, status, confirmation_url, created_at, paid_at
		FROM payments
		WHERE id = ?
	`)

	err := s.DB.Get(&p, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// UpdatePaymentStatus records the latest gateway status. paid_at is written
// once and kept on later updates.
func (s *BaseStore) UpdatePaymentStatus(id, status string, paidAt *int64) error {
	query := s.Converter(`
		UPDATE payments
		SET status = ?, paid_at = COALESCE(paid_at, ?)
		WHERE id = ?
	`)

	res, err := s.DB.Exec(query, status, paidAt, id)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *BaseStore) ListClientPayments(clientID string) ([]models.Payment, error) {
	var payments []models.Payment
	query := s.Converter(`
		SELECT id, client_id, amount, currency, status, confirmation_url, created_at, paid_at
		FROM payments
		WHERE client_id = ?
		ORDER BY created_at DESC, id
	`)

	err := s.DB.Select(&payments, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// ListPendingPayments returns payments created at or after since that have not
// reached a final status yet.
func (s *BaseStore) ListPendingPayments(since int64) ([]models.Payment, error) {
	var payments []models.Payment
	query := s.Converter(`
		SELECT id, client_id, amount, currency, status, confirmation_url, created_at, paid_at
		FROM payments
		WHERE status IN ('pending', 'waiting_for_capture')
		AND created_at >= ?
		ORDER BY created_at ASC
	`)

	err := s.DB.Select(&payments, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	return payments, nil
}
