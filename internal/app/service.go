package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/promptsmith/internal/gigachat"
	"github.com/shrimpsizemoose/promptsmith/internal/ledger"
	"github.com/shrimpsizemoose/promptsmith/internal/payment"
	"github.com/shrimpsizemoose/promptsmith/internal/receipt"
	"github.com/shrimpsizemoose/promptsmith/internal/reconcile"
	"github.com/shrimpsizemoose/promptsmith/internal/store"
)

// Service owns every long-lived component. Optional parts are nil when their
// config section is disabled.
type Service struct {
	Config    *Config
	Generator *gigachat.Client
	Auth      *Auth

	Ledger   *ledger.Ledger
	Receipts *receipt.Issuer
	Store    store.PaymentStore
	Checkout *Checkout
	// Reconciler is built when payments are enabled; the caller starts it.
	Reconciler *reconcile.Reconciler
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewServiceFromConfig(ctx, config)
}

func NewServiceFromConfig(ctx context.Context, config *Config) (*Service, error) {
	generator, err := gigachat.NewClient(config.GigaChatConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to init gigachat client: %w", err)
	}

	s := &Service{
		Config:    config,
		Generator: generator,
		Auth:      NewAuth(config),
	}

	if config.Payment.ReceiptSecret != "" {
		s.Receipts, err = receipt.NewIssuer(config.Payment.ReceiptSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to init receipts: %w", err)
		}
	}

	if config.Quota.Enabled {
		s.Ledger, err = ledger.Connect(ctx, config.Quota.RedisURL, ledger.Options{
			KeyTemplate:    config.Quota.KeyTemplate,
			FreeLimit:      config.Quota.FreeLimit,
			BonusBlockSize: config.Quota.BonusBlockSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init quota ledger: %w", err)
		}
	}

	if config.Payment.Enabled {
		s.Store, err = NewStore(store.DBConfig{
			DSN:           config.Database.DSN,
			MigrationsDir: config.Database.MigrationsDir,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to init store: %w", err)
		}

		gateway := payment.NewClient(payment.Config{
			APIURL:    config.Payment.APIURL,
			ShopID:    config.Payment.ShopID,
			SecretKey: config.Payment.SecretKey,
			Timeout:   config.Payment.Timeout.Duration,
		})
		if config.Payment.ShopID == "" || config.Payment.SecretKey == "" {
			logger.Error.Println("Payment is enabled but shop credentials are empty, checkout will fail")
		}

		var paid PaidMarker
		if s.Ledger != nil {
			paid = s.Ledger
		}
		s.Checkout = NewCheckout(gateway, s.Store, paid, s.Receipts, Offer{
			Price:       config.Payment.Price,
			Currency:    config.Payment.Currency,
			Description: config.Payment.Description,
			ReturnURL:   config.ReturnURL(),
		})
		s.Reconciler = reconcile.New(s.Store, s.Checkout, config.Payment.ReconcileMaxAge.Duration)
	}

	return s, nil
}

func (s *Service) Close() error {
	var errs []error

	if s.Reconciler != nil {
		s.Reconciler.Stop()
	}

	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if s.Ledger != nil {
		if err := s.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
	}

	return errors.Join(errs...)
}
