package app

import (
	"fmt"

	"github.com/shrimpsizemoose/promptsmith/internal/store"
	"github.com/shrimpsizemoose/promptsmith/internal/store/postgres"
	"github.com/shrimpsizemoose/promptsmith/internal/store/sqlite"
)

func NewStore(cfg store.DBConfig) (store.PaymentStore, error) {
	if cfg.Type == "" {
		cfg.Type = store.DetectType(cfg.DSN)
	}
	if cfg.MigrationsDir == "" {
		cfg.MigrationsDir = "./migrations"
	}

	switch cfg.Type {
	case store.DBTypePostgres:
		s, err := postgres.NewPostgresStore(cfg.DSN, cfg.MigrationsDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case store.DBTypeSQLite:
		s, err := sqlite.NewSQLiteStore(cfg.DSN, cfg.MigrationsDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
