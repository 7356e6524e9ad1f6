package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/promptsmith/internal/app"
	"github.com/shrimpsizemoose/promptsmith/internal/handlers"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.NewService(ctx, *configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to init service: %v", err)
	}
	defer service.Close()

	cfg := service.Config
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, handlers.Instrument(pattern, h))
	}

	generateHandler := handlers.NewGenerateHandler(service.Generator)
	route("POST /api/generate", generateHandler.HandleGenerate)

	if service.Ledger != nil {
		var receipts handlers.ReceiptVerifier
		if service.Receipts != nil {
			receipts = service.Receipts
		}
		quotaHandler := handlers.NewQuotaHandler(service.Ledger, receipts, service.Auth, handlers.Headers{
			ClientID: cfg.Server.ClientIDHeader,
			Receipt:  cfg.Server.ReceiptHeader,
		})
		route("GET /api/quota", quotaHandler.HandleStatus)
		route("POST /api/quota/consume", quotaHandler.HandleConsume)
		route("POST /api/quota/bonus", quotaHandler.HandleBonus)
	}

	if service.Checkout != nil {
		paymentHandler := handlers.NewPaymentHandler(service.Checkout, cfg.Server.ClientIDHeader)
		route("POST /api/create-payment", paymentHandler.HandleCreate)
		route("GET /api/payments/{id}", paymentHandler.HandleStatus)

		if schedule := cfg.Payment.ReconcileSchedule; schedule != "" {
			if err := service.Reconciler.Start(schedule); err != nil {
				logger.Error.Fatalf("Failed to start payment reconciliation: %v", err)
			}
		}
	}

	if cfg.Server.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.Server.StaticDir)))
	}
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		logger.Info.Println("Shutting down promptsmith server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error.Printf("Graceful shutdown failed: %v", err)
		}
	}()

	logger.Info.Printf("Starting promptsmith server on %s", cfg.Server.Port)
	logger.Debug.Printf("Quota enabled: %t, payments enabled: %t", service.Ledger != nil, service.Checkout != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error.Fatalf("Promptsmith server failed: %v", err)
	}
}
