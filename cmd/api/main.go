package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/bus"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/gateway"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/tracing"
	"github.com/ariefcatur/go-storefront-orders/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("order-api exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTELExporter, log)
	if err != nil {
		return err
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return err
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka / RabbitMQ
	b, err := bus.Open(cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	notifier := &events.Notifier{Pub: b, Producer: cfg.ServiceName, Logger: log}
	ledger := &postgres.Ledger{DB: db}

	coordinator := &orders.Coordinator{
		Validator: orders.NewValidator(&postgres.Catalog{DB: db}, cfg.PriceTolerance),
		Inventory: &postgres.Inventory{DB: db},
		Ledger:    ledger,
		Users:     &postgres.Users{DB: db},
		Gateway: gateway.NewClient(gateway.Config{
			BaseURL:   cfg.Gateway.BaseURL,
			KeyID:     cfg.Gateway.KeyID,
			KeySecret: cfg.Gateway.KeySecret,
			Timeout:   cfg.Gateway.Timeout,
		}),
		Notifier:             notifier,
		Logger:               log,
		Currency:             cfg.Currency,
		CompensationAttempts: cfg.CompensationAttempts,
	}
	reconciler := &orders.Reconciler{
		Ledger:   ledger,
		Verifier: gateway.NewSigner(cfg.Gateway.KeySecret),
		Notifier: notifier,
		Logger:   log,
	}
	queries := &orders.Queries{Ledger: ledger, Cache: redisx.NewOrderCache(rdb, log)}

	// websocket: tiap instance baca semua event settlement
	hub := websocket.NewHub()
	go hub.Run(ctx)
	settled, err := b.Subscribe("", events.TopicPaymentSettled, 1, events.DefaultRetry)
	if err != nil {
		return err
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Placer:   coordinator,
		Payments: reconciler,
		Reader:   queries,
		Idem:     redisx.NewIdempotency(rdb),
		WS:       websocket.NewHandler(hub, queries, log).ServeWS,
		Log:      log,
	}
	ph := &httpx.PaymentsHandler{Bus: b, Service: cfg.ServiceName, Log: log}
	router.Route("/api/v1", func(r chi.Router) {
		oh.Register(r)
		ph.Register(r)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := settled.Start(ctx, hub.HandleEvent); err != nil {
			errCh <- fmt.Errorf("settlement consumer: %w", err)
		}
	}()
	go func() {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error("http shutdown", "err", serr)
	}
	return err
}
