package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/bus"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/gateway"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/reconciler"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/tracing"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-reconciler"
	log := logging.New(service, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, service, log); err != nil {
		log.Error("reconciler exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, service string, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, service, cfg.OTELExporter, log)
	if err != nil {
		return err
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	b, err := bus.Open(cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	notifier := &events.Notifier{Pub: b, Producer: service, Logger: log}
	h := &reconciler.Handler{
		Payments: &orders.Reconciler{
			Ledger:   &postgres.Ledger{DB: db},
			Verifier: gateway.NewSigner(cfg.Gateway.KeySecret),
			Notifier: notifier,
			Logger:   log,
		},
		Log: log,
	}
	dedup := redisx.NewDedup(rdb, service)

	cons, err := b.Subscribe(cfg.ReconcilerGroup, events.TopicPaymentCallbacks, cfg.ReconcilerWorkers, reconciler.RetryPolicy())
	if err != nil {
		return err
	}

	sweeper := &inventory.Sweeper{
		Store:    &postgres.Inventory{DB: db},
		Notifier: notifier,
		TTL:      cfg.ReservationTTL,
		Interval: cfg.SweepInterval,
		Log:      log,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("callback consumer started", "group", cfg.ReconcilerGroup, "topic", events.TopicPaymentCallbacks, "workers", cfg.ReconcilerWorkers)
		errCh <- cons.Start(ctx, dedup.Wrap(h.Handle))
	}()
	go func() { errCh <- sweeper.Run(ctx) }()

	var runErr error
	pending := 2
	select {
	case <-ctx.Done():
		log.Info("shutting down consumer...")
	case runErr = <-errCh:
		if runErr == nil {
			runErr = errors.New("worker stopped unexpectedly")
		}
		pending--
		stop()
	}

	// tunggu worker selesai supaya offset/ack terakhir tidak hilang
	wait := time.NewTimer(cfg.ShutdownTimeout)
	defer wait.Stop()
	for ; pending > 0; pending-- {
		select {
		case <-errCh:
		case <-wait.C:
			log.Warn("workers did not stop in time")
			return runErr
		}
	}
	return runErr
}
