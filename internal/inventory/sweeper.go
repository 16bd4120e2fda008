package inventory

import (
	"context"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

const (
	ReasonExpired = "EXPIRED"

	defaultBatch = 100
)

type Store interface {
	Expired(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	Release(ctx context.Context, orderID string) ([]postgres.ReservedItem, error)
}

type Notifier interface {
	ReservationsReleased(ctx context.Context, orderID string, items []events.ItemQty, reason string)
}

// Sweeper gives back stock held by reservations that never became an order,
// e.g. when the placing process died between decrement and persistence or
// in-call compensation ran out of attempts.
type Sweeper struct {
	Store    Store
	Notifier Notifier
	TTL      time.Duration
	Interval time.Duration
	Batch    int
	Log      *slog.Logger
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	s.Log.Info("reservation sweeper started", "ttl", s.TTL, "interval", s.Interval)
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.Log.Error("sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// SweepOnce releases one batch of expired reservations and returns how many
// orders it released.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	batch := s.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	ids, err := s.Store.Expired(ctx, time.Now().Add(-s.TTL), batch)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, id := range ids {
		items, err := s.Store.Release(ctx, id)
		if err != nil {
			// lanjut ke order berikutnya, sisanya dicoba lagi di tick selanjutnya
			s.Log.Error("release expired reservation", "order_id", id, "err", err)
			continue
		}
		if len(items) == 0 {
			continue
		}
		released++
		s.Log.Warn("expired reservation released", "order_id", id, "items", len(items))
		if s.Notifier != nil {
			s.Notifier.ReservationsReleased(ctx, id, toItemQty(items), ReasonExpired)
		}
	}
	return released, nil
}

func toItemQty(items []postgres.ReservedItem) []events.ItemQty {
	out := make([]events.ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, events.ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	return out
}
