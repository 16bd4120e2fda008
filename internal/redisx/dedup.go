package redisx

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed event ids per consuming service.
type Dedup struct {
	rdb     *redis.Client
	service string
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

func (d *Dedup) key(eventID string) string {
	return fmt.Sprintf(KeyDedup, d.service, eventID)
}

// Seen reports whether the event was already handled.
func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records the event as handled.
func (d *Dedup) Mark(ctx context.Context, eventID string) error {
	return d.rdb.SetNX(ctx, d.key(eventID), "1", TTLDedup).Err()
}

func (d *Dedup) Forget(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, d.key(eventID)).Err()
}

// Wrap skips events already handled. The mark is written only after the
// handler succeeded, so a delivery that dies mid-handler is run again on
// redelivery; the handler itself must tolerate that.
func (d *Dedup) Wrap(h events.Handler) events.Handler {
	return func(ctx context.Context, ev events.Envelope) error {
		seen, err := d.Seen(ctx, ev.EventID)
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if seen {
			return nil
		}
		if err := h(ctx, ev); err != nil {
			return err
		}
		// gagal mark cuma berarti redelivery diproses ulang
		_ = d.Mark(context.WithoutCancel(ctx), ev.EventID)
		return nil
	}
}
