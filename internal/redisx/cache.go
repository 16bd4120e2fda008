package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// OrderCache is the Redis read cache for orders. Errors are logged and
// treated as misses.
type OrderCache struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewOrderCache(rdb *redis.Client, log *slog.Logger) *OrderCache {
	return &OrderCache{rdb: rdb, log: log}
}

func (c *OrderCache) GetOrder(ctx context.Context, id string) (*orders.Order, bool) {
	s, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, id)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("order cache get", "order_id", id, "err", err)
		}
		return nil, false
	}
	var o orders.Order
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		c.log.Warn("order cache decode", "order_id", id, "err", err)
		return nil, false
	}
	return &o, true
}

func (c *OrderCache) PutOrder(ctx context.Context, o *orders.Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, o.ID), b, TTLStatusCache).Err(); err != nil {
		c.log.Warn("order cache set", "order_id", o.ID, "err", err)
	}
}
