package events

import (
	"context"
	"log/slog"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Notifier publishes committed order changes. Publish failures are logged and
// never surface to the order operation that triggered them.
type Notifier struct {
	Pub      Publisher
	Producer string
	Logger   *slog.Logger
}

func (n *Notifier) OrderPlaced(ctx context.Context, o *orders.Order) {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, li := range o.Items {
		items = append(items, ItemPrice{ProductID: li.ProductID, Qty: li.Qty, PriceCents: orders.Cents(li.UnitPrice)})
	}
	n.publish(ctx, TopicOrderPlaced, EventOrderPlaced, o.ID, OrderPlacedPayload{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Items:         items,
		TotalCents:    orders.Cents(o.Total),
		Currency:      o.Currency,
		PaymentMethod: string(o.PaymentMethod),
		IntentID:      o.GatewayIntentID,
	})
}

func (n *Notifier) PaymentSettled(ctx context.Context, o *orders.Order) {
	typ := EventPaymentFailed
	if o.PaymentState == orders.StatePaid {
		typ = EventPaymentConfirmed
	}
	n.publish(ctx, TopicPaymentSettled, typ, o.ID, PaymentSettledPayload{
		OrderID:      o.ID,
		UserID:       o.UserID,
		IntentID:     o.GatewayIntentID,
		PaymentID:    o.GatewayPaymentID,
		PaymentState: string(o.PaymentState),
		SettledAt:    o.UpdatedAt,
	})
}

// ReservationsReleased announces stock handed back for an order that was never persisted.
func (n *Notifier) ReservationsReleased(ctx context.Context, orderID string, items []ItemQty, reason string) {
	n.publish(ctx, TopicReservationReleased, EventReservationReleased, orderID, ReservationReleasedPayload{
		OrderID: orderID,
		Items:   items,
		Reason:  reason,
	})
}

func (n *Notifier) publish(ctx context.Context, topic, typ, key string, payload any) {
	log := n.Logger
	if log == nil {
		log = slog.Default()
	}
	ev, err := New(ctx, typ, n.Producer, key, payload)
	if err == nil {
		err = n.Pub.Publish(ctx, topic, PartitionKey(key), ev)
	}
	if err != nil {
		log.Error("publish event failed", "event_type", typ, "topic", topic, "correlation_id", key, "err", err)
	}
}
