package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// errNotYetPersisted wraps NotFound for callbacks that can overtake the
// placement commit; the intent exists at the gateway before the order row.
var errNotYetPersisted = errors.New("order for intent not persisted yet")

type Confirmer interface {
	ConfirmPayment(ctx context.Context, req orders.ConfirmPaymentRequest) (*orders.Order, error)
}

// Handler runs queued gateway callbacks through the reconciliation flow.
type Handler struct {
	Payments Confirmer
	Log      *slog.Logger
}

func (h *Handler) Handle(ctx context.Context, ev events.Envelope) error {
	if ev.EventType != events.EventPaymentCallback {
		return nil
	}
	cb, err := events.Payload[events.PaymentCallbackPayload](ev)
	if err != nil {
		h.Log.Error("drop malformed callback", "event_id", ev.EventID, "err", err)
		return nil
	}

	req := orders.ConfirmPaymentRequest{
		GatewayIntentID:  cb.IntentID,
		GatewayPaymentID: cb.PaymentID,
		Signature:        cb.Signature,
	}
	if len(cb.Address) > 0 && string(cb.Address) != "null" {
		var a orders.Address
		if err := json.Unmarshal(cb.Address, &a); err != nil {
			h.Log.Warn("ignore malformed address override", "intent_id", cb.IntentID, "err", err)
		} else {
			req.AddressOverride = &a
		}
	}

	o, err := h.Payments.ConfirmPayment(ctx, req)
	switch {
	case err == nil:
		h.Log.Info("payment reconciled", "intent_id", cb.IntentID, "order_id", o.ID, "payment_state", o.PaymentState)
		return nil
	case orders.IsTerminalFailure(err):
		// order sudah Failed, tidak ada yang perlu diulang
		h.Log.Warn("payment rejected", "intent_id", cb.IntentID, "kind", orders.KindOf(err))
		return nil
	case orders.KindOf(err) == orders.KindNotFound:
		return fmt.Errorf("%w: %s", errNotYetPersisted, cb.IntentID)
	case orders.KindOf(err) == orders.KindInvalidRequest:
		h.Log.Error("drop invalid callback", "intent_id", cb.IntentID, "err", err)
		return nil
	default:
		return err
	}
}

// RetryPolicy retries storage failures and callbacks racing their order's
// commit. Anything else returned by Handle is already permanent.
func RetryPolicy() events.RetryPolicy {
	return events.RetryPolicy{
		MaxAttempts: 8,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Retriable: func(err error) bool {
			return errors.Is(err, errNotYetPersisted) || orders.Retriable(err)
		},
	}
}
