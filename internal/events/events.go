package events

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced         = "OrderPlaced"
	EventPaymentConfirmed    = "PaymentConfirmed"
	EventPaymentFailed       = "PaymentFailed"
	EventReservationReleased = "ReservationReleased"
	EventPaymentCallback     = "PaymentCallbackReceived"
)

const Version = 1

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id atau intent_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type ItemPrice struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type OrderPlacedPayload struct {
	OrderID       string      `json:"order_id"`
	UserID        string      `json:"user_id"`
	Items         []ItemPrice `json:"items"`
	TotalCents    int64       `json:"total_cents"`
	Currency      string      `json:"currency"`
	PaymentMethod string      `json:"payment_method"`
	IntentID      string      `json:"intent_id,omitempty"`
}

// PaymentSettledPayload is shared by PaymentConfirmed and PaymentFailed.
type PaymentSettledPayload struct {
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id"`
	IntentID     string    `json:"intent_id"`
	PaymentID    string    `json:"payment_id,omitempty"`
	PaymentState string    `json:"payment_state"`
	SettledAt    time.Time `json:"settled_at"`
}

type ReservationReleasedPayload struct {
	OrderID string    `json:"order_id"`
	Items   []ItemQty `json:"items"`
	Reason  string    `json:"reason"` // e.g., EXPIRED
}

// PaymentCallbackPayload is a raw gateway webhook queued for the reconciler.
type PaymentCallbackPayload struct {
	IntentID  string          `json:"intent_id"`
	PaymentID string          `json:"payment_id"`
	Signature string          `json:"signature"`
	Address   json.RawMessage `json:"address,omitempty"`
}
