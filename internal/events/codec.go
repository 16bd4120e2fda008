package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Publisher sends an envelope to a topic. Implementations may buffer; a nil
// error means the event was accepted, not that a broker stored it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, ev Envelope) error
}

// Handler harus return nil hanya jika proses sukses & boleh ack/commit.
type Handler func(ctx context.Context, ev Envelope) error

// New builds a v1 envelope around payload. The trace id comes from the span
// in ctx when there is one.
func New(ctx context.Context, eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  Version,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	return ev, nil
}

func Marshal(ev Envelope) ([]byte, error) { return json.Marshal(ev) }

func Unmarshal(b []byte) (Envelope, error) {
	var ev Envelope
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("decode envelope: %w", err)
	}
	return ev, nil
}

// Payload memudahkan decode payload spesifik
func Payload[T any](ev Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(ev.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", ev.EventType, err)
	}
	return t, nil
}
