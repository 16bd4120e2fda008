package rabbitmq

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/tracing"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends envelopes to a durable topic exchange. The event topic is
// the routing key, so consumers bind queues per topic.
type Publisher struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, exchange: exchange, ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, topic string, key []byte, ev events.Envelope) error {
	body, err := events.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	headers := tracing.InjectAMQPHeaders(ctx, amqp.Table{
		"x-event-type":    ev.EventType,
		"x-event-version": strconv.Itoa(ev.EventVersion),
		"x-partition-key": string(key),
	})

	// amqp channel tidak aman dipakai paralel
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("open channel: %w", err)
		}
		p.ch = ch
	}
	return p.ch.PublishWithContext(ctx, p.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Timestamp:    ev.OccurredAt,
		Type:         ev.EventType,
		Headers:      headers,
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	return nil
}
