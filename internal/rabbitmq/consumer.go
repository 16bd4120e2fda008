package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/tracing"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	conn     *amqp.Connection
	queue    string
	prefetch int
	log      *slog.Logger
	policy   events.RetryPolicy
}

// NewConsumer declares queue on the exchange and binds it to topic. An empty
// queue name gives a broker-named exclusive queue, used for per-instance
// fan-out.
func NewConsumer(url, exchange, queue, topic string, prefetch int, log *slog.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, exchange); err != nil {
		conn.Close()
		return nil, err
	}
	durable, exclusive := queue != "", queue == ""
	q, err := ch.QueueDeclare(
		queue,
		durable,
		!durable,
		exclusive,
		false,
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic, exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	if prefetch <= 0 {
		prefetch = 32
	}
	return &Consumer{
		conn:     conn,
		queue:    q.Name,
		prefetch: prefetch,
		log:      log.With("queue", q.Name, "topic", topic),
		policy:   events.DefaultRetry,
	}, nil
}

func (c *Consumer) WithRetry(p events.RetryPolicy) *Consumer {
	c.policy = p
	return c
}

func (c *Consumer) Start(ctx context.Context, h events.Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume queue: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = ch.Cancel("", false)
		ch.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				c.log.Info("consumer channel closed")
				return nil
			}
			c.settle(ctx, h, d)
		}
	}
}

// settle acks a delivery that is done with and requeues one whose handling
// was cut short by shutdown.
func (c *Consumer) settle(ctx context.Context, h events.Handler, d amqp.Delivery) {
	var err error
	if c.handle(ctx, h, d) {
		err = d.Ack(false)
	} else {
		err = d.Nack(false, true)
	}
	if err != nil {
		c.log.Warn("settle delivery", "delivery_tag", d.DeliveryTag, "err", err)
	}
}

func (c *Consumer) handle(ctx context.Context, h events.Handler, d amqp.Delivery) bool {
	ev, err := events.Unmarshal(d.Body)
	if err != nil {
		c.log.Error("drop undecodable message", "message_id", d.MessageId, "err", err)
		return true
	}
	return c.policy.Run(tracing.ExtractAMQPHeaders(ctx, d.Headers), h, ev, c.log)
}

func (c *Consumer) Close() error {
	return c.conn.Close()
}
