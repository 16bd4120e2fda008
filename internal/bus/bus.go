// Package bus opens the event broker selected in config behind the
// events.Publisher / events.Handler contracts.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/rabbitmq"
)

type Subscription interface {
	Start(ctx context.Context, h events.Handler) error
}

type Bus struct {
	events.Publisher

	cfg config.Config
	log *slog.Logger

	mu      sync.Mutex
	closers []func()
}

func Open(cfg config.Config, log *slog.Logger) (*Bus, error) {
	b := &Bus{cfg: cfg, log: log}
	switch cfg.EventsBroker {
	case config.BrokerRabbitMQ:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			return nil, err
		}
		b.Publisher = pub
		b.closers = append(b.closers, func() { _ = pub.Close() })
	default:
		prod := kafka.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start()
		b.Publisher = prod
		b.closers = append(b.closers, func() {
			prod.Close() // tutup inbox -> flush & close writer
			prod.WaitClosed()
		})
	}
	log.Info("event bus ready", "broker", cfg.EventsBroker)
	return b, nil
}

// Subscribe consumes topic as group. An empty group gives every process its
// own copy of the stream starting from now.
func (b *Bus) Subscribe(group, topic string, workers int, policy events.RetryPolicy) (Subscription, error) {
	switch b.cfg.EventsBroker {
	case config.BrokerRabbitMQ:
		c, err := rabbitmq.NewConsumer(b.cfg.RabbitURL, b.cfg.RabbitExchange, group, topic, workers*4, b.log)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		b.mu.Lock()
		b.closers = append(b.closers, func() { _ = c.Close() })
		b.mu.Unlock()
		return c.WithRetry(policy), nil
	default:
		// reader ditutup sendiri saat Start selesai
		return kafka.NewConsumer(b.cfg.KafkaBrokers, group, topic, workers, b.log).WithRetry(policy), nil
	}
}

// Close releases consumers first and the publisher last, in reverse order of
// creation.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
