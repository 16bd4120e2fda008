package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/tracing"
	"github.com/segmentio/kafka-go"
)

var ErrClosed = errors.New("kafka producer closed")

// Producer publishes envelopes through one async writer. The topic is set per
// message, so a single producer serves every topic.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closing chan struct{}
	closeCh chan struct{}
	once    sync.Once
	log     *slog.Logger
}

func NewProducer(brokers []string, buf int, log *slog.Logger) *Producer {
	p := &Producer{
		inbox:   make(chan kafka.Message, buf),
		closing: make(chan struct{}),
		closeCh: make(chan struct{}),
		log:     log,
	}
	p.w = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true, // fire-and-forget untuk throughput; error dilog di Completion
		Completion:             p.completion,
	}
	return p
}

func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case m := <-p.inbox:
				p.write(m)
			case <-p.closing:
				// flush sisa pesan di inbox lalu tutup writer
				for {
					select {
					case m := <-p.inbox:
						p.write(m)
					default:
						if err := p.w.Close(); err != nil {
							p.log.Error("kafka writer close", "err", err)
						}
						return
					}
				}
			}
		}
	}()
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, ev events.Envelope) error {
	b, err := events.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	headers := []kafka.Header{
		{Key: "x-event-type", Value: []byte(ev.EventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(ev.EventVersion))},
	}
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   b,
		Time:    time.Now(),
		Headers: tracing.InjectKafkaHeaders(ctx, headers),
	}
	select {
	case <-p.closing:
		return ErrClosed
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-p.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka enqueue failed", "topic", m.Topic, "key", string(m.Key), "err", err)
	}
}

func (p *Producer) completion(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		p.log.Error("kafka write failed", "topic", m.Topic, "key", string(m.Key), "err", err)
	}
}

// Close berhenti menerima pesan baru; goroutine nge-flush sisa pesan lalu exit rapi.
func (p *Producer) Close() { p.once.Do(func() { close(p.closing) }) }

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }
