package kafka

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/ariefcatur/go-storefront-orders/internal/tracing"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     *slog.Logger
	policy  events.RetryPolicy

	offsets  *offsets
	balancer kafka.Hash
	commitMu sync.Mutex
}

// NewConsumer reads topic as part of group. An empty group gives a throwaway
// group that starts at the newest offset, used for per-instance fan-out.
func NewConsumer(brokers []string, group, topic string, workers int, log *slog.Logger) *Consumer {
	start := kafka.FirstOffset
	if group == "" {
		group = "ephemeral-" + uuid.NewString()
		start = kafka.LastOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		StartOffset:    start,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:       r,
		workers: workers,
		log:     log.With("topic", topic, "group", group),
		policy:  events.DefaultRetry,
		offsets: newOffsets(),
	}
}

func (c *Consumer) WithRetry(p events.RetryPolicy) *Consumer {
	c.policy = p
	return c
}

// Start runs until ctx is cancelled. Messages with the same key always go to
// the same worker, so one intent is handled in order. A partition is
// committed only up to its oldest unfinished message.
func (c *Consumer) Start(ctx context.Context, h events.Handler) error {
	defer c.r.Close()

	jobs := make([]chan *slot, c.workers)
	var wg sync.WaitGroup

	// workers
	for i := range jobs {
		jobs[i] = make(chan *slot, 128)
		wg.Add(1)
		go func(in <-chan *slot) {
			defer wg.Done()
			for s := range in {
				if !c.handle(ctx, h, s.m) {
					// belum selesai, watermark partisi berhenti di sini
					continue
				}
				c.commit(ctx, s)
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
	}
	defer wg.Wait()

	// dispatcher loop
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			// kecilkan noise saat shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s := c.offsets.track(m)
		select {
		case jobs[c.workerFor(m)] <- s:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// workerFor picks the worker owning m's key.
func (c *Consumer) workerFor(m kafka.Message) int {
	if c.workers == 1 {
		return 0
	}
	if len(m.Key) == 0 {
		return m.Partition % c.workers
	}
	ids := make([]int, c.workers)
	for i := range ids {
		ids[i] = i
	}
	return c.balancer.Balance(m, ids...)
}

func (c *Consumer) commit(ctx context.Context, s *slot) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	m, ok := c.offsets.finish(s)
	if !ok {
		return
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Error("commit failed", "partition", m.Partition, "offset", m.Offset, "err", err)
	}
}

// handle reports whether the message is done with and may be committed.
func (c *Consumer) handle(ctx context.Context, h events.Handler, m kafka.Message) bool {
	ev, err := events.Unmarshal(m.Value)
	if err != nil {
		c.log.Error("drop undecodable message", "offset", m.Offset, "err", err)
		return true
	}
	return c.policy.Run(tracing.ExtractKafkaHeaders(ctx, m.Headers), h, ev, c.log)
}

type slot struct {
	m    kafka.Message
	done bool
}

// offsets keeps fetched messages per partition in fetch order.
type offsets struct {
	mu      sync.Mutex
	pending map[int][]*slot
}

func newOffsets() *offsets {
	return &offsets{pending: make(map[int][]*slot)}
}

func (o *offsets) track(m kafka.Message) *slot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &slot{m: m}
	o.pending[m.Partition] = append(o.pending[m.Partition], s)
	return s
}

// finish marks s done and returns the newest message of its partition that
// has no unfinished message before it, if that moved.
func (o *offsets) finish(s *slot) (kafka.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s.done = true

	p := s.m.Partition
	q := o.pending[p]
	var last *slot
	for len(q) > 0 && q[0].done {
		last = q[0]
		q = q[1:]
	}
	if len(q) == 0 {
		delete(o.pending, p)
	} else {
		o.pending[p] = q
	}
	if last == nil {
		return kafka.Message{}, false
	}
	return last.m, true
}
