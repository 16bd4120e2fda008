package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/events"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func message(t *testing.T) kafka.Message {
	t.Helper()
	ev, err := events.New(context.Background(), events.EventPaymentCallback, "test", "intent_1", events.PaymentCallbackPayload{IntentID: "intent_1"})
	require.NoError(t, err)
	b, err := events.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Topic: events.TopicPaymentCallbacks, Value: b}
}

func TestHandleUsesRetryPolicy(t *testing.T) {
	c := (&Consumer{log: discard}).WithRetry(events.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	calls := 0
	done := c.handle(context.Background(), func(_ context.Context, ev events.Envelope) error {
		calls++
		assert.Equal(t, events.EventPaymentCallback, ev.EventType)
		return errors.New("db timeout")
	}, message(t))

	assert.True(t, done)
	assert.Equal(t, 3, calls)
}

func TestHandleDropsGarbage(t *testing.T) {
	c := &Consumer{log: discard, policy: events.DefaultRetry}
	called := false
	done := c.handle(context.Background(), func(context.Context, events.Envelope) error {
		called = true
		return nil
	}, kafka.Message{Value: []byte("not json")})

	assert.True(t, done)
	assert.False(t, called)
}

func TestProducerRejectsAfterClose(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, 4, discard)
	p.Close()

	ev, err := events.New(context.Background(), events.EventOrderPlaced, "test", "o-1", struct{}{})
	require.NoError(t, err)
	err = p.Publish(context.Background(), events.TopicOrderPlaced, events.PartitionKey("o-1"), ev)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestProducerPublishHonoursContext(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, 0, discard)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ev, err := events.New(ctx, events.EventOrderPlaced, "test", "o-1", struct{}{})
	require.NoError(t, err)
	err = p.Publish(ctx, events.TopicOrderPlaced, events.PartitionKey("o-1"), ev)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOffsetsCommitStopsAtUnfinishedMessage(t *testing.T) {
	o := newOffsets()
	m1 := o.track(kafka.Message{Partition: 0, Offset: 10})
	m2 := o.track(kafka.Message{Partition: 0, Offset: 11})
	m3 := o.track(kafka.Message{Partition: 0, Offset: 12})
	other := o.track(kafka.Message{Partition: 1, Offset: 5})

	// m1 masih retry, m2 selesai duluan: tidak boleh commit melewati m1
	_, ok := o.finish(m2)
	assert.False(t, ok)

	got, ok := o.finish(other)
	require.True(t, ok)
	assert.Equal(t, 1, got.Partition)
	assert.EqualValues(t, 5, got.Offset)

	got, ok = o.finish(m1)
	require.True(t, ok)
	assert.EqualValues(t, 11, got.Offset, "watermark jumps over everything already finished")

	got, ok = o.finish(m3)
	require.True(t, ok)
	assert.EqualValues(t, 12, got.Offset)
	assert.Empty(t, o.pending)
}

func TestWorkerForKeepsKeyOnOneWorker(t *testing.T) {
	c := &Consumer{workers: 8}
	key := events.PartitionKey("intent_A")
	first := c.workerFor(kafka.Message{Key: key, Partition: 0})
	for p := 0; p < 4; p++ {
		assert.Equal(t, first, c.workerFor(kafka.Message{Key: key, Partition: p}))
	}

	seen := map[int]bool{}
	for i := 0; i < 64; i++ {
		w := c.workerFor(kafka.Message{Key: []byte(fmt.Sprintf("intent_%d", i))})
		require.GreaterOrEqual(t, w, 0)
		require.Less(t, w, 8)
		seen[w] = true
	}
	assert.Greater(t, len(seen), 1, "keys spread over workers")

	assert.Equal(t, 3, c.workerFor(kafka.Message{Partition: 11}))
}
