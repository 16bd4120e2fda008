package events

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy decides how consumers re-run a failing handler before giving up.
type RetryPolicy struct {
	MaxAttempts int
	// Retriable returns false for errors that will never succeed. Nil retries all.
	Retriable func(error) bool
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var DefaultRetry = RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}

// Run calls h until it succeeds, fails permanently or runs out of attempts,
// backing off exponentially in between. It returns false only when ctx ended
// first, meaning the message should be redelivered.
func (p RetryPolicy) Run(ctx context.Context, h Handler, ev Envelope, log *slog.Logger) bool {
	attempts := max(p.MaxAttempts, 1)
	delay := p.BaseDelay
	if delay <= 0 {
		delay = DefaultRetry.BaseDelay
	}
	maxDelay := max(p.MaxDelay, delay)

	for attempt := 1; ; attempt++ {
		err := h(ctx, ev)
		if err == nil {
			return true
		}
		l := log.With("event_id", ev.EventID, "event_type", ev.EventType, "attempt", attempt, "err", err)
		if attempt >= attempts || (p.Retriable != nil && !p.Retriable(err)) {
			l.Error("handler gave up")
			return true
		}
		l.Warn("handler failed, retrying", "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
		delay = min(delay*2, maxDelay)
	}
}
