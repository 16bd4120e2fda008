package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-storefront-orders/internal/orders")

const (
	defaultCompensationAttempts = 5
	defaultCompensationBackoff  = 100 * time.Millisecond
	maxCompensationBackoff      = 2 * time.Second
	compensationTimeout         = 3 * time.Second
)

// Coordinator turns a cart snapshot into a priced, stock-decremented order.
//
// Placement is a saga over the storage layer: each stock decrement is an
// atomic conditional write recorded as a reservation, and every failure after
// the first decrement releases the order's reservations before returning.
// No in-process lock is held across I/O.
type Coordinator struct {
	Validator *Validator
	Inventory Inventory
	Ledger    Ledger
	Users     Users
	Gateway   Gateway
	Notifier  Notifier
	Logger    *slog.Logger

	Currency             string
	CompensationAttempts int
	CompensationBackoff  time.Duration
}

func (c *Coordinator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (res PlaceOrderResult, err error) {
	ctx, span := tracer.Start(ctx, "orders.PlaceOrder")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(KindOf(err)))
		}
		span.End()
	}()

	if strings.TrimSpace(req.UserID) == "" {
		return res, &InvalidRequestError{Field: "user_id", Reason: "required"}
	}
	if !req.PaymentMethod.Valid() {
		return res, &InvalidRequestError{Field: "payment_method", Reason: fmt.Sprintf("unsupported method %q", req.PaymentMethod)}
	}

	addr, err := c.resolveAddress(ctx, req.UserID, req.DeliveryAddress)
	if err != nil {
		return res, err
	}

	quote, err := c.Validator.Validate(ctx, req.Items, req.ClaimedTotal)
	if err != nil {
		return res, err
	}

	orderID := uuid.NewString()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("user.id", req.UserID))
	log := c.log().With("order_id", orderID, "user_id", req.UserID)

	// From the first Reserve call on, any exit without a persisted order must
	// give the stock back, including a panic.
	held, committed := false, false
	defer func() {
		if !held || committed {
			return
		}
		if r := recover(); r != nil {
			c.compensate(ctx, orderID, log)
			panic(r)
		}
		c.compensate(ctx, orderID, log)
	}()

	for _, li := range quote.Items {
		held = true
		ok, available, rerr := c.Inventory.Reserve(ctx, orderID, li.ProductID, li.Qty)
		if rerr != nil {
			return res, fmt.Errorf("reserve %s: %w", li.ProductID, rerr)
		}
		if !ok {
			return res, &StockError{ProductID: li.ProductID, Requested: li.Qty, Available: available}
		}
	}

	currency := c.currency()
	var intent PaymentIntent
	if !req.PaymentMethod.CashEquivalent() {
		intent, err = c.Gateway.CreateIntent(ctx, quote.Total, currency, newReceipt())
		if err != nil {
			var gerr *GatewayError
			if !errors.As(err, &gerr) {
				err = &GatewayError{Op: "create intent", Err: err}
			}
			return res, err
		}
	}

	now := time.Now().UTC()
	o := &Order{
		ID:              orderID,
		UserID:          req.UserID,
		Items:           quote.Items,
		Total:           quote.Total,
		Currency:        currency,
		DeliveryAddress: addr,
		PaymentMethod:   req.PaymentMethod,
		PaymentState:    StatePending,
		GatewayIntentID: intent.ID,
		Receipt:         intent.Receipt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err = c.Ledger.Create(ctx, o); err != nil {
		if intent.ID != "" {
			log.Warn("gateway intent left without order", "intent_id", intent.ID)
		}
		return res, fmt.Errorf("persist order: %w", err)
	}
	committed = true

	log.Info("order placed", "total", o.Total.StringFixed(2), "payment_method", o.PaymentMethod, "intent_id", o.GatewayIntentID)
	c.notifier().OrderPlaced(ctx, o)

	return PlaceOrderResult{
		OrderID:         o.ID,
		GatewayIntentID: o.GatewayIntentID,
		Total:           o.Total,
		Currency:        o.Currency,
		PaymentState:    o.PaymentState,
	}, nil
}

// resolveAddress prefers a complete caller-supplied address and otherwise
// falls back to the first complete address stored for the user. The result is
// a copy, never a reference to the user's record.
func (c *Coordinator) resolveAddress(ctx context.Context, userID string, supplied *Address) (Address, error) {
	u, err := c.Users.GetUser(ctx, userID)
	if err != nil {
		return Address{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	if supplied.Complete() {
		return *supplied, nil
	}
	for i := range u.Addresses {
		if u.Addresses[i].Complete() {
			return u.Addresses[i], nil
		}
	}
	return Address{}, ErrMissingAddress
}

// compensate releases every reservation held by orderID. It runs detached
// from the caller's context so that a cancelled request still gives its stock
// back. When all attempts fail the reservations stay durable in storage and
// the sweeper releases them once they expire.
func (c *Coordinator) compensate(ctx context.Context, orderID string, log *slog.Logger) {
	base := context.WithoutCancel(ctx)
	attempts := c.CompensationAttempts
	if attempts <= 0 {
		attempts = defaultCompensationAttempts
	}
	backoff := c.CompensationBackoff
	if backoff <= 0 {
		backoff = defaultCompensationBackoff
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		attemptCtx, cancel := context.WithTimeout(base, compensationTimeout)
		released, err := c.Inventory.ReleaseAll(attemptCtx, orderID)
		cancel()
		if err == nil {
			if released > 0 {
				log.Info("reservations released", "released", released)
			}
			return
		}
		lastErr = err
		log.Warn("release reservations failed", "attempt", i, "err", err)
		if i < attempts {
			time.Sleep(backoff)
			backoff = min(backoff*2, maxCompensationBackoff)
		}
	}
	log.Error("compensation pending; reservations left for sweeper", "attempts", attempts, "err", lastErr)
}

func (c *Coordinator) currency() string {
	if c.Currency == "" {
		return "INR"
	}
	return c.Currency
}

func (c *Coordinator) log() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Coordinator) notifier() Notifier {
	if c.Notifier == nil {
		return nopNotifier{}
	}
	return c.Notifier
}

func newReceipt() string {
	return "receipt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
