package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Reconciler matches gateway confirmations back to their orders and drives
// the payment state machine. Every state change is a compare-and-set on the
// ledger, so concurrent or repeated confirmations for one order settle it
// exactly once.
type Reconciler struct {
	Ledger   Ledger
	Verifier SignatureVerifier
	Notifier Notifier
	Logger   *slog.Logger
}

// ConfirmPayment verifies a confirmation and finalizes the matching order.
// A replay against a Paid order returns it unchanged. A good confirmation
// for a Failed order returns that order with ErrPaymentFailed. A signature
// mismatch fails the order permanently and returns ErrSignatureMismatch.
func (r *Reconciler) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (o *Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.ConfirmPayment")
	span.SetAttributes(attribute.String("payment.intent_id", req.GatewayIntentID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(KindOf(err)))
		}
		span.End()
	}()

	switch {
	case req.GatewayIntentID == "":
		return nil, &InvalidRequestError{Field: "gateway_intent_id", Reason: "required"}
	case req.GatewayPaymentID == "":
		return nil, &InvalidRequestError{Field: "gateway_payment_id", Reason: "required"}
	case req.Signature == "":
		return nil, &InvalidRequestError{Field: "signature", Reason: "required"}
	}

	o, err = r.Ledger.GetByIntent(ctx, req.GatewayIntentID)
	if err != nil {
		return nil, fmt.Errorf("get order by intent %s: %w", req.GatewayIntentID, err)
	}

	switch o.PaymentState {
	case StatePaid:
		return o, nil
	case StateFailed:
		if !r.Verifier.Verify(req.GatewayIntentID, req.GatewayPaymentID, req.Signature) {
			return nil, ErrSignatureMismatch
		}
		return o, ErrPaymentFailed
	}

	if !r.Verifier.Verify(req.GatewayIntentID, req.GatewayPaymentID, req.Signature) {
		return r.reject(ctx, o, req)
	}
	return r.settle(ctx, o, req)
}

func (r *Reconciler) settle(ctx context.Context, o *Order, req ConfirmPaymentRequest) (*Order, error) {
	s := Settlement{GatewayPaymentID: req.GatewayPaymentID, Signature: req.Signature}
	if !o.DeliveryAddress.Complete() && req.AddressOverride.Complete() {
		addr := *req.AddressOverride
		s.AddressOverride = &addr
	}

	ok, err := r.Ledger.Transition(ctx, o.ID, StatePending, StatePaid, s)
	if err != nil {
		return nil, fmt.Errorf("mark order %s paid: %w", o.ID, err)
	}
	cur, err := r.Ledger.Get(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("reload order %s: %w", o.ID, err)
	}
	if !ok {
		// Lost the race to another confirmation or a failure report.
		if cur.PaymentState == StatePaid {
			return cur, nil
		}
		return cur, ErrPaymentFailed
	}

	r.log().Info("payment confirmed", "order_id", cur.ID, "intent_id", cur.GatewayIntentID, "payment_id", cur.GatewayPaymentID)
	r.notifier().PaymentSettled(ctx, cur)
	return cur, nil
}

func (r *Reconciler) reject(ctx context.Context, o *Order, req ConfirmPaymentRequest) (*Order, error) {
	ok, err := r.Ledger.Transition(ctx, o.ID, StatePending, StateFailed, Settlement{GatewayPaymentID: req.GatewayPaymentID})
	if err != nil {
		return nil, fmt.Errorf("mark order %s failed: %w", o.ID, err)
	}
	r.log().Warn("payment signature mismatch", "order_id", o.ID, "intent_id", o.GatewayIntentID, "applied", ok)
	if ok {
		if cur, err := r.Ledger.Get(ctx, o.ID); err == nil {
			r.notifier().PaymentSettled(ctx, cur)
		}
	}
	return nil, ErrSignatureMismatch
}

// MarkPaymentFailed records that the owner abandoned or failed checkout at the
// gateway. Only a Pending order moves; a Failed order is returned as is and a
// Paid order yields ErrAlreadyPaid. An order owned by someone else is
// reported as not found.
func (r *Reconciler) MarkPaymentFailed(ctx context.Context, intentID, userID string) (*Order, error) {
	if intentID == "" {
		return nil, &InvalidRequestError{Field: "gateway_intent_id", Reason: "required"}
	}
	o, err := r.Ledger.GetByIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("get order by intent %s: %w", intentID, err)
	}
	if o.UserID != userID {
		return nil, ErrOrderNotFound
	}

	if o.PaymentState == StatePending {
		ok, err := r.Ledger.Transition(ctx, o.ID, StatePending, StateFailed, Settlement{})
		if err != nil {
			return nil, fmt.Errorf("mark order %s failed: %w", o.ID, err)
		}
		id := o.ID
		if o, err = r.Ledger.Get(ctx, id); err != nil {
			return nil, fmt.Errorf("reload order %s: %w", id, err)
		}
		if ok {
			r.log().Info("payment failure reported", "order_id", o.ID, "intent_id", intentID)
			r.notifier().PaymentSettled(ctx, o)
		}
	}

	if o.PaymentState == StatePaid {
		return nil, ErrAlreadyPaid
	}
	return o, nil
}

func (r *Reconciler) log() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Reconciler) notifier() Notifier {
	if r.Notifier == nil {
		return nopNotifier{}
	}
	return r.Notifier
}

// IsTerminalFailure reports whether err permanently ends the payment attempt.
func IsTerminalFailure(err error) bool {
	return errors.Is(err, ErrSignatureMismatch) || errors.Is(err, ErrPaymentFailed)
}
