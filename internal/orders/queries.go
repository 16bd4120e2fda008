package orders

import (
	"context"
	"fmt"
)

// OrderCache holds read copies of orders. Implementations swallow their own
// errors; a miss just falls through to the ledger.
type OrderCache interface {
	GetOrder(ctx context.Context, id string) (*Order, bool)
	PutOrder(ctx context.Context, o *Order)
}

// Queries serves order reads. Only orders in a terminal state are cached,
// since those can no longer change.
type Queries struct {
	Ledger Ledger
	Cache  OrderCache
}

func (q *Queries) Order(ctx context.Context, id string) (*Order, error) {
	if q.Cache != nil {
		if o, ok := q.Cache.GetOrder(ctx, id); ok {
			return o, nil
		}
	}
	o, err := q.Ledger.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	if q.Cache != nil && o.PaymentState.Terminal() {
		q.Cache.PutOrder(ctx, o)
	}
	return o, nil
}

// History lists the user's orders, newest first.
func (q *Queries) History(ctx context.Context, userID string) ([]Order, error) {
	if userID == "" {
		return nil, &InvalidRequestError{Field: "user_id", Reason: "required"}
	}
	out, err := q.Ledger.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders of %s: %w", userID, err)
	}
	return out, nil
}
