package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Catalog reads authoritative product records.
type Catalog interface {
	// GetProduct returns ErrProductNotFound when the product does not exist.
	GetProduct(ctx context.Context, id string) (Product, error)
}

// Inventory performs the conditional stock decrement. Every decrement is
// recorded against the order id so that ReleaseAll can reverse it exactly once.
type Inventory interface {
	// Reserve decrements stock by qty only if stock >= qty at write time.
	// ok=false means the condition did not hold and nothing was changed.
	Reserve(ctx context.Context, orderID, productID string, qty int) (ok bool, available int, err error)
	// ReleaseAll restores every reservation of the order that is still held.
	// Calling it again after success is a no-op.
	ReleaseAll(ctx context.Context, orderID string) (released int, err error)
}

// Ledger is the persistent record of orders.
type Ledger interface {
	// Create persists the order, commits its reservations and appends it to the
	// owner's order history in one atomic write.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByIntent(ctx context.Context, intentID string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// Transition moves the order from one state to another if, and only if,
	// its current state is still from. ok=false means the state had changed.
	Transition(ctx context.Context, id string, from, to PaymentState, s Settlement) (ok bool, err error)
}

type Users interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// Gateway creates remote payment intents.
type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency, receipt string) (PaymentIntent, error)
}

// SignatureVerifier checks a gateway confirmation signature.
type SignatureVerifier interface {
	Verify(intentID, paymentID, signature string) bool
}

// Notifier is told about committed order changes. Implementations must not
// block the caller for long and must not fail the operation.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order)
	PaymentSettled(ctx context.Context, o *Order)
}

type nopNotifier struct{}

func (nopNotifier) OrderPlaced(context.Context, *Order)    {}
func (nopNotifier) PaymentSettled(context.Context, *Order) {}
