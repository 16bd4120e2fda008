package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind is the machine-readable error category returned to callers.
type Kind string

const (
	KindInsufficientStock  Kind = "InsufficientStock"
	KindPriceMismatch      Kind = "PriceMismatch"
	KindMissingAddress     Kind = "MissingAddress"
	KindGatewayUnavailable Kind = "GatewayUnavailable"
	KindInvalidRequest     Kind = "InvalidRequest"
	KindSignatureMismatch  Kind = "SignatureMismatch"
	KindPaymentFailed      Kind = "PaymentFailed"
	KindNotFound           Kind = "NotFound"
	KindConflict           Kind = "Conflict"
	KindStorageUnavailable Kind = "StorageUnavailable"
)

var (
	ErrMissingAddress    = errors.New("delivery address not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	ErrPaymentFailed     = errors.New("order payment already failed")
	ErrAlreadyPaid       = errors.New("order already paid")
	// ErrReservationLost means a reservation was released before the order
	// could be persisted against it.
	ErrReservationLost = errors.New("stock reservation no longer held")
)

type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StockError is returned when a product is missing or cannot cover the
// requested quantity.
type StockError struct {
	ProductID string
	Requested int
	Available int
	Missing   bool
}

func (e *StockError) Error() string {
	if e.Missing {
		return fmt.Sprintf("insufficient stock for product %s: product not found", e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

type PriceMismatchError struct {
	Claimed       decimal.Decimal
	Authoritative decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("price mismatch: claimed %s, authoritative %s", e.Claimed.StringFixed(2), e.Authoritative.StringFixed(2))
}

// GatewayError wraps a failure talking to the payment gateway.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("gateway %s: %v", e.Op, e.Err) }

func (e *GatewayError) Unwrap() error { return e.Err }

func KindOf(err error) Kind {
	var (
		stockErr   *StockError
		priceErr   *PriceMismatchError
		gatewayErr *GatewayError
		invalidErr *InvalidRequestError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &stockErr):
		return KindInsufficientStock
	case errors.As(err, &priceErr):
		return KindPriceMismatch
	case errors.Is(err, ErrMissingAddress):
		return KindMissingAddress
	case errors.As(err, &gatewayErr):
		return KindGatewayUnavailable
	case errors.As(err, &invalidErr):
		return KindInvalidRequest
	case errors.Is(err, ErrSignatureMismatch):
		return KindSignatureMismatch
	case errors.Is(err, ErrPaymentFailed):
		return KindPaymentFailed
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyPaid):
		return KindConflict
	default:
		return KindStorageUnavailable
	}
}

// Retriable reports whether the same request may succeed if sent again.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindGatewayUnavailable, KindStorageUnavailable:
		return true
	}
	return errors.Is(err, ErrReservationLost) || errors.Is(err, context.DeadlineExceeded)
}
