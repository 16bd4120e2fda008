package orders

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCOD     PaymentMethod = "cod"
	PaymentGateway PaymentMethod = "gateway"
)

// CashEquivalent reports whether the method settles outside the gateway.
func (m PaymentMethod) CashEquivalent() bool { return m == PaymentCOD }

func (m PaymentMethod) Valid() bool { return m == PaymentCOD || m == PaymentGateway }

type Product struct {
	ID              string
	Name            string
	Price           decimal.Decimal
	DiscountedPrice decimal.Decimal
	Stock           int
	UpdatedAt       time.Time
}

// SellingPrice is the discounted price, or the list price when no discount is set.
func (p Product) SellingPrice() decimal.Decimal {
	if p.DiscountedPrice.IsPositive() {
		return p.DiscountedPrice
	}
	return p.Price
}

// ItemInput is a line item as submitted by the client.
type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// LineItem is a resolved line item with the unit price captured from the catalog.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Qty)))
}

type Address struct {
	City       string `json:"city"`
	State      string `json:"state"`
	HomeNumber string `json:"home_number"`
	PinCode    string `json:"pin_code"`
	Landmark   string `json:"landmark,omitempty"`
}

// Complete reports whether every required delivery field is present.
// Landmark is optional.
func (a *Address) Complete() bool {
	if a == nil {
		return false
	}
	for _, f := range []string{a.City, a.State, a.HomeNumber, a.PinCode} {
		if strings.TrimSpace(f) == "" {
			return false
		}
	}
	return true
}

type User struct {
	ID        string
	Name      string
	Addresses []Address
}

type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Items            []LineItem      `json:"items"`
	Total            decimal.Decimal `json:"total"`
	Currency         string          `json:"currency"`
	DeliveryAddress  Address         `json:"delivery_address"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaymentState     PaymentState    `json:"payment_state"`
	GatewayIntentID  string          `json:"gateway_intent_id,omitempty"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	Signature        string          `json:"signature,omitempty"`
	Receipt          string          `json:"receipt,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PaymentIntent is the gateway-side provisional payment for an order.
type PaymentIntent struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
	Receipt  string
}

// Settlement carries the fields written when an order leaves Pending.
type Settlement struct {
	GatewayPaymentID string
	Signature        string
	// AddressOverride is applied only when the order has no complete address.
	AddressOverride *Address
}

type PlaceOrderRequest struct {
	UserID          string
	Items           []ItemInput
	ClaimedTotal    *decimal.Decimal
	DeliveryAddress *Address
	PaymentMethod   PaymentMethod
}

type PlaceOrderResult struct {
	OrderID         string          `json:"order_id"`
	GatewayIntentID string          `json:"gateway_intent_id,omitempty"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	PaymentState    PaymentState    `json:"payment_state"`
}

type ConfirmPaymentRequest struct {
	GatewayIntentID  string
	GatewayPaymentID string
	Signature        string
	AddressOverride  *Address
}

// Cents converts an amount to integer minor units, rounding half away from zero.
func Cents(d decimal.Decimal) int64 { return d.Shift(2).Round(0).IntPart() }

func FromCents(c int64) decimal.Decimal { return decimal.New(c, -2) }
