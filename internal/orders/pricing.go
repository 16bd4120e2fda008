package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var DefaultTolerance = decimal.New(1, -2)

// Quote is the authoritative pricing of a cart.
type Quote struct {
	Items []LineItem
	Total decimal.Decimal
}

// Validator recomputes prices from the catalog and checks stock. It never
// writes, so it is safe to retry.
type Validator struct {
	Catalog   Catalog
	Tolerance decimal.Decimal
}

func NewValidator(c Catalog, tolerance decimal.Decimal) *Validator {
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	return &Validator{Catalog: c, Tolerance: tolerance}
}

// Validate resolves every line item against the current catalog record.
// Lines naming the same product are merged so stock is checked against the
// combined quantity. When claimed is non-nil it must be within Tolerance of
// the authoritative total.
func (v *Validator) Validate(ctx context.Context, items []ItemInput, claimed *decimal.Decimal) (Quote, error) {
	merged, err := mergeItems(items)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{Items: make([]LineItem, 0, len(merged)), Total: decimal.Zero}
	for _, it := range merged {
		p, err := v.Catalog.GetProduct(ctx, it.ProductID)
		if errors.Is(err, ErrProductNotFound) {
			return Quote{}, &StockError{ProductID: it.ProductID, Requested: it.Qty, Missing: true}
		}
		if err != nil {
			return Quote{}, fmt.Errorf("get product %s: %w", it.ProductID, err)
		}
		if p.Stock < it.Qty {
			return Quote{}, &StockError{ProductID: it.ProductID, Requested: it.Qty, Available: p.Stock}
		}
		li := LineItem{ProductID: p.ID, Name: p.Name, Qty: it.Qty, UnitPrice: p.SellingPrice()}
		q.Items = append(q.Items, li)
		q.Total = q.Total.Add(li.Subtotal())
	}

	if claimed != nil && claimed.Sub(q.Total).Abs().GreaterThan(v.Tolerance) {
		return Quote{}, &PriceMismatchError{Claimed: *claimed, Authoritative: q.Total}
	}
	return q, nil
}

func mergeItems(items []ItemInput) ([]ItemInput, error) {
	if len(items) == 0 {
		return nil, &InvalidRequestError{Field: "items", Reason: "at least one line item is required"}
	}
	out := make([]ItemInput, 0, len(items))
	idx := make(map[string]int, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, &InvalidRequestError{Field: "product_id", Reason: "required"}
		}
		if it.Qty <= 0 {
			return nil, &InvalidRequestError{Field: "qty", Reason: fmt.Sprintf("must be positive for product %s", it.ProductID)}
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}
