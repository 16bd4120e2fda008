package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Catalog struct{ DB *pgxpool.Pool }

func (c *Catalog) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	var (
		p                   orders.Product
		price, discountCent int64
	)
	err := c.DB.QueryRow(ctx, `
		SELECT id, name, price_cents, COALESCE(discounted_price_cents, 0), stock, updated_at
		FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &price, &discountCent, &p.Stock, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ErrProductNotFound
	}
	if err != nil {
		return orders.Product{}, fmt.Errorf("select product: %w", err)
	}
	p.Price = orders.FromCents(price)
	p.DiscountedPrice = orders.FromCents(discountCent)
	return p, nil
}
