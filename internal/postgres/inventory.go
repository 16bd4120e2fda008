package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReservedItem is one released or held line of a reservation.
type ReservedItem struct {
	ProductID string
	Qty       int
}

// Inventory owns stock counts. Every decrement is recorded in reservations so
// it can be given back exactly once.
type Inventory struct{ DB *pgxpool.Pool }

// Reserve decrements stock only if enough is left at write time and records a
// RESERVED row for the order, both in one short transaction.
func (r *Inventory) Reserve(ctx context.Context, orderID, productID string, qty int) (bool, int, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback(ctx)

	var left int
	err = tx.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING stock`, productID, qty).Scan(&left)
	if errors.Is(err, pgx.ErrNoRows) {
		// kondisi stok gagal: laporkan sisa stok saat ini (0 kalau produk hilang)
		var available int
		if err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&available); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return false, 0, err
		}
		return false, available, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("decrement stock: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO reservations(order_id, product_id, qty, status)
		VALUES ($1, $2, $3, 'RESERVED')`, orderID, productID, qty); err != nil {
		return false, 0, fmt.Errorf("insert reservation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, 0, err
	}
	return true, left, nil
}

func (r *Inventory) ReleaseAll(ctx context.Context, orderID string) (int, error) {
	items, err := r.Release(ctx, orderID)
	return len(items), err
}

// Release returns the stock of every RESERVED row of the order and marks the
// rows RELEASED. Rows already COMMITTED or RELEASED are untouched, so a second
// call is a no-op.
func (r *Inventory) Release(ctx context.Context, orderID string) ([]ReservedItem, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT product_id, qty FROM reservations
		WHERE order_id = $1 AND status = 'RESERVED'
		ORDER BY product_id
		FOR UPDATE`, orderID)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ReservedItem, error) {
		var it ReservedItem
		err := row.Scan(&it.ProductID, &it.Qty)
		return it, err
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, it.ProductID, it.Qty); err != nil {
			return nil, fmt.Errorf("restore stock %s: %w", it.ProductID, err)
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET status = 'RELEASED', updated_at = now()
		WHERE order_id = $1 AND status = 'RESERVED'`, orderID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

// Expired lists orders that still hold reservations created before cutoff.
func (r *Inventory) Expired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id FROM reservations
		WHERE status = 'RESERVED' AND created_at < $1
		GROUP BY order_id
		ORDER BY min(created_at)
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
