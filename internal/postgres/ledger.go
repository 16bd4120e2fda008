package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger is the orders table. It is the only writer of orders and of the
// user order history.
type Ledger struct{ DB *pgxpool.Pool }

const orderColumns = `o.id, o.user_id, o.items, o.total_cents, o.currency, o.delivery_address,
	o.payment_method, o.payment_state, COALESCE(o.gateway_intent_id, ''),
	COALESCE(o.gateway_payment_id, ''), COALESCE(o.gateway_signature, ''),
	COALESCE(o.receipt, ''), o.created_at, o.updated_at`

// Create commits the order's reservations, inserts the order and appends it
// to the user's history in one transaction. It fails with
// orders.ErrReservationLost when any reservation was released in the meantime.
func (l *Ledger) Create(ctx context.Context, o *orders.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	addr, err := json.Marshal(o.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE reservations SET status = 'COMMITTED', updated_at = now()
		WHERE order_id = $1 AND status = 'RESERVED'`, o.ID)
	if err != nil {
		return fmt.Errorf("commit reservations: %w", err)
	}
	if ct.RowsAffected() != int64(len(o.Items)) {
		return orders.ErrReservationLost
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, items, total_cents, currency, delivery_address,
			payment_method, payment_state, gateway_intent_id, receipt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12)`,
		o.ID, o.UserID, items, orders.Cents(o.Total), o.Currency, addr,
		string(o.PaymentMethod), string(o.PaymentState), o.GatewayIntentID, o.Receipt, o.CreatedAt, o.UpdatedAt)
	if isConstraint(err, codeForeignKeyViolation) {
		return orders.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_orders(user_id, order_id, created_at) VALUES ($1, $2, $3)`,
		o.UserID, o.ID, o.CreatedAt); err != nil {
		return fmt.Errorf("append user history: %w", err)
	}
	return tx.Commit(ctx)
}

func (l *Ledger) Get(ctx context.Context, id string) (*orders.Order, error) {
	return l.one(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id)
}

func (l *Ledger) GetByIntent(ctx context.Context, intentID string) (*orders.Order, error) {
	return l.one(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.gateway_intent_id = $1`, intentID)
}

func (l *Ledger) ListByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT `+orderColumns+`
		FROM user_orders uo JOIN orders o ON o.id = uo.order_id
		WHERE uo.user_id = $1
		ORDER BY uo.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Transition is a compare-and-set on payment_state. Settlement fields are
// written only when present, and the address override only lands on an order
// that had no complete address.
func (l *Ledger) Transition(ctx context.Context, id string, from, to orders.PaymentState, s orders.Settlement) (bool, error) {
	if !orders.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	var addr any
	if s.AddressOverride != nil {
		b, err := json.Marshal(s.AddressOverride)
		if err != nil {
			return false, fmt.Errorf("encode address: %w", err)
		}
		addr = string(b)
	}

	ct, err := l.DB.Exec(ctx, `
		UPDATE orders SET
			payment_state      = $3,
			gateway_payment_id = COALESCE(NULLIF($4, ''), gateway_payment_id),
			gateway_signature  = COALESCE(NULLIF($5, ''), gateway_signature),
			delivery_address   = CASE
				WHEN $6::jsonb IS NOT NULL AND (
					btrim(COALESCE(delivery_address->>'city', '')) = '' OR
					btrim(COALESCE(delivery_address->>'state', '')) = '' OR
					btrim(COALESCE(delivery_address->>'home_number', '')) = '' OR
					btrim(COALESCE(delivery_address->>'pin_code', '')) = '')
				THEN $6::jsonb
				ELSE delivery_address END,
			updated_at         = now()
		WHERE id = $1 AND payment_state = $2`,
		id, string(from), string(to), s.GatewayPaymentID, s.Signature, addr)
	if err != nil {
		return false, fmt.Errorf("update order state: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (l *Ledger) one(ctx context.Context, q string, arg string) (*orders.Order, error) {
	o, err := scanOrder(l.DB.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	return o, err
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o             orders.Order
		items, addr   []byte
		total         int64
		method, state string
	)
	if err := row.Scan(&o.ID, &o.UserID, &items, &total, &o.Currency, &addr,
		&method, &state, &o.GatewayIntentID, &o.GatewayPaymentID, &o.Signature,
		&o.Receipt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of %s: %w", o.ID, err)
	}
	if err := json.Unmarshal(addr, &o.DeliveryAddress); err != nil {
		return nil, fmt.Errorf("decode address of %s: %w", o.ID, err)
	}
	o.Total = orders.FromCents(total)
	o.PaymentMethod = orders.PaymentMethod(method)
	o.PaymentState = orders.PaymentState(state)
	return &o, nil
}
