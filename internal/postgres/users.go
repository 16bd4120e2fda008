package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Users struct{ DB *pgxpool.Pool }

// GetUser returns the user with addresses in their stored order.
func (u *Users) GetUser(ctx context.Context, id string) (orders.User, error) {
	var usr orders.User
	err := u.DB.QueryRow(ctx, `SELECT id, name FROM users WHERE id = $1`, id).Scan(&usr.ID, &usr.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.User{}, orders.ErrUserNotFound
	}
	if err != nil {
		return orders.User{}, fmt.Errorf("select user: %w", err)
	}

	rows, err := u.DB.Query(ctx, `
		SELECT city, state, home_number, pin_code, landmark
		FROM user_addresses WHERE user_id = $1 ORDER BY position`, id)
	if err != nil {
		return orders.User{}, fmt.Errorf("select addresses: %w", err)
	}
	usr.Addresses, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.Address, error) {
		var a orders.Address
		err := row.Scan(&a.City, &a.State, &a.HomeNumber, &a.PinCode, &a.Landmark)
		return a, err
	})
	if err != nil {
		return orders.User{}, fmt.Errorf("scan addresses: %w", err)
	}
	return usr, nil
}
