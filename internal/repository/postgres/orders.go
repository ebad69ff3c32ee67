// Package postgres implements the pgx-backed repositories for both
// services' domain aggregates.
package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/baechuer/asyncorder/internal/apperr"
	"github.com/baechuer/asyncorder/internal/domain"
	"github.com/baechuer/asyncorder/internal/storage"
)

type OrdersRepository struct {
	db storage.Querier
}

func NewOrdersRepository(db storage.Querier) *OrdersRepository {
	return &OrdersRepository{db: db}
}

// CreateOrder inserts the order and its line items.
func (r *OrdersRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO orders (id, customer_id, status, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		order.ID, order.CustomerID, order.Status, order.Amount, order.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindRepository, "insert order", err, map[string]any{"order_id": order.ID.String()})
	}

	for _, item := range order.Items {
		_, err := r.db.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, price)
			VALUES ($1, $2, $3, $4)`,
			order.ID, item.ProductID, item.Quantity, item.Price,
		)
		if err != nil {
			return apperr.Wrap(apperr.KindRepository, "insert order item", err, map[string]any{"order_id": order.ID.String(), "product_id": item.ProductID})
		}
	}
	return nil
}

// GetByID loads an order with its items, returning apperr.OrderNotFound
// if no row matches.
func (r *OrdersRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	o.ID = id
	err := r.db.QueryRow(ctx, `
		SELECT customer_id, status, amount, created_at FROM orders WHERE id = $1`, id,
	).Scan(&o.CustomerID, &o.Status, &o.Amount, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.OrderNotFound(id.String())
		}
		return nil, apperr.Wrap(apperr.KindRepository, "select order", err, map[string]any{"order_id": id.String()})
	}

	rows, err := r.db.Query(ctx, `SELECT product_id, quantity, price FROM order_items WHERE order_id = $1`, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRepository, "select order items", err, map[string]any{"order_id": id.String()})
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		var price decimal.Decimal
		if err := rows.Scan(&item.ProductID, &item.Quantity, &price); err != nil {
			return nil, apperr.Wrap(apperr.KindRepository, "scan order item", err, nil)
		}
		item.Price = price
		o.Items = append(o.Items, item)
	}

	return &o, rows.Err()
}

// UpdateStatus transitions an order to a new status.
func (r *OrdersRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	_, err := r.db.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRepository, "update order status", err, map[string]any{"order_id": id.String()})
	}
	return r.GetByID(ctx, id)
}
