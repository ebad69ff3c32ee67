// Package domain holds the order-processing aggregates shared by both
// services' repositories and use-cases.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order as seen by the orders service.
type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "CREATED"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusFailed     OrderStatus = "FAILED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Terminal reports whether no further status transition is expected.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed || s == OrderStatusCancelled
}

// StatusFromProcessingOutcome maps the processor's reported outcome onto
// the orders service's own status enum.
func StatusFromProcessingOutcome(outcome string) OrderStatus {
	switch outcome {
	case "SUCCESS":
		return OrderStatusCompleted
	case "FAILED":
		return OrderStatusFailed
	case "PROCESSING":
		return OrderStatusInProgress
	default:
		return OrderStatusInProgress
	}
}

// OrderItem is a single line item of an order.
type OrderItem struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Order is the orders service's core aggregate.
type Order struct {
	ID        uuid.UUID
	CustomerID string
	Items     []OrderItem
	Status    OrderStatus
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// NewOrder constructs an order in its initial CREATED state.
func NewOrder(customerID string, items []OrderItem, amount decimal.Decimal) *Order {
	return &Order{
		ID:         uuid.New(),
		CustomerID: customerID,
		Items:      items,
		Status:     OrderStatusCreated,
		Amount:     amount,
		CreatedAt:  time.Now().UTC(),
	}
}
