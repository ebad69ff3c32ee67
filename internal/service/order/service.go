// Package order implements the orders service's use-case: creating
// orders (with their order.created outbox row) and applying terminal
// status updates reported back by the processor.
package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/baechuer/asyncorder/internal/apperr"
	"github.com/baechuer/asyncorder/internal/broker"
	"github.com/baechuer/asyncorder/internal/config"
	"github.com/baechuer/asyncorder/internal/contracts"
	"github.com/baechuer/asyncorder/internal/domain"
	"github.com/baechuer/asyncorder/internal/logging"
	"github.com/baechuer/asyncorder/internal/outbox"
	postgres "github.com/baechuer/asyncorder/internal/repository/postgres"
	"github.com/baechuer/asyncorder/internal/uow"
)

// Repos is the repository bundle the use-case runs every write against,
// all bound to the same transaction by the Unit of Work.
type Repos struct {
	Orders *postgres.OrdersRepository
	Outbox *outbox.Repository
}

func newRepos(tx pgx.Tx) Repos {
	return Repos{
		Orders: postgres.NewOrdersRepository(tx),
		Outbox: outbox.New(tx),
	}
}

// NewItem is one requested line item on order creation.
type NewItem struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

type Service struct {
	uow        *uow.UnitOfWork[Repos]
	ordersRead *postgres.OrdersRepository
	broker     config.Broker
}

func NewService(pool *pgxpool.Pool, broker config.Broker) *Service {
	return &Service{
		uow:        uow.New(pool, newRepos),
		ordersRead: postgres.NewOrdersRepository(pool),
		broker:     broker,
	}
}

// CreateOrder inserts the order and, if it has line items, an
// order.created outbox row, both in one transaction.
func (s *Service) CreateOrder(ctx context.Context, customerID string, items []NewItem, amount decimal.Decimal) (*domain.Order, error) {
	domainItems := make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		domainItems = append(domainItems, domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}

	ord := domain.NewOrder(customerID, domainItems, amount)

	err := s.uow.Do(ctx, func(r Repos) error {
		if err := r.Orders.CreateOrder(ctx, ord); err != nil {
			return apperr.OrderCreation("failed to create order", err)
		}

		if len(ord.Items) == 0 {
			return nil
		}

		products := make([]contracts.OrderProduct, 0, len(ord.Items))
		for _, it := range ord.Items {
			products = append(products, contracts.OrderProduct{ProductID: it.ProductID, Quantity: it.Quantity})
		}

		amountF, _ := amount.Float64()
		event := contracts.OrderCreatedEvent{
			OrderID:   ord.ID.String(),
			UserID:    customerID,
			Products:  products,
			Amount:    amountF,
			CreatedAt: ord.CreatedAt.Format(time.RFC3339),
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return apperr.OrderCreation("failed to marshal order.created payload", err)
		}

		return r.Outbox.Create(ctx, "order.created", s.broker.OrderCreatedExchange, s.broker.OrderCreatedRoutingKey, string(payload))
	})
	if err != nil {
		return nil, err
	}
	return ord, nil
}

// GetOrderStatus returns the current state of an order.
func (s *Service) GetOrderStatus(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.ordersRead.GetByID(ctx, id)
}

// HandleMessage decodes an order.processed payload and applies it. A
// malformed payload is a poison message (apperr.KindConsume), routed by
// the broker consumer straight to the DLQ instead of being retried.
func (s *Service) HandleMessage(ctx context.Context, body []byte) error {
	var event contracts.OrderProcessedEvent
	if err := broker.DecodeJSON(body, &event); err != nil {
		return err
	}
	return s.UpdateOrderStatusFromEvent(ctx, event.OrderID, event.Status)
}

// UpdateOrderStatusFromEvent applies a status reported by the processor
// in an order.processed event. An unparseable order id is a validation
// error (apperr.KindValidation), which the broker consumer treats as an
// unrecoverable application bug and drops without retrying.
func (s *Service) UpdateOrderStatusFromEvent(ctx context.Context, orderIDStr, status string) error {
	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		return apperr.New(apperr.KindValidation, "invalid order_id in order.processed event", map[string]any{"order_id": orderIDStr})
	}

	newStatus := domain.StatusFromProcessingOutcome(status)

	return s.uow.Do(ctx, func(r Repos) error {
		_, err := r.Orders.UpdateStatus(ctx, orderID, newStatus)
		if err != nil {
			return err
		}
		logging.Logger.Info().
			Str("order_id", orderIDStr).
			Str("new_status", string(newStatus)).
			Str("reported_status", status).
			Msg("order status updated from processor event")
		return nil
	})
}
