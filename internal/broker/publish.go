package broker

import (
	"context"
	"encoding/json"

	"github.com/baechuer/asyncorder/internal/apperr"
	"github.com/baechuer/asyncorder/internal/contracts"
)

// PublishRaw publishes an already-serialized outbox payload. It
// satisfies outbox.EventSender so the outbox publisher worker never
// needs to know how routing keys map to exchanges.
func (c *Client) PublishRaw(ctx context.Context, exchange, routingKey string, body []byte) error {
	return c.publishConfirmed(ctx, exchange, routingKey, nil, body)
}

// PublishOrderCreated publishes an order.created event directly,
// bypassing the outbox. Nothing in this module calls it: the outbox
// publisher sends stored payloads through PublishRaw instead, so the
// event and the domain write commit atomically.
func (c *Client) PublishOrderCreated(ctx context.Context, event contracts.OrderCreatedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return apperr.Wrap(apperr.KindPublish, "marshal order.created", err, map[string]any{"order_id": event.OrderID})
	}
	if err := c.publishConfirmed(ctx, c.cfg.OrderCreatedExchange, c.cfg.OrderCreatedRoutingKey, nil, body); err != nil {
		return apperr.MessagePublish(event.OrderID, err)
	}
	return nil
}

// PublishOrderProcessed publishes an order.processed event. This is a
// direct publish, not outboxed: see DESIGN.md on the accepted
// processor-side outbox gap.
func (c *Client) PublishOrderProcessed(ctx context.Context, event contracts.OrderProcessedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return apperr.Wrap(apperr.KindPublish, "marshal order.processed", err, map[string]any{"order_id": event.OrderID})
	}
	if err := c.publishConfirmed(ctx, c.cfg.OrderProcessedExchange, c.cfg.OrderProcessedRoutingKey, nil, body); err != nil {
		return apperr.MessagePublish(event.OrderID, err)
	}
	return nil
}
