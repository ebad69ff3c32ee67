package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/baechuer/asyncorder/internal/apperr"
	"github.com/baechuer/asyncorder/internal/logging"
	"github.com/baechuer/asyncorder/internal/metrics"
)

// HandlerFunc processes one decoded message body. Its error is
// inspected by the consumer to decide the retry/DLQ outcome:
//   - apperr with KindValidation: an unrecoverable application-level
//     bug by design — logged and acked, never retried or DLQ'd.
//   - apperr with KindConsume (undecodable body, see DecodeJSON): a
//     poison message — acked and published straight to the DLQ.
//   - any other error: transient — retried through the per-level
//     backoff queues up to MaxRetryAttempts, then DLQ'd.
//   - nil: success, acked.
type HandlerFunc func(ctx context.Context, body []byte) error

// Consumer implements the retry/DLQ state machine: it declares one
// durable queue bound to exchange/routingKey with the DLX configured as
// its dead-letter target, and lazily declares one retry queue per
// backoff level the first time a message reaches that level.
type Consumer struct {
	client     *Client
	queueName  string
	exchange   string
	routingKey string
	maxRetries int
	baseDelay  int // seconds

	handler HandlerFunc
}

func NewConsumer(client *Client, queueName, exchange, routingKey string, maxRetries, baseDelaySeconds int, handler HandlerFunc) *Consumer {
	return &Consumer{
		client:     client,
		queueName:  queueName,
		exchange:   exchange,
		routingKey: routingKey,
		maxRetries: maxRetries,
		baseDelay:  baseDelaySeconds,
		handler:    handler,
	}
}

// Declare declares the main queue (dead-lettering to the DLX on Nack)
// and binds it to exchange/routingKey. Must be called after the
// client is connected and before Start.
func (c *Consumer) Declare() error {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()

	ch := c.client.ch
	args := amqp.Table{"x-dead-letter-exchange": c.client.cfg.DLXName}
	q, err := ch.QueueDeclare(c.queueName, true, false, false, false, args)
	if err != nil {
		return apperr.Wrap(apperr.KindSubscription, "declare queue", err, map[string]any{"queue": c.queueName})
	}
	if err := ch.QueueBind(q.Name, c.routingKey, c.exchange, false, nil); err != nil {
		return apperr.Wrap(apperr.KindSubscription, "bind queue", err, map[string]any{"queue": c.queueName})
	}
	if err := ch.Qos(10, 0, false); err != nil {
		return apperr.Wrap(apperr.KindSubscription, "set qos", err, nil)
	}
	return nil
}

// Start begins consuming in a background goroutine until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.client.mu.Lock()
	ch := c.client.ch
	c.client.mu.Unlock()

	deliveries, err := ch.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindSubscription, "start consuming", err, map[string]any{"queue": c.queueName})
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					logging.Logger.Warn().Str("queue", c.queueName).Msg("delivery channel closed")
					return
				}
				c.handleDelivery(ctx, d)
			}
		}
	}()

	return nil
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	retryCount := headerInt(d.Headers, "x-retry-count")

	handlerCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := c.handler(handlerCtx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	if apperr.Is(err, apperr.KindValidation) {
		logging.Logger.Warn().Err(err).Str("queue", c.queueName).Msg("validation error, dropping message (no retry)")
		_ = d.Ack(false)
		return
	}

	if apperr.Is(err, apperr.KindConsume) {
		logging.Logger.Error().Err(err).Str("queue", c.queueName).Msg("poison message, sending straight to dlq")
		c.publishToDLQ(ctx, d, err)
		_ = d.Ack(false)
		return
	}

	if retryCount >= c.maxRetries {
		logging.Logger.Error().Err(err).Str("queue", c.queueName).Int("retry_count", retryCount).Msg("max retries reached, sending to dlq")
		c.publishToDLQ(ctx, d, err)
		_ = d.Ack(false)
		return
	}

	logging.Logger.Warn().Err(err).Str("queue", c.queueName).Int("retry_count", retryCount).Msg("processing failed, scheduling retry")
	if pubErr := c.publishToRetryQueue(ctx, d, retryCount+1); pubErr != nil {
		logging.Logger.Error().Err(pubErr).Msg("failed to publish to retry queue, sending to dlq instead")
		c.publishToDLQ(ctx, d, err)
	}
	_ = d.Ack(false)
}

// retryQueueName follows <consumer_queue>_retry_<n>, matching the
// original implementation's processor_order_created_retry_<n> naming.
func (c *Consumer) retryQueueName(level int) string {
	return fmt.Sprintf("%s_retry_%d", c.queueName, level)
}

func (c *Consumer) retryDelaySeconds(level int) int {
	delay := c.baseDelay
	for i := 0; i < level; i++ {
		delay *= 2
	}
	if delay > 300 {
		delay = 300
	}
	return delay
}

// publishToRetryQueue lazily declares the retry queue for this level
// (TTL = baseDelay*2^retryCount, capped at 300s — keyed on the
// pre-increment attempt count that just failed, not the new level used
// for the queue name/header) and republishes the message to it; on TTL
// expiry the broker dead-letters it straight back to the original
// exchange/routing key. The declaration is cached on the client so a
// retry level already seen on this connection is never redeclared.
func (c *Consumer) publishToRetryQueue(ctx context.Context, d amqp.Delivery, level int) error {
	queueName := c.retryQueueName(level)

	if _, err := c.client.declareRetryQueueOnce(queueName, amqp.Table{
		"x-message-ttl":             int32(c.retryDelaySeconds(level-1)) * 1000,
		"x-dead-letter-exchange":    c.exchange,
		"x-dead-letter-routing-key": c.routingKey,
	}); err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-retry-count"] = int32(level)

	return c.client.publishConfirmed(ctx, "", queueName, headers, d.Body)
}

func (c *Consumer) publishToDLQ(ctx context.Context, d amqp.Delivery, cause error) {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-original-routing-key"] = d.RoutingKey
	headers["x-failure-reason"] = cause.Error()

	if err := c.client.publishConfirmed(ctx, c.client.cfg.DLXName, c.client.cfg.DLQName, headers, d.Body); err != nil {
		logging.Logger.Error().Err(err).Str("queue", c.queueName).Msg("failed to publish message to dlq")
		return
	}

	c.client.mu.Lock()
	q, err := c.client.ch.QueueInspect(c.client.cfg.DLQName)
	c.client.mu.Unlock()
	if err != nil {
		logging.Logger.Warn().Err(err).Msg("failed to inspect dlq depth")
		return
	}
	metrics.DLQDepth.Set(float64(q.Messages))
}

func headerInt(headers amqp.Table, key string) int {
	if headers == nil {
		return 0
	}
	switch v := headers[key].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// DecodeJSON is a small helper handlers use to turn an unmarshal
// failure into the poison-message path (straight to DLQ, not retried).
func DecodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Wrap(apperr.KindConsume, "decode message body", err, nil)
	}
	return nil
}
