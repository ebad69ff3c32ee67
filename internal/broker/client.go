// Package broker wraps amqp091-go with the topology and confirm-gated
// publishing both services share: the order.created / order.processed
// topic exchanges, a topic DLX with a catch-all DLQ binding, and
// lazily-declared per-level exponential-backoff retry queues. Retry
// queues are never deleted: each consumer queue accumulates at most
// MaxRetryAttempts of them (levels 1..MaxRetryAttempts).
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/baechuer/asyncorder/internal/apperr"
	"github.com/baechuer/asyncorder/internal/config"
	"github.com/baechuer/asyncorder/internal/logging"
)

// Client owns one AMQP connection/channel pair, the declared exchange
// topology, and publisher-confirm tracking. It is safe for concurrent
// publish calls (guarded by mu) but is not meant to be shared across
// unrelated components beyond the publisher worker and the consumer.
type Client struct {
	cfg  config.Broker
	name string // owning service, used to namespace queues

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return

	// retryQueues tracks which per-level retry queues have already been
	// declared on the current channel, keyed by queue name, so repeated
	// redeliveries at the same retry level don't redeclare a queue the
	// broker already knows about. Reset on reconnect since a fresh
	// channel has no declaration history.
	retryQueues map[string]bool
}

func NewClient(cfg config.Broker, serviceName string) *Client {
	return &Client{cfg: cfg, name: serviceName, retryQueues: make(map[string]bool)}
}

// Connect dials the broker and declares the full topology: both order
// exchanges, the topic DLX, and its catch-all-bound DLQ.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return apperr.Wrap(apperr.KindConnection, "dial rabbitmq", err, nil)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return apperr.Wrap(apperr.KindConnection, "open channel", err, nil)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return apperr.Wrap(apperr.KindConnection, "enable publisher confirms", err, nil)
	}

	if err := declareTopology(ch, c.cfg); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.conn = conn
	c.ch = ch
	c.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 16))
	c.returnCh = ch.NotifyReturn(make(chan amqp.Return, 16))
	c.retryQueues = make(map[string]bool)

	logging.Logger.Info().Msg("connected to rabbitmq")
	return nil
}

// declareRetryQueueOnce declares the named retry queue the first time
// it's seen on the current channel; later calls for the same name are
// no-ops, since the broker already holds the declaration. Returns the
// channel to publish on, since callers already hold no lock of their
// own around the declare+publish pair.
func (c *Client) declareRetryQueueOnce(name string, args amqp.Table) (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := c.ch
	if c.retryQueues[name] {
		return ch, nil
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return ch, apperr.Wrap(apperr.KindPublish, "declare retry queue", err, map[string]any{"queue": name})
	}
	c.retryQueues[name] = true
	return ch, nil
}

func declareTopology(ch *amqp.Channel, cfg config.Broker) error {
	if err := ch.ExchangeDeclare(cfg.OrderCreatedExchange, "topic", true, false, false, false, nil); err != nil {
		return apperr.Wrap(apperr.KindConnection, "declare order.created exchange", err, nil)
	}
	if err := ch.ExchangeDeclare(cfg.OrderProcessedExchange, "topic", true, false, false, false, nil); err != nil {
		return apperr.Wrap(apperr.KindConnection, "declare order.processed exchange", err, nil)
	}
	if err := ch.ExchangeDeclare(cfg.DLXName, "topic", true, false, false, false, nil); err != nil {
		return apperr.Wrap(apperr.KindConnection, "declare dlx", err, nil)
	}
	if _, err := ch.QueueDeclare(cfg.DLQName, true, false, false, false, nil); err != nil {
		return apperr.Wrap(apperr.KindConnection, "declare dlq", err, nil)
	}
	if err := ch.QueueBind(cfg.DLQName, "#", cfg.DLXName, false, nil); err != nil {
		return apperr.Wrap(apperr.KindConnection, "bind dlq catch-all", err, nil)
	}
	return nil
}

// ensureConnected reconnects if the channel was never opened or the
// underlying connection has since closed, matching the teacher's
// lazy-reconnect-on-next-publish pattern.
func (c *Client) ensureConnected() error {
	if c.ch == nil || c.conn == nil || c.conn.IsClosed() {
		return c.connectLocked()
	}
	return nil
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// publishConfirmed publishes a persistent, mandatory message and waits
// for the broker's publisher-confirm ack, its return (no matching
// queue), or a timeout — whichever comes first.
func (c *Client) publishConfirmed(ctx context.Context, exchange, routingKey string, headers amqp.Table, body []byte) error {
	// mu is held until the confirm (or return/timeout) arrives, so
	// concurrent publishers are serialized and never share one
	// confirmation channel read.
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnected(); err != nil {
		return err
	}
	ch := c.ch
	confirmCh := c.confirmCh
	returnCh := c.returnCh

	// Drain any stale notifications left over from a previous publish
	// so this call doesn't read someone else's confirmation.
	drainConfirms(confirmCh)
	drainReturns(returnCh)

	err := ch.PublishWithContext(ctx, exchange, routingKey, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      headers,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindPublish, "publish to broker", err, map[string]any{"exchange": exchange, "routing_key": routingKey})
	}

	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()

	select {
	case <-ctx.Done():
		return apperr.Wrap(apperr.KindPublish, "publish canceled", ctx.Err(), nil)
	case ret := <-returnCh:
		return apperr.New(apperr.KindPublish, fmt.Sprintf("message returned: %s", ret.ReplyText), map[string]any{"exchange": exchange, "routing_key": routingKey})
	case conf := <-confirmCh:
		if !conf.Ack {
			return apperr.New(apperr.KindPublish, "broker nacked publish", map[string]any{"exchange": exchange, "routing_key": routingKey})
		}
		return nil
	case <-deadline.C:
		return apperr.New(apperr.KindPublish, "timed out waiting for broker confirm", map[string]any{"exchange": exchange, "routing_key": routingKey})
	}
}

func drainConfirms(ch <-chan amqp.Confirmation) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func drainReturns(ch <-chan amqp.Return) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
