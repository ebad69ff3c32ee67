package broker

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"github.com/baechuer/asyncorder/internal/apperr"
)

func newTestConsumer(baseDelay int) *Consumer {
	return &Consumer{
		queueName:  "processor_order_created",
		exchange:   "order.created",
		routingKey: "order.created",
		maxRetries: 5,
		baseDelay:  baseDelay,
	}
}

func TestRetryQueueName(t *testing.T) {
	c := newTestConsumer(2)
	assert.Equal(t, "processor_order_created_retry_1", c.retryQueueName(1))
	assert.Equal(t, "processor_order_created_retry_3", c.retryQueueName(3))
}

func TestRetryDelaySeconds_DoublesPerLevelAndCaps(t *testing.T) {
	c := newTestConsumer(1)
	assert.Equal(t, 1, c.retryDelaySeconds(0))
	assert.Equal(t, 2, c.retryDelaySeconds(1))
	assert.Equal(t, 4, c.retryDelaySeconds(2))
	assert.Equal(t, 8, c.retryDelaySeconds(3))
	// base*2^n grows past 300s well before level 20; must be capped.
	assert.Equal(t, 300, c.retryDelaySeconds(20))
}

// TestPublishToRetryQueue_TTLUsesPreIncrementRetryCount pins the
// relationship publishToRetryQueue relies on: it is always called with
// level = retryCount+1 (the new, post-increment count used for the
// queue name and x-retry-count header), but the TTL must be computed
// from the old, pre-increment retryCount, i.e. retryDelaySeconds(level-1).
// With base=1s this reproduces the first three redeliveries at
// t~=1s/2s/4s rather than 2s/4s/8s.
func TestPublishToRetryQueue_TTLUsesPreIncrementRetryCount(t *testing.T) {
	c := newTestConsumer(1)
	for level, wantTTL := range map[int]int{1: 1, 2: 2, 3: 4} {
		assert.Equal(t, wantTTL, c.retryDelaySeconds(level-1), "level=%d", level)
	}
}

func TestHeaderInt_AbsentHeaderIsZero(t *testing.T) {
	assert.Equal(t, 0, headerInt(nil, "x-retry-count"))
	assert.Equal(t, 0, headerInt(amqp.Table{}, "x-retry-count"))
}

func TestHeaderInt_ReadsIntegerTypes(t *testing.T) {
	assert.Equal(t, 3, headerInt(amqp.Table{"x-retry-count": int32(3)}, "x-retry-count"))
	assert.Equal(t, 4, headerInt(amqp.Table{"x-retry-count": int64(4)}, "x-retry-count"))
	assert.Equal(t, 5, headerInt(amqp.Table{"x-retry-count": 5}, "x-retry-count"))
}

func TestDecodeJSON_MalformedBodyIsConsumeKindError(t *testing.T) {
	var v map[string]any
	err := DecodeJSON([]byte("not-json"), &v)
	assert.True(t, apperr.Is(err, apperr.KindConsume))
}

func TestDecodeJSON_ValidBodySucceeds(t *testing.T) {
	var v map[string]any
	err := DecodeJSON([]byte(`{"order_id":"x"}`), &v)
	assert.NoError(t, err)
	assert.Equal(t, "x", v["order_id"])
}
