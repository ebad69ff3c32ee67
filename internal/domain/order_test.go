package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder_InitialState(t *testing.T) {
	items := []OrderItem{{ProductID: "p1", Quantity: 2, Price: decimal.NewFromInt(5)}}
	o := NewOrder("cust-1", items, decimal.NewFromInt(10))

	require.NotEqual(t, o.ID.String(), "")
	assert.Equal(t, OrderStatusCreated, o.Status)
	assert.Equal(t, "cust-1", o.CustomerID)
	assert.Len(t, o.Items, 1)
	assert.False(t, o.CreatedAt.IsZero())
}

func TestOrderStatus_Terminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled}
	for _, s := range terminal {
		assert.Truef(t, s.Terminal(), "%s should be terminal", s)
	}

	nonTerminal := []OrderStatus{OrderStatusCreated, OrderStatusInProgress}
	for _, s := range nonTerminal {
		assert.Falsef(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestStatusFromProcessingOutcome(t *testing.T) {
	cases := map[string]OrderStatus{
		"SUCCESS":    OrderStatusCompleted,
		"FAILED":     OrderStatusFailed,
		"PROCESSING": OrderStatusInProgress,
		"garbage":    OrderStatusInProgress,
		"":           OrderStatusInProgress,
	}
	for outcome, want := range cases {
		assert.Equal(t, want, StatusFromProcessingOutcome(outcome), "outcome=%q", outcome)
	}
}
