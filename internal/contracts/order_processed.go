package contracts

// OrderProcessedEvent is published by the processor directly (not
// outboxed, see DESIGN.md on the accepted publish-after-commit gap)
// once an order has reached a terminal processing outcome.
type OrderProcessedEvent struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message,omitempty"`
	ProcessedAt  string  `json:"processed_at"`
}
