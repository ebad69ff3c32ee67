package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus is the state of the idempotence fence kept per order
// on the processor side. It is the single source of truth the
// processing use-case consults before doing any work for an order id.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "PENDING"
	ProcessingInProgress ProcessingStatus = "PROCESSING"
	ProcessingSuccess    ProcessingStatus = "SUCCESS"
	ProcessingFailed     ProcessingStatus = "FAILED"
)

// Terminal reports whether no further processing should ever happen for
// this order — SUCCESS and FAILED are both terminal outcomes.
func (s ProcessingStatus) Terminal() bool {
	return s == ProcessingSuccess || s == ProcessingFailed
}

// OrderProcessing is the processor's per-order idempotence record.
type OrderProcessing struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	Status       ProcessingStatus
	ErrorMessage *string
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
