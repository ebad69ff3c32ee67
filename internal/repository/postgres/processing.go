package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/baechuer/asyncorder/internal/apperr"
	"github.com/baechuer/asyncorder/internal/domain"
	"github.com/baechuer/asyncorder/internal/storage"
)

type ProcessingRepository struct {
	db storage.Querier
}

func NewProcessingRepository(db storage.Querier) *ProcessingRepository {
	return &ProcessingRepository{db: db}
}

// GetByOrderID returns nil, nil if no processing record exists yet for this order.
func (r *ProcessingRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.OrderProcessing, error) {
	var p domain.OrderProcessing
	p.OrderID = orderID
	err := r.db.QueryRow(ctx, `
		SELECT id, status, error_message, processed_at, created_at, updated_at
		FROM order_processing WHERE order_id = $1`, orderID,
	).Scan(&p.ID, &p.Status, &p.ErrorMessage, &p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindRepository, "select order_processing", err, map[string]any{"order_id": orderID.String()})
	}
	return &p, nil
}

// Create inserts a fresh PENDING processing record for order_id.
// ON CONFLICT DO NOTHING means a concurrent racing insert for the same
// order_id never errors — instead inserted reports which transaction
// actually won the row, so the caller can tell "I created this" apart
// from "someone else beat me to it" and treat the latter like the
// existing-record branch instead of claiming the row itself.
func (r *ProcessingRepository) Create(ctx context.Context, orderID uuid.UUID) (row *domain.OrderProcessing, inserted bool, err error) {
	id := uuid.New()
	tag, err := r.db.Exec(ctx, `
		INSERT INTO order_processing (id, order_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (order_id) DO NOTHING`,
		id, orderID, domain.ProcessingPending,
	)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindRepository, "insert order_processing", err, map[string]any{"order_id": orderID.String()})
	}
	row, err = r.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return row, tag.RowsAffected() == 1, nil
}

// UpdateStatus transitions the processing record's status, optionally
// recording an error message and processed_at timestamp for terminal states.
func (r *ProcessingRepository) UpdateStatus(ctx context.Context, orderID uuid.UUID, status domain.ProcessingStatus, errMsg *string) (*domain.OrderProcessing, error) {
	var err error
	if status.Terminal() {
		_, err = r.db.Exec(ctx, `
			UPDATE order_processing SET status = $2, error_message = $3, processed_at = NOW(), updated_at = NOW()
			WHERE order_id = $1`, orderID, status, errMsg)
	} else {
		_, err = r.db.Exec(ctx, `
			UPDATE order_processing SET status = $2, error_message = $3, updated_at = NOW()
			WHERE order_id = $1`, orderID, status, errMsg)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRepository, "update order_processing status", err, map[string]any{"order_id": orderID.String()})
	}
	return r.GetByOrderID(ctx, orderID)
}

// SweepStuck resets rows stuck in PROCESSING past the grace period back
// to PENDING, recovering from a crash between the PROCESSING write and
// the terminal-state write (see DESIGN.md on PROCESSING-recovery).
func (r *ProcessingRepository) SweepStuck(ctx context.Context, graceSeconds int) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE order_processing
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < NOW() - ($3 || ' seconds')::interval`,
		domain.ProcessingPending, domain.ProcessingInProgress, graceSeconds,
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindRepository, "sweep stuck processing rows", err, nil)
	}
	return tag.RowsAffected(), nil
}
