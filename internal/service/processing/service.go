// Package processing implements the processor service's use-case: the
// idempotent order.created handler that is the system's idempotence
// kernel (at-least-once delivery in, effectively-once processing out).
package processing

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/asyncorder/internal/apperr"
	"github.com/baechuer/asyncorder/internal/broker"
	"github.com/baechuer/asyncorder/internal/contracts"
	"github.com/baechuer/asyncorder/internal/domain"
	"github.com/baechuer/asyncorder/internal/logging"
	postgres "github.com/baechuer/asyncorder/internal/repository/postgres"
	"github.com/baechuer/asyncorder/internal/uow"
)

// Repos is the repository bundle bound to one transaction.
type Repos struct {
	Processing *postgres.ProcessingRepository
}

func newRepos(tx pgx.Tx) Repos {
	return Repos{Processing: postgres.NewProcessingRepository(tx)}
}

// EventPublisher is the narrow slice of the broker client the
// processing use-case needs. A *broker.Client satisfies it in
// production; tests supply a stub so the idempotence kernel can be
// exercised against a real Postgres container without a live broker.
type EventPublisher interface {
	PublishOrderProcessed(ctx context.Context, event contracts.OrderProcessedEvent) error
}

type Service struct {
	uow         *uow.UnitOfWork[Repos]
	processing  *postgres.ProcessingRepository
	broker      EventPublisher
	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
}

func NewService(pool *pgxpool.Pool, brokerClient EventPublisher, successRate float64, minDelay, maxDelay time.Duration) *Service {
	return &Service{
		uow:         uow.New(pool, newRepos),
		processing:  postgres.NewProcessingRepository(pool),
		broker:      brokerClient,
		successRate: successRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
	}
}

// HandleMessage decodes an order.created payload and runs Process. A
// malformed payload is a poison message (apperr.KindConsume), which the
// broker consumer routes straight to the DLQ instead of retrying it.
func (s *Service) HandleMessage(ctx context.Context, body []byte) error {
	var event contracts.OrderCreatedEvent
	if err := broker.DecodeJSON(body, &event); err != nil {
		return err
	}
	return s.Process(ctx, event)
}

// Process implements the five-step idempotent processing protocol:
//  1. Claim the order (read-decide-transition-to-PROCESSING, one
//     transaction), bailing out early if it was already handled or is
//     already in flight — this is the fence that turns at-least-once
//     delivery into effectively-once processing.
//  2. Release the claim transaction before doing any slow work.
//  3. Simulate the work (bounded random delay, probabilistic outcome).
//  4. Persist the terminal outcome in a second transaction.
//  5. Publish the outcome; a publish failure still counts as a
//     processing failure and is retried by the broker.
func (s *Service) Process(ctx context.Context, event contracts.OrderCreatedEvent) error {
	orderID, err := uuid.Parse(event.OrderID)
	if err != nil {
		return apperr.New(apperr.KindValidation, "invalid order_id in order.created event", map[string]any{"order_id": event.OrderID})
	}

	claimed, err := s.claim(ctx, orderID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	success := s.simulate(ctx)

	var newStatus domain.ProcessingStatus
	var wireStatus string
	var errMsg *string
	if success {
		newStatus, wireStatus = domain.ProcessingSuccess, "SUCCESS"
	} else {
		m := "simulated processing failure"
		newStatus, wireStatus, errMsg = domain.ProcessingFailed, "FAILED", &m
	}

	if err := s.uow.Do(ctx, func(r Repos) error {
		_, err := r.Processing.UpdateStatus(ctx, orderID, newStatus, errMsg)
		return err
	}); err != nil {
		return s.handleFailure(ctx, orderID, err)
	}

	logging.Logger.Info().Str("order_id", orderID.String()).Str("outcome", wireStatus).Msg("order processed")

	out := contracts.OrderProcessedEvent{
		OrderID:      orderID.String(),
		Status:       wireStatus,
		ErrorMessage: errMsg,
		ProcessedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if pubErr := s.broker.PublishOrderProcessed(ctx, out); pubErr != nil {
		return s.handleFailure(ctx, orderID, pubErr)
	}

	return nil
}

// claim performs steps 1-2: read the existing processing record (if
// any), decide whether this delivery should do any work, and if so
// transition the row to PROCESSING before returning. Returns claimed =
// false for: already-terminal orders (duplicate delivery after
// success/failure), and orders another in-flight delivery is already
// working on (duplicate delivery racing a slow first attempt).
func (s *Service) claim(ctx context.Context, orderID uuid.UUID) (claimed bool, err error) {
	err = s.uow.Do(ctx, func(r Repos) error {
		existing, err := r.Processing.GetByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		if existing == nil {
			row, inserted, err := r.Processing.Create(ctx, orderID)
			if err != nil {
				return err
			}
			if !inserted {
				// Lost the race: a concurrent delivery's insert won the
				// unique order_id row. Treat it exactly like the
				// existing != nil branch below instead of claiming it
				// ourselves — otherwise both deliveries would proceed
				// to PROCESSING and double-publish the outcome.
				existing = row
			}
		}

		if existing != nil {
			if existing.Status.Terminal() {
				return nil
			}
			if existing.Status == domain.ProcessingInProgress {
				logging.Logger.Warn().Str("order_id", orderID.String()).Msg("order already being processed, possible duplicate message")
				return nil
			}
		}

		if _, err := r.Processing.UpdateStatus(ctx, orderID, domain.ProcessingInProgress, nil); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

// simulate sleeps a random duration within [minDelay, maxDelay] and
// returns a Bernoulli outcome against successRate, standing in for
// real processing work.
func (s *Service) simulate(ctx context.Context) bool {
	span := s.maxDelay - s.minDelay
	delay := s.minDelay
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}

	return rand.Float64() < s.successRate
}

// handleFailure implements the protocol's crash/error path: best-effort
// mark the order FAILED, best-effort publish that outcome, then return
// a ProcessingError so the broker consumer retries the whole delivery.
func (s *Service) handleFailure(ctx context.Context, orderID uuid.UUID, cause error) error {
	msg := cause.Error()

	if err := s.uow.Do(ctx, func(r Repos) error {
		_, err := r.Processing.UpdateStatus(ctx, orderID, domain.ProcessingFailed, &msg)
		return err
	}); err != nil {
		logging.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to record processing failure")
	}

	if pubErr := s.broker.PublishOrderProcessed(ctx, contracts.OrderProcessedEvent{
		OrderID:      orderID.String(),
		Status:       "FAILED",
		ErrorMessage: &msg,
		ProcessedAt:  time.Now().UTC().Format(time.RFC3339),
	}); pubErr != nil {
		logging.Logger.Warn().Err(pubErr).Str("order_id", orderID.String()).Msg("failed to publish failure event")
	}

	return apperr.Wrap(apperr.KindProcessing, "processing failed", cause, map[string]any{"order_id": orderID.String()})
}

// SweepStuck recovers order_processing rows left stuck in PROCESSING by
// a crash between the claim and the terminal-state write, resetting
// them to PENDING so the next delivery of the same order.created
// message (redelivered by the broker after an unacked crash, or
// reprocessed by an operator) can claim it again.
func (s *Service) SweepStuck(ctx context.Context, graceSeconds int) (int64, error) {
	return s.processing.SweepStuck(ctx, graceSeconds)
}
