// Package outbox implements the transactional outbox: a repository for
// enqueuing and claiming rows, and a Publisher worker that drains them
// onto the broker with retry and exponential backoff.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/baechuer/asyncorder/internal/apperr"
	"github.com/baechuer/asyncorder/internal/storage"
)

// Message is one row of the outbox table.
type Message struct {
	ID         uuid.UUID
	EventType  string
	Exchange   string
	RoutingKey string
	Payload    string
	Published  bool
	RetryCount int
	LastError  *string
	CreatedAt  time.Time
	NextRetryAt time.Time
}

type Repository struct {
	db storage.Querier
}

func New(db storage.Querier) *Repository {
	return &Repository{db: db}
}

// Create enqueues a new outbox message in the same transaction as the
// domain write that produced it.
func (r *Repository) Create(ctx context.Context, eventType, exchange, routingKey, payload string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO outbox_messages (id, event_type, exchange, routing_key, payload, published, retry_count, created_at, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, false, 0, NOW(), NOW())`,
		uuid.New(), eventType, exchange, routingKey, payload,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindRepository, "insert outbox message", err, map[string]any{"event_type": eventType})
	}
	return nil
}

// Claim atomically selects up to limit unpublished, retry-eligible rows
// with SELECT ... FOR UPDATE SKIP LOCKED (so multiple publisher
// instances never double-claim) and pushes next_retry_at a short
// distance into the future as an in-flight marker, so a crash between
// claim and publish doesn't wedge the row: it simply becomes claimable
// again once the marker elapses. Callers must run Claim inside its own
// short transaction and commit immediately after.
func (r *Repository) Claim(ctx context.Context, limit, maxRetries int) ([]Message, error) {
	rows, err := r.db.Query(ctx, `
		WITH claimed AS (
			SELECT id FROM outbox_messages
			WHERE published = false AND retry_count < $2 AND next_retry_at <= NOW()
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages o
		SET next_retry_at = NOW() + INTERVAL '15 seconds'
		FROM claimed
		WHERE o.id = claimed.id
		RETURNING o.id, o.event_type, o.exchange, o.routing_key, o.payload, o.retry_count, o.created_at, o.next_retry_at`,
		limit, maxRetries,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRepository, "claim outbox messages", err, nil)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.EventType, &m.Exchange, &m.RoutingKey, &m.Payload, &m.RetryCount, &m.CreatedAt, &m.NextRetryAt); err != nil {
			return nil, apperr.Wrap(apperr.KindRepository, "scan outbox message", err, nil)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountBacklog reports how many rows are still unpublished and have not
// yet exhausted their retry budget.
func (r *Repository) CountBacklog(ctx context.Context, maxRetries int) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM outbox_messages WHERE published = false AND retry_count < $1`, maxRetries,
	).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindRepository, "count outbox backlog", err, nil)
	}
	return n, nil
}

// MarkPublished marks a message as successfully delivered.
func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_messages SET published = true, published_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindRepository, "mark outbox message published", err, map[string]any{"outbox_id": id.String()})
	}
	return nil
}

// IncrementRetry records a failed publish attempt, its error, and
// schedules the next attempt using exponential backoff keyed on the
// attempt number that just failed.
func (r *Repository) IncrementRetry(ctx context.Context, id uuid.UUID, attempt int, lastErr string) error {
	next := time.Now().UTC().Add(computeBackoff(attempt))
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_messages
		SET retry_count = retry_count + 1, last_error = $2, next_retry_at = $3
		WHERE id = $1`, id, lastErr, next)
	if err != nil {
		return apperr.Wrap(apperr.KindRepository, "increment outbox retry count", err, map[string]any{"outbox_id": id.String()})
	}
	return nil
}
