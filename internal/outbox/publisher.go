package outbox

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/asyncorder/internal/logging"
	"github.com/baechuer/asyncorder/internal/metrics"
)

// EventSender publishes one already-serialized outbox row's payload by
// event type. Implemented by the broker client so the publisher never
// needs to know the broker's connection details.
type EventSender interface {
	PublishRaw(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Publisher is the single outbox-draining worker for one service
// instance. One Publisher per process: running two against the same
// database is safe (Claim uses SELECT ... FOR UPDATE SKIP LOCKED) but
// wasteful, so deployments are expected to run one replica.
type Publisher struct {
	pool         *pgxpool.Pool
	sender       EventSender
	batchSize    int
	pollInterval time.Duration
	maxRetries   int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPublisher(pool *pgxpool.Pool, sender EventSender, batchSize int, pollInterval time.Duration, maxRetries int) *Publisher {
	return &Publisher{
		pool:         pool,
		sender:       sender,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		maxRetries:   maxRetries,
	}
}

// Start launches the poll loop. Calling Start twice while already
// running is a no-op, logged as a warning.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		logging.Logger.Warn().Msg("outbox publisher already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(loopCtx)
	}()

	logging.Logger.Info().Msg("outbox publisher started")
}

// Stop cancels the poll loop and waits for the message being published,
// if any, to finish.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	logging.Logger.Info().Msg("outbox publisher stopped")
}

func (p *Publisher) loop(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx); err != nil {
				logging.Logger.Error().Err(err).Msg("outbox publish batch failed")
			}
			if n, err := New(p.pool).CountBacklog(ctx, p.maxRetries); err != nil {
				logging.Logger.Warn().Err(err).Msg("failed to measure outbox backlog")
			} else {
				metrics.OutboxBacklog.Set(float64(n))
			}
		}
	}
}

// publishBatch claims a batch inside a short transaction, then publishes
// each message outside that transaction so a slow broker round-trip
// never holds a DB transaction open.
func (p *Publisher) publishBatch(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}

	repo := New(tx)
	messages, err := repo.Claim(ctx, p.batchSize, p.maxRetries)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if len(messages) == 0 {
		return nil
	}

	standaloneRepo := New(p.pool)
	// A Stop that arrives mid-batch lets the message already being
	// published finish (confirm wait and mark included), then stops
	// before the next one; unsent rows become claimable again later.
	pubCtx := context.WithoutCancel(ctx)
	for _, m := range messages {
		if ctx.Err() != nil {
			break
		}
		if err := p.sender.PublishRaw(pubCtx, m.Exchange, m.RoutingKey, []byte(m.Payload)); err != nil {
			metrics.OutboxPublishFailuresTotal.Inc()
			logging.Logger.Warn().
				Err(err).
				Str("outbox_id", m.ID.String()).
				Int("retry_count", m.RetryCount+1).
				Msg("failed to publish outbox message, will retry")
			if markErr := standaloneRepo.IncrementRetry(pubCtx, m.ID, m.RetryCount, err.Error()); markErr != nil {
				logging.Logger.Error().Err(markErr).Msg("failed to record outbox retry")
			}
			continue
		}
		if markErr := standaloneRepo.MarkPublished(pubCtx, m.ID); markErr != nil {
			logging.Logger.Error().Err(markErr).Msg("failed to mark outbox message published")
		}
	}

	return nil
}

// computeBackoff returns the delay before an outbox message at the
// given attempt number is eligible to be claimed again: 2^attempt
// seconds, floored at 5s and capped at 300s, with +/-10% jitter.
func computeBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	sec := math.Pow(2, float64(attempt))
	if sec < 5 {
		sec = 5
	}
	if sec > 300 {
		sec = 300
	}
	d := time.Duration(sec * float64(time.Second))
	jitter := time.Duration(rand.Int63n(int64(d/5))) - d/10
	return d + jitter
}
