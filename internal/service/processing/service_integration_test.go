//go:build integration
// +build integration

package processing_test

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/baechuer/asyncorder/internal/apperr"
	"github.com/baechuer/asyncorder/internal/contracts"
	"github.com/baechuer/asyncorder/internal/logging"
	processingpg "github.com/baechuer/asyncorder/internal/repository/postgres"
	"github.com/baechuer/asyncorder/internal/service/processing"
)

func init() { logging.Init("processing-integration-test") }

// stubPublisher records every order.processed event it's handed,
// standing in for the broker client so this test only needs Postgres.
type stubPublisher struct {
	mu     sync.Mutex
	events []contracts.OrderProcessedEvent
}

func (s *stubPublisher) PublishOrderProcessed(_ context.Context, event contracts.OrderProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubPublisher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func setupProcessorDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if _, err := testcontainers.NewDockerClientWithOpts(ctx); err != nil {
		t.Skipf("skipping integration test because Docker is unavailable: %v", err)
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("processor_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../../migrations/processor/0001_init.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	return pool
}

func newCreatedEvent(orderID uuid.UUID) contracts.OrderCreatedEvent {
	return contracts.OrderCreatedEvent{
		OrderID:   orderID.String(),
		UserID:    "user-1",
		Products:  []contracts.OrderProduct{{ProductID: "p1", Quantity: 1}},
		Amount:    9.99,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// TestProcess_DuplicateDeliveryYieldsExactlyOneTerminalRecord exercises
// testable property #2 and end-to-end scenario #3: the same
// order.created event delivered twice results in exactly one terminal
// OrderProcessing row and exactly one order.processed publish.
func TestProcess_DuplicateDeliveryYieldsExactlyOneTerminalRecord(t *testing.T) {
	pool := setupProcessorDB(t)
	ctx := context.Background()
	pub := &stubPublisher{}

	svc := processing.NewService(pool, pub, 1.0, time.Millisecond, 2*time.Millisecond)

	orderID := uuid.New()
	event := newCreatedEvent(orderID)

	require.NoError(t, svc.Process(ctx, event))
	require.NoError(t, svc.Process(ctx, event))

	repo := processingpg.NewProcessingRepository(pool)
	record, err := repo.GetByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.True(t, record.Status.Terminal())

	require.Equal(t, 1, pub.count(), "exactly one order.processed publish expected for a duplicate delivery")
}

// TestProcess_ConcurrentDeliveryYieldsExactlyOneTerminalRecord races two
// goroutines processing the same order.created event against each
// other, the way two prefetched deliveries of a redelivered message
// could race in production. Only one should ever transition the
// record to PROCESSING and publish the outcome; the loser must observe
// the winner's claim and return without doing any work.
func TestProcess_ConcurrentDeliveryYieldsExactlyOneTerminalRecord(t *testing.T) {
	pool := setupProcessorDB(t)
	ctx := context.Background()
	pub := &stubPublisher{}

	svc := processing.NewService(pool, pub, 1.0, 20*time.Millisecond, 40*time.Millisecond)

	orderID := uuid.New()
	event := newCreatedEvent(orderID)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			errs <- svc.Process(ctx, event)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	repo := processingpg.NewProcessingRepository(pool)
	record, err := repo.GetByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.True(t, record.Status.Terminal())

	require.Equal(t, 1, pub.count(), "exactly one order.processed publish expected for a racing duplicate delivery")
}

func TestProcess_SuccessRateOneAlwaysSucceeds(t *testing.T) {
	pool := setupProcessorDB(t)
	ctx := context.Background()
	pub := &stubPublisher{}

	svc := processing.NewService(pool, pub, 1.0, 0, time.Millisecond)

	orderID := uuid.New()
	require.NoError(t, svc.Process(ctx, newCreatedEvent(orderID)))

	require.Equal(t, 1, pub.count())
	require.Equal(t, "SUCCESS", pub.events[0].Status)
}

func TestProcess_SuccessRateZeroAlwaysFails(t *testing.T) {
	pool := setupProcessorDB(t)
	ctx := context.Background()
	pub := &stubPublisher{}

	svc := processing.NewService(pool, pub, 0.0, 0, time.Millisecond)

	orderID := uuid.New()
	require.NoError(t, svc.Process(ctx, newCreatedEvent(orderID)))

	require.Equal(t, 1, pub.count())
	require.Equal(t, "FAILED", pub.events[0].Status)
	require.NotNil(t, pub.events[0].ErrorMessage)
}

func TestProcess_MalformedEventIsValidationError(t *testing.T) {
	pool := setupProcessorDB(t)
	ctx := context.Background()
	pub := &stubPublisher{}

	svc := processing.NewService(pool, pub, 1.0, 0, time.Millisecond)

	bad, err := json.Marshal(map[string]string{"order_id": "not-a-uuid"})
	require.NoError(t, err)

	err = svc.HandleMessage(ctx, bad)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindValidation))
	require.Equal(t, 0, pub.count())
}

func TestSweepStuck_ResetsOldProcessingRowsToPending(t *testing.T) {
	pool := setupProcessorDB(t)
	ctx := context.Background()
	pub := &stubPublisher{}

	svc := processing.NewService(pool, pub, 1.0, time.Millisecond, time.Millisecond)
	repo := processingpg.NewProcessingRepository(pool)
	orderID := uuid.New()

	// Simulate a crash between the PROCESSING write and the
	// terminal-state write: create the record directly, past the
	// recovery grace period, without ever completing it.
	_, _, err := repo.Create(ctx, orderID)
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, orderID, "PROCESSING", nil)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE order_processing SET updated_at = NOW() - INTERVAL '1 hour' WHERE order_id = $1`, orderID)
	require.NoError(t, err)

	n, err := svc.SweepStuck(ctx, 60)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	record, err := repo.GetByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, "PENDING", string(record.Status))
}
