//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/workoutstats/internal/events"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	tenantID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, tenantID, uuid.NewString(), events.TypeWorkoutCompleted))

	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5)

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "workout_events", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)
	require.Equal(t, tenantID, headers(producer.writes[0].messages[0])[HeaderTenantID])

	require.InDelta(t, beforeDelivered+1, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)

	// A second pass finds nothing left to claim.
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 1)
}

func TestDispatcherRoutesMessagesToDLQOnFailure(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	tenantID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, tenantID, uuid.NewString(), events.TypeWorkoutCompleted))

	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(pool, producer, &stubRegistry{id: 7}, 10*time.Millisecond, 5)

	beforeFailed := testutil.ToFloat64(failedCounter)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues("workout_events"))

	require.NoError(t, dispatcher.processBatch(ctx))

	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter), 0.0001)
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues("workout_events")), 0.0001)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE tenant_id = $1`, tenantID).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDispatcherUnknownSchemaMovesEventsToDLQ(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	eventID := seedOutbox(t, ctx, pool, uuid.NewString(), uuid.NewString(), "workout.unknown")
	require.NotZero(t, eventID)

	producer := &stubProducer{}
	registry := &stubRegistry{id: 99}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Empty(t, producer.writes)
	require.Empty(t, registry.calls)

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT reason FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&reason))
	require.Contains(t, reason, "no schema metadata for event_type=workout.unknown")
}

func TestDLQManagerRequeuesAndQuarantines(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	tenantID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, tenantID, uuid.NewString(), events.TypeWorkoutCompleted))

	failing := NewDispatcher(pool, &stubProducer{err: errors.New("broker unavailable")}, &stubRegistry{id: 5}, 10*time.Millisecond, 5)
	require.NoError(t, failing.processBatch(ctx))

	manager := NewDLQManager(pool, 1, time.Second)
	beforeRequeued := testutil.ToFloat64(dlqRequeuedCounter.WithLabelValues("workout_events", events.TypeWorkoutCompleted))

	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)
	require.InDelta(t, beforeRequeued+1, testutil.ToFloat64(dlqRequeuedCounter.WithLabelValues("workout_events", events.TypeWorkoutCompleted)), 0.0001)

	var pending int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&pending))
	require.Equal(t, 1, pending, "requeued event is waiting for the dispatcher")

	producer := &stubProducer{}
	healthy := NewDispatcher(pool, producer, &stubRegistry{id: 5}, 10*time.Millisecond, 5)
	require.NoError(t, healthy.processBatch(ctx))
	require.Len(t, producer.writes, 1)

	// An entry that already used its retries is parked instead of replayed.
	_, err = pool.Exec(ctx, `INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count)
        VALUES ($1, 999, $2, 'workout_events', '{}', 'boom', 'workout_completion', 'c-1', 'workout_events-value', 'k', 1)`,
		tenantID, events.TypeWorkoutCompleted)
	require.NoError(t, err)

	replayed, err = manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, replayed)

	var quarantined int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NOT NULL`).Scan(&quarantined))
	require.Equal(t, 1, quarantined)
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("workoutstats"),
		postgrescontainer.WithUsername("stats"),
		postgrescontainer.WithPassword("stats"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tenantID, aggregateID, eventType string) int64 {
	t.Helper()

	payload, err := json.Marshal(events.WorkoutCompleted{
		CompletionID: aggregateID,
		TenantID:     tenantID,
		UserID:       "user-1",
		Exercises:    []string{"Squat"},
		CompletedAt:  time.Now().UTC(),
		CompletedOn:  time.Now().UTC().Format(time.DateOnly),
	})
	require.NoError(t, err)

	var eventID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
         RETURNING event_id`,
		tenantID,
		"workout_completion",
		aggregateID,
		eventType,
		"workout_events",
		"workout_events-value",
		tenantID+":user-1",
		payload,
	).Scan(&eventID)
	require.NoError(t, err)
	return eventID
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	files, err := filepath.Glob(filepath.Join(resolvePath(t, "../../db/postgres/migrations"), "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "expected at least one migration .up.sql file")
	sort.Strings(files)

	for _, file := range files {
		contents, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)
		_, execErr := pool.Exec(ctx, string(contents))
		require.NoErrorf(t, execErr, "execute migration %s", file)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
