//go:build integration

package consumer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/workoutstats/internal/events"
)

func TestProjectionFeedsCompletionsOnce(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	handler := NewProjectionHandler(pool)
	at := time.Date(2024, time.June, 10, 9, 30, 0, 0, time.UTC)
	evt := events.WorkoutCompleted{
		CompletionID:    "c-1",
		TenantID:        "tenant-1",
		UserID:          "u-1",
		WorkoutID:       "w-1",
		WorkoutName:     "Legs",
		DurationMinutes: 40,
		Calories:        200,
		Exercises:       []string{"Squat", "Lunge"},
		CompletedAt:     at,
		CompletedOn:     "2024-06-10",
	}
	env := Envelope{Topic: "workout_events", Offset: 5, Received: at.Add(time.Second), EventType: events.TypeWorkoutCompleted, SchemaID: 42}

	require.NoError(t, handler.WorkoutCompleted(ctx, env, evt))
	env.Offset = 9
	require.NoError(t, handler.WorkoutCompleted(ctx, env, evt), "redelivery under a new offset is absorbed")

	var (
		count     int
		duration  int
		completed time.Time
		exercises []string
		schemaID  int
	)
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM completion_feed`).Scan(&count))
	require.Equal(t, 1, count)
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT duration_min, completed_on::timestamptz, exercises, schema_id FROM completion_feed WHERE tenant_id = $1 AND completion_id = $2`,
		"tenant-1", "c-1",
	).Scan(&duration, &completed, &exercises, &schemaID))
	require.Equal(t, 40, duration)
	require.Equal(t, "2024-06-10", completed.UTC().Format(time.DateOnly))
	require.Equal(t, []string{"Squat", "Lunge"}, exercises)
	require.Equal(t, 42, schemaID)
}

func TestProjectionWatermarkOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	handler := NewProjectionHandler(pool)
	env := Envelope{Topic: "stats_updates", EventType: events.TypeStatsUpdated, Received: time.Date(2024, time.June, 10, 10, 0, 0, 0, time.UTC)}
	update := func(total int, last string) events.StatsUpdated {
		return events.StatsUpdated{
			TenantID:             "tenant-1",
			UserID:               "u-1",
			TotalWorkouts:        total,
			TotalDurationMinutes: total * 30,
			TotalCalories:        total * 150,
			LastWorkoutDate:      last,
		}
	}

	require.NoError(t, handler.StatsUpdated(ctx, env, update(2, "2024-06-09")))
	require.NoError(t, handler.StatsUpdated(ctx, env, update(3, "2024-06-10")))
	require.NoError(t, handler.StatsUpdated(ctx, env, update(1, "2024-06-08")), "late events are ignored")

	var total, duration int
	var last time.Time
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT total_workouts, total_duration_min, last_workout_date::timestamptz FROM stats_watermark WHERE tenant_id = $1 AND user_id = $2`,
		"tenant-1", "u-1",
	).Scan(&total, &duration, &last))
	require.Equal(t, 3, total)
	require.Equal(t, 90, duration)
	require.Equal(t, "2024-06-10", last.UTC().Format(time.DateOnly))

	require.NoError(t, handler.StatsUpdated(ctx, env, events.StatsUpdated{TenantID: "tenant-1", UserID: "u-2", TotalWorkouts: 0}))
	var lastDate *time.Time
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT last_workout_date::timestamptz FROM stats_watermark WHERE tenant_id = $1 AND user_id = $2`,
		"tenant-1", "u-2",
	).Scan(&lastDate))
	require.Nil(t, lastDate, "an empty last workout date is stored as NULL")
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

	return pool, func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	files, err := filepath.Glob(filepath.Join(filepath.Dir(file), "../../db/postgres/migrations", "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, f := range files {
		content, readErr := os.ReadFile(f)
		require.NoErrorf(t, readErr, "read migration %s", f)
		_, execErr := pool.Exec(ctx, string(content))
		require.NoErrorf(t, execErr, "execute migration %s", f)
	}
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
