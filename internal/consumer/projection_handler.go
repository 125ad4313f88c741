package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/workoutstats/internal/events"
)

// ProjectionHandler maintains read-side tables from the event stream: a
// per-user completion feed and the highest stats total seen per user.
type ProjectionHandler struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewProjectionHandler constructs a handler backed by the provided pool.
func NewProjectionHandler(pool *pgxpool.Pool) *ProjectionHandler {
	return &ProjectionHandler{pool: pool, now: time.Now}
}

// WorkoutCompleted adds the completion to the feed. Redelivered events are
// absorbed by the completion id.
func (h *ProjectionHandler) WorkoutCompleted(ctx context.Context, env Envelope, evt events.WorkoutCompleted) error {
	exercises := evt.Exercises
	if exercises == nil {
		exercises = []string{}
	}
	encoded, err := json.Marshal(exercises)
	if err != nil {
		return fmt.Errorf("encode exercises: %w", err)
	}

	_, err = h.pool.Exec(ctx,
		`INSERT INTO completion_feed (tenant_id, completion_id, user_id, workout_id, workout_name, duration_min, calories, exercises, completed_at, completed_on, schema_id, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::date,$11,$12)
         ON CONFLICT (tenant_id, completion_id) DO NOTHING`,
		evt.TenantID,
		evt.CompletionID,
		evt.UserID,
		evt.WorkoutID,
		evt.WorkoutName,
		evt.DurationMinutes,
		evt.Calories,
		encoded,
		evt.CompletedAt,
		evt.CompletedOn,
		env.SchemaID,
		h.receivedAt(env),
	)
	if err != nil {
		return fmt.Errorf("project completion %s: %w", evt.CompletionID, err)
	}
	return nil
}

// StatsUpdated moves the user's watermark forward. Events that arrive out of
// order never lower it.
func (h *ProjectionHandler) StatsUpdated(ctx context.Context, env Envelope, evt events.StatsUpdated) error {
	_, err := h.pool.Exec(ctx,
		`INSERT INTO stats_watermark (tenant_id, user_id, total_workouts, total_duration_min, total_calories, last_workout_date, updated_at)
         VALUES ($1,$2,$3,$4,$5,NULLIF($6, '')::date,$7)
         ON CONFLICT (tenant_id, user_id) DO UPDATE SET
             total_workouts = EXCLUDED.total_workouts,
             total_duration_min = EXCLUDED.total_duration_min,
             total_calories = EXCLUDED.total_calories,
             last_workout_date = EXCLUDED.last_workout_date,
             updated_at = EXCLUDED.updated_at
         WHERE stats_watermark.total_workouts < EXCLUDED.total_workouts`,
		evt.TenantID,
		evt.UserID,
		evt.TotalWorkouts,
		evt.TotalDurationMinutes,
		evt.TotalCalories,
		evt.LastWorkoutDate,
		h.receivedAt(env),
	)
	if err != nil {
		return fmt.Errorf("project stats for %s/%s: %w", evt.TenantID, evt.UserID, err)
	}
	return nil
}

func (h *ProjectionHandler) receivedAt(env Envelope) time.Time {
	if env.Received.IsZero() {
		return h.now().UTC()
	}
	return env.Received.UTC()
}
