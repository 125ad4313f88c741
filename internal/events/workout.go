// Package events defines the payloads published through the outbox.
package events

import "time"

// Event type identifiers carried in the outbox and the Kafka event_type header.
const (
	TypeWorkoutCompleted = "workout.completed"
	TypeStatsUpdated     = "stats.updated"
)

// WorkoutCompleted is emitted when a finished workout has been recorded.
type WorkoutCompleted struct {
	CompletionID    string    `json:"completion_id"`
	TenantID        string    `json:"tenant_id"`
	UserID          string    `json:"user_id"`
	WorkoutID       string    `json:"workout_id"`
	WorkoutName     string    `json:"workout_name"`
	DurationMinutes int       `json:"duration_min"`
	Calories        int       `json:"calories"`
	Exercises       []string  `json:"exercises"`
	CompletedAt     time.Time `json:"completed_at"`
	CompletedOn     string    `json:"completed_on"`
}

// StatsUpdated carries the ledger figures after a completion was folded in.
// Consumers use it to drop cached snapshots.
type StatsUpdated struct {
	TenantID             string    `json:"tenant_id"`
	UserID               string    `json:"user_id"`
	Date                 string    `json:"date"`
	DayWorkouts          int       `json:"day_workouts"`
	TotalWorkouts        int       `json:"total_workouts"`
	TotalDurationMinutes int       `json:"total_duration_min"`
	TotalCalories        int       `json:"total_calories"`
	LastWorkoutDate      string    `json:"last_workout_date"`
	OccurredAt           time.Time `json:"occurred_at"`
}
