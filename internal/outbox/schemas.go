package outbox

import "example.com/workoutstats/internal/events"

const workoutCompletedSchema = `{
  "type": "object",
  "title": "WorkoutCompleted",
  "properties": {
    "completion_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "workout_id": {"type": "string"},
    "workout_name": {"type": "string"},
    "duration_min": {"type": "integer", "minimum": 0},
    "calories": {"type": "integer", "minimum": 0},
    "exercises": {"type": "array", "items": {"type": "string"}},
    "completed_at": {"type": "string", "format": "date-time"},
    "completed_on": {"type": "string", "format": "date"}
  },
  "required": ["completion_id", "tenant_id", "user_id", "duration_min", "calories", "completed_at", "completed_on"],
  "additionalProperties": false
}`

const statsUpdatedSchema = `{
  "type": "object",
  "title": "StatsUpdated",
  "properties": {
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "date": {"type": "string", "format": "date"},
    "day_workouts": {"type": "integer", "minimum": 1},
    "total_workouts": {"type": "integer", "minimum": 0},
    "total_duration_min": {"type": "integer", "minimum": 0},
    "total_calories": {"type": "integer", "minimum": 0},
    "last_workout_date": {"type": "string", "format": "date"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["tenant_id", "user_id", "date", "total_workouts", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeWorkoutCompleted: {Schema: workoutCompletedSchema},
	events.TypeStatsUpdated:     {Schema: statsUpdatedSchema},
}
