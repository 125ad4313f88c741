package domain

import (
	"time"

	"example.com/workoutstats/internal/stats"
)

// Completion is the stored history record for one finished workout.
type Completion struct {
	ID              string
	TenantID        string
	UserID          string
	WorkoutID       string
	WorkoutName     string
	DurationMinutes int
	Calories        int
	Exercises       []string
	CompletedAt     time.Time
	CompletedOn     stats.Date
	Source          string
}

// Event converts the completion into the aggregator input.
func (c Completion) Event() stats.CompletionEvent {
	calories := c.Calories
	return stats.CompletionEvent{
		UserID:          c.UserID,
		DurationMinutes: c.DurationMinutes,
		Calories:        &calories,
		CompletedAtDate: c.CompletedOn,
	}
}
