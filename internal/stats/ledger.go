// Package stats folds completed workouts into a per-user ledger and derives
// dashboard figures (weekly count, streak, recent history) from it.
//
// Every function here is pure: callers thread the ledger through explicitly
// and are responsible for persisting the result. Derived views take the
// reference instant as an argument and are never cached on the ledger.
package stats

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// CaloriesPerMinute estimates energy spent when a client omits calories.
const CaloriesPerMinute = 5

// ErrInvalidInput is returned for negative durations or calorie values.
var ErrInvalidInput = errors.New("invalid completion input")

// DailyStat aggregates every workout completed on one calendar date.
type DailyStat struct {
	Date                 Date `json:"date"`
	WorkoutsCompleted    int  `json:"workouts_completed"`
	TotalDurationMinutes int  `json:"total_duration_minutes"`
	TotalCalories        int  `json:"total_calories"`
}

// Lifetime holds running totals across the whole ledger.
type Lifetime struct {
	TotalDurationMinutes int `json:"total_duration_minutes"`
	TotalCalories        int `json:"total_calories"`
	TotalWorkouts        int `json:"total_workouts"`
}

// Ledger is the persisted statistics record for a single user.
type Ledger struct {
	UserID          string      `json:"user_id"`
	DailyEntries    []DailyStat `json:"daily_entries"`
	Lifetime        Lifetime    `json:"lifetime"`
	LastWorkoutDate *Date       `json:"last_workout_date,omitempty"`
}

// NewLedger returns an empty ledger for the user.
func NewLedger(userID string) Ledger {
	return Ledger{UserID: userID, DailyEntries: []DailyStat{}}
}

// CompletionEvent describes one finished workout. Calories is nil when the
// client did not supply a value.
type CompletionEvent struct {
	UserID          string
	DurationMinutes int
	Calories        *int
	CompletedAtDate Date
}

// DefaultCalories applies the fixed per-minute estimate.
func DefaultCalories(durationMinutes int) int {
	return durationMinutes * CaloriesPerMinute
}

// ResolvedCalories returns the explicit calorie value or the estimate.
func (e CompletionEvent) ResolvedCalories() int {
	if e.Calories != nil {
		return *e.Calories
	}
	return DefaultCalories(e.DurationMinutes)
}

// Validate rejects negative values. The legacy path accepted them silently.
func (e CompletionEvent) Validate() error {
	if e.DurationMinutes < 0 {
		return fmt.Errorf("%w: duration must be >= 0", ErrInvalidInput)
	}
	if e.Calories != nil && *e.Calories < 0 {
		return fmt.Errorf("%w: calories must be >= 0", ErrInvalidInput)
	}
	if _, err := ParseDate(string(e.CompletedAtDate)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// RecordCompletion folds the event into a copy of the ledger.
//
// lastWorkoutDate is overwritten even when the event is older than the
// current value; backdated events are accepted as-is.
func RecordCompletion(ledger Ledger, event CompletionEvent) (Ledger, error) {
	if err := event.Validate(); err != nil {
		return ledger, err
	}

	next := ledger.Clone()
	if next.UserID == "" {
		next.UserID = event.UserID
	}
	calories := event.ResolvedCalories()

	idx, found := next.find(event.CompletedAtDate)
	if !found {
		next.DailyEntries = slices.Insert(next.DailyEntries, idx, DailyStat{Date: event.CompletedAtDate})
	}
	day := &next.DailyEntries[idx]
	day.WorkoutsCompleted++
	day.TotalDurationMinutes += event.DurationMinutes
	day.TotalCalories += calories

	next.Lifetime.TotalWorkouts++
	next.Lifetime.TotalDurationMinutes += event.DurationMinutes
	next.Lifetime.TotalCalories += calories

	last := event.CompletedAtDate
	next.LastWorkoutDate = &last
	return next, nil
}

// Clone deep-copies the ledger so callers can mutate the result freely.
func (l Ledger) Clone() Ledger {
	out := l
	out.DailyEntries = make([]DailyStat, len(l.DailyEntries))
	copy(out.DailyEntries, l.DailyEntries)
	if l.LastWorkoutDate != nil {
		last := *l.LastWorkoutDate
		out.LastWorkoutDate = &last
	}
	return out
}

// Day returns the entry for date, if any.
func (l Ledger) Day(date Date) (DailyStat, bool) {
	idx, found := l.find(date)
	if !found {
		return DailyStat{}, false
	}
	return l.DailyEntries[idx], true
}

func (l Ledger) find(date Date) (int, bool) {
	return slices.BinarySearchFunc(l.DailyEntries, date, func(entry DailyStat, target Date) int {
		return cmp.Compare(entry.Date, target)
	})
}

// Verify checks ordering, uniqueness, and that lifetime totals match the per-day sums.
func Verify(l Ledger) error {
	var sum Lifetime
	for i, entry := range l.DailyEntries {
		if i > 0 && !l.DailyEntries[i-1].Date.Before(entry.Date) {
			return fmt.Errorf("daily entries out of order or duplicated at %s", entry.Date)
		}
		if entry.WorkoutsCompleted < 1 {
			return fmt.Errorf("daily entry %s has no workouts", entry.Date)
		}
		sum.TotalWorkouts += entry.WorkoutsCompleted
		sum.TotalDurationMinutes += entry.TotalDurationMinutes
		sum.TotalCalories += entry.TotalCalories
	}
	if sum != l.Lifetime {
		return fmt.Errorf("lifetime totals %+v do not match daily sums %+v", l.Lifetime, sum)
	}
	return nil
}

// Rebuild orders the entries and recomputes lifetime totals from them.
// Stores use it when hydrating a ledger from rows.
func Rebuild(userID string, entries []DailyStat, lastWorkout *Date) Ledger {
	l := Ledger{UserID: userID, DailyEntries: make([]DailyStat, 0, len(entries)), LastWorkoutDate: lastWorkout}
	l.DailyEntries = append(l.DailyEntries, entries...)
	slices.SortFunc(l.DailyEntries, func(a, b DailyStat) int {
		return cmp.Compare(a.Date, b.Date)
	})
	for _, entry := range l.DailyEntries {
		l.Lifetime.TotalWorkouts += entry.WorkoutsCompleted
		l.Lifetime.TotalDurationMinutes += entry.TotalDurationMinutes
		l.Lifetime.TotalCalories += entry.TotalCalories
	}
	return l
}
