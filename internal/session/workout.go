// Package session models a workout that is in progress. The state is a plain
// value owned by whoever holds it (the session store, a test); nothing here
// keeps package-level state.
package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownExercise is returned when a set references an exercise index that does not exist.
	ErrUnknownExercise = errors.New("exercise index out of range")
	// ErrInvalidSet is returned for set numbers below one or negative rep counts.
	ErrInvalidSet = errors.New("invalid set")
)

// PlannedExercise is one exercise of the workout template a session starts from.
type PlannedExercise struct {
	Name string `json:"name"`
	Sets int    `json:"sets"`
}

// SetLog records a completed set.
type SetLog struct {
	SetNumber     int       `json:"set_number"`
	Completed     bool      `json:"completed"`
	RepsCompleted int       `json:"reps_completed"`
	CompletedAt   time.Time `json:"completed_at"`
}

// ExerciseState tracks progress on one exercise.
type ExerciseState struct {
	Name        string   `json:"name"`
	PlannedSets int      `json:"planned_sets"`
	Sets        []SetLog `json:"sets"`
}

// ActiveWorkout is the in-progress workout for a single user.
type ActiveWorkout struct {
	WorkoutID            string          `json:"workout_id"`
	WorkoutName          string          `json:"workout_name"`
	StartedAt            time.Time       `json:"started_at"`
	CurrentExerciseIndex int             `json:"current_exercise_index"`
	Exercises            []ExerciseState `json:"exercises"`
}

// Start builds a fresh in-progress workout.
func Start(workoutID, workoutName string, plan []PlannedExercise, now time.Time) ActiveWorkout {
	if workoutName == "" {
		workoutName = "Workout"
	}
	exercises := make([]ExerciseState, 0, len(plan))
	for _, p := range plan {
		exercises = append(exercises, ExerciseState{Name: p.Name, PlannedSets: p.Sets, Sets: []SetLog{}})
	}
	return ActiveWorkout{
		WorkoutID:   workoutID,
		WorkoutName: workoutName,
		StartedAt:   now.UTC(),
		Exercises:   exercises,
	}
}

// CompleteSet marks setNumber (1-based) of the exercise done, creating the set if needed.
func CompleteSet(w ActiveWorkout, exerciseIndex, setNumber, reps int, now time.Time) (ActiveWorkout, error) {
	if exerciseIndex < 0 || exerciseIndex >= len(w.Exercises) {
		return w, fmt.Errorf("%w: %d", ErrUnknownExercise, exerciseIndex)
	}
	if setNumber < 1 || reps < 0 {
		return w, fmt.Errorf("%w: set=%d reps=%d", ErrInvalidSet, setNumber, reps)
	}

	next := w.clone()
	exercise := &next.Exercises[exerciseIndex]
	for len(exercise.Sets) < setNumber {
		exercise.Sets = append(exercise.Sets, SetLog{SetNumber: len(exercise.Sets) + 1})
	}
	exercise.Sets[setNumber-1] = SetLog{
		SetNumber:     setNumber,
		Completed:     true,
		RepsCompleted: reps,
		CompletedAt:   now.UTC(),
	}
	next.CurrentExerciseIndex = exerciseIndex
	return next, nil
}

// Progress summarises completion as whole percentages.
type Progress struct {
	CompletedSets      int `json:"completed_sets"`
	TotalSets          int `json:"total_sets"`
	CompletedExercises int `json:"completed_exercises"`
	TotalExercises     int `json:"total_exercises"`
	Percentage         int `json:"percentage"`
}

// ExerciseProgress reports set completion for one exercise.
func ExerciseProgress(w ActiveWorkout, exerciseIndex int) Progress {
	if exerciseIndex < 0 || exerciseIndex >= len(w.Exercises) {
		return Progress{}
	}
	exercise := w.Exercises[exerciseIndex]
	total := max(exercise.PlannedSets, len(exercise.Sets))
	done := completedSets(exercise)
	p := Progress{CompletedSets: done, TotalSets: total, TotalExercises: 1}
	if total > 0 && done == total {
		p.CompletedExercises = 1
	}
	p.Percentage = percent(done, total)
	return p
}

// WorkoutProgress reports how many exercises have every set completed.
func WorkoutProgress(w ActiveWorkout) Progress {
	p := Progress{TotalExercises: len(w.Exercises)}
	for i := range w.Exercises {
		ex := ExerciseProgress(w, i)
		p.CompletedSets += ex.CompletedSets
		p.TotalSets += ex.TotalSets
		p.CompletedExercises += ex.CompletedExercises
	}
	p.Percentage = percent(p.CompletedExercises, p.TotalExercises)
	return p
}

// Completion is what a finished session contributes to the stats ledger.
type Completion struct {
	WorkoutID       string
	WorkoutName     string
	DurationMinutes int
	Exercises       []string
	FinishedAt      time.Time
}

// Finish closes the workout. Duration is the elapsed wall time in whole minutes.
func Finish(w ActiveWorkout, now time.Time) Completion {
	elapsed := now.Sub(w.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	names := make([]string, 0, len(w.Exercises))
	for _, ex := range w.Exercises {
		names = append(names, ex.Name)
	}
	return Completion{
		WorkoutID:       w.WorkoutID,
		WorkoutName:     w.WorkoutName,
		DurationMinutes: int(elapsed / time.Minute),
		Exercises:       names,
		FinishedAt:      now.UTC(),
	}
}

func (w ActiveWorkout) clone() ActiveWorkout {
	out := w
	out.Exercises = make([]ExerciseState, len(w.Exercises))
	for i, ex := range w.Exercises {
		ex.Sets = append([]SetLog(nil), ex.Sets...)
		out.Exercises[i] = ex
	}
	return out
}

func completedSets(ex ExerciseState) int {
	n := 0
	for _, s := range ex.Sets {
		if s.Completed {
			n++
		}
	}
	return n
}

func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return (part*100 + whole/2) / whole
}
