package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage flattens validator errors into a single client-facing line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", field))
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s must be %s %s", field, boundWord(fe.Tag()), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func boundWord(tag string) string {
	if tag == "min" {
		return ">="
	}
	return "<="
}

// CompleteWorkoutRequest is the payload for POST /v1/workouts/complete.
type CompleteWorkoutRequest struct {
	WorkoutID   string   `json:"workout_id" validate:"required,max=128"`
	WorkoutName string   `json:"workout_name" validate:"max=200"`
	DurationMin int      `json:"duration_min" validate:"min=0,max=1440"`
	Exercises   []string `json:"exercises" validate:"required,max=100,dive,max=200"`
	Calories    *int     `json:"calories" validate:"omitempty,min=0,max=20000"`
}

// Validate ensures request correctness.
func (r CompleteWorkoutRequest) Validate() error {
	return validate.Struct(r)
}

// PlannedExerciseRequest is one exercise of a session template.
type PlannedExerciseRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Sets int    `json:"sets" validate:"min=1,max=50"`
}

// StartSessionRequest is the payload for POST /v1/sessions/active.
type StartSessionRequest struct {
	WorkoutID   string                   `json:"workout_id" validate:"required,max=128"`
	WorkoutName string                   `json:"workout_name" validate:"max=200"`
	Exercises   []PlannedExerciseRequest `json:"exercises" validate:"required,min=1,max=100,dive"`
}

// Validate ensures request correctness.
func (r StartSessionRequest) Validate() error {
	return validate.Struct(r)
}

// CompleteSetRequest is the payload for POST /v1/sessions/active/sets.
type CompleteSetRequest struct {
	ExerciseIndex int `json:"exercise_index" validate:"min=0"`
	SetNumber     int `json:"set_number" validate:"min=1,max=50"`
	Reps          int `json:"reps" validate:"min=0,max=1000"`
}

// Validate ensures request correctness.
func (r CompleteSetRequest) Validate() error {
	return validate.Struct(r)
}

// FinishSessionRequest is the optional payload for POST /v1/sessions/active/finish.
type FinishSessionRequest struct {
	Calories *int `json:"calories" validate:"omitempty,min=0,max=20000"`
}

// Validate ensures request correctness.
func (r FinishSessionRequest) Validate() error {
	return validate.Struct(r)
}
