package domain

import (
	"context"
	"errors"

	"example.com/workoutstats/internal/session"
)

var (
	// ErrNoActiveSession is returned when the user has no workout in progress.
	ErrNoActiveSession = errors.New("no active workout session")
	// ErrSessionExists is returned when starting a workout while another is in progress.
	ErrSessionExists = errors.New("workout session already in progress")
	// ErrSessionsDisabled is returned when no session store is configured.
	ErrSessionsDisabled = errors.New("workout sessions are not enabled")
	// ErrSessionBusy is returned when another request holds the session for too long.
	ErrSessionBusy = errors.New("workout session busy, retry the request")
)

// SessionStore keeps at most one in-progress workout per user. Create, Update
// and Take must each be atomic per user; Load and Update return nil when no
// workout is in progress.
type SessionStore interface {
	Load(ctx context.Context, tenantID, userID string) (*session.ActiveWorkout, error)
	Create(ctx context.Context, tenantID, userID string, workout session.ActiveWorkout) (bool, error)
	Update(ctx context.Context, tenantID, userID string, mutate func(session.ActiveWorkout) (session.ActiveWorkout, error)) (*session.ActiveWorkout, error)
	Take(ctx context.Context, tenantID, userID string) (*session.ActiveWorkout, error)
}

// StartSessionInput describes the workout template a session starts from.
type StartSessionInput struct {
	TenantID    string
	UserID      string
	WorkoutID   string
	WorkoutName string
	Exercises   []session.PlannedExercise
}

// StartSession begins a new in-progress workout for the user.
func (s *Service) StartSession(ctx context.Context, input StartSessionInput) (*session.ActiveWorkout, error) {
	if s.sessions == nil {
		return nil, ErrSessionsDisabled
	}
	workout := session.Start(input.WorkoutID, input.WorkoutName, input.Exercises, s.now())
	created, err := s.sessions.Create(ctx, input.TenantID, input.UserID, workout)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrSessionExists
	}
	return &workout, nil
}

// GetSession returns the user's in-progress workout.
func (s *Service) GetSession(ctx context.Context, tenantID, userID string) (*session.ActiveWorkout, error) {
	if s.sessions == nil {
		return nil, ErrSessionsDisabled
	}
	workout, err := s.sessions.Load(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if workout == nil {
		return nil, ErrNoActiveSession
	}
	return workout, nil
}

// CompleteSet records a finished set on the in-progress workout.
func (s *Service) CompleteSet(ctx context.Context, tenantID, userID string, exerciseIndex, setNumber, reps int) (*session.ActiveWorkout, error) {
	if s.sessions == nil {
		return nil, ErrSessionsDisabled
	}
	now := s.now()
	workout, err := s.sessions.Update(ctx, tenantID, userID, func(current session.ActiveWorkout) (session.ActiveWorkout, error) {
		return session.CompleteSet(current, exerciseIndex, setNumber, reps, now)
	})
	if err != nil {
		return nil, err
	}
	if workout == nil {
		return nil, ErrNoActiveSession
	}
	return workout, nil
}

// FinishSessionInput carries the optional calorie override for a finished session.
type FinishSessionInput struct {
	TenantID       string
	UserID         string
	Calories       *int
	IdempotencyKey string
}

// FinishSession records the in-progress workout as completed and clears it.
// A retry carrying the key of an earlier successful finish replays that result.
func (s *Service) FinishSession(ctx context.Context, input FinishSessionInput) (*CompletionResult, error) {
	if s.sessions == nil {
		return nil, ErrSessionsDisabled
	}
	if input.IdempotencyKey != "" {
		replay, err := s.replay(ctx, CompleteWorkoutInput{
			TenantID:       input.TenantID,
			UserID:         input.UserID,
			IdempotencyKey: input.IdempotencyKey,
		})
		if err != nil || replay != nil {
			return replay, err
		}
	}

	workout, err := s.sessions.Take(ctx, input.TenantID, input.UserID)
	if err != nil {
		return nil, err
	}
	if workout == nil {
		return nil, ErrNoActiveSession
	}

	done := session.Finish(*workout, s.now())
	result, err := s.CompleteWorkout(ctx, CompleteWorkoutInput{
		TenantID:        input.TenantID,
		UserID:          input.UserID,
		WorkoutID:       done.WorkoutID,
		WorkoutName:     done.WorkoutName,
		DurationMinutes: done.DurationMinutes,
		Calories:        input.Calories,
		Exercises:       done.Exercises,
		Source:          "session",
		IdempotencyKey:  input.IdempotencyKey,
	})
	if err != nil {
		// Put the workout back unless the user already started another one.
		if _, restoreErr := s.sessions.Create(ctx, input.TenantID, input.UserID, *workout); restoreErr != nil {
			s.logger.Warn("active session restore failed", "tenant_id", input.TenantID, "user_id", input.UserID, "error", restoreErr)
		}
		return nil, err
	}
	return result, nil
}

// AbandonSession discards the in-progress workout without recording it.
func (s *Service) AbandonSession(ctx context.Context, tenantID, userID string) error {
	if s.sessions == nil {
		return ErrSessionsDisabled
	}
	workout, err := s.sessions.Take(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if workout == nil {
		return ErrNoActiveSession
	}
	return nil
}
