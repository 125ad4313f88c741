// Package domain defines the business logic for the workout stats service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/workoutstats/internal/observability"
	"example.com/workoutstats/internal/stats"
)

var (
	// ErrLedgerNotFound is returned by stores when a user has no ledger yet.
	ErrLedgerNotFound = errors.New("stats ledger not found")
	// ErrConcurrentModification signals that another writer touched the ledger mid-update.
	ErrConcurrentModification = errors.New("stats ledger modified concurrently")
	// ErrLedgerCorrupt is returned when stored totals disagree with the daily rows.
	ErrLedgerCorrupt = errors.New("stats ledger failed verification")
	// ErrDuplicateCompletion is returned when an idempotency key was already used.
	ErrDuplicateCompletion = errors.New("completion already recorded for idempotency key")
	// ErrInvalidInput wraps validation failures of completion input.
	ErrInvalidInput = stats.ErrInvalidInput
)

// DefaultMaxApplyAttempts bounds read-modify-write retries after a conflict.
const DefaultMaxApplyAttempts = 3

// DefaultStatsDays is the dashboard history window.
const DefaultStatsDays = 7

// FavoriteExerciseCount is how many top exercises the dashboard lists.
const FavoriteExerciseCount = 5

// LedgerStore persists ledgers and completion history. ApplyCompletion must
// serialise writers per user so that no update is lost.
type LedgerStore interface {
	ApplyCompletion(ctx context.Context, completion Completion, idempotencyKey string) (stats.Ledger, error)
	FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*Completion, error)
	LoadLedger(ctx context.Context, tenantID, userID string) (stats.Ledger, error)
	ListCompletions(ctx context.Context, tenantID, userID string, query HistoryQuery) ([]Completion, *Cursor, error)
	ExerciseCounts(ctx context.Context, tenantID, userID string) (map[string]int, error)
}

// LedgerCache holds ledger snapshots for the read path. Set must never
// replace a snapshot that has recorded more workouts than the given one, and
// Fill must never replace an existing snapshot.
type LedgerCache interface {
	Get(ctx context.Context, tenantID, userID string) (stats.Ledger, bool, error)
	Set(ctx context.Context, tenantID, userID string, ledger stats.Ledger) error
	Fill(ctx context.Context, tenantID, userID string, ledger stats.Ledger) error
	Invalidate(ctx context.Context, tenantID, userID string) error
}

// NoopCache disables ledger caching.
type NoopCache struct{}

// Get always misses.
func (NoopCache) Get(context.Context, string, string) (stats.Ledger, bool, error) {
	return stats.Ledger{}, false, nil
}

// Set performs no action.
func (NoopCache) Set(context.Context, string, string, stats.Ledger) error { return nil }

// Fill performs no action.
func (NoopCache) Fill(context.Context, string, string, stats.Ledger) error { return nil }

// Invalidate performs no action.
func (NoopCache) Invalidate(context.Context, string, string) error { return nil }

// Cursor models the history pagination token.
type Cursor struct {
	CompletedAt time.Time
	ID          string
}

// HistoryQuery selects a page of completion history. From and To bound the
// completion date inclusively; an empty bound is open.
type HistoryQuery struct {
	From   stats.Date
	To     stats.Date
	Cursor *Cursor
	Limit  int
}

// Includes reports whether the date falls inside the query's date range.
func (q HistoryQuery) Includes(date stats.Date) bool {
	if q.From != "" && date.Before(q.From) {
		return false
	}
	if q.To != "" && q.To.Before(date) {
		return false
	}
	return true
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithCache installs a ledger cache.
func WithCache(cache LedgerCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithSessions installs the active-workout store.
func WithSessions(store SessionStore) Option {
	return func(s *Service) {
		s.sessions = store
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMaxApplyAttempts overrides the conflict retry budget.
func WithMaxApplyAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// Service orchestrates workout completion and stats workflows.
type Service struct {
	repo        LedgerStore
	cache       LedgerCache
	sessions    SessionStore
	now         func() time.Time
	logger      *slog.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// NewService constructs a Service.
func NewService(repo LedgerStore, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		cache:       NoopCache{},
		now:         time.Now,
		logger:      slog.Default().With("component", "stats-service"),
		maxAttempts: DefaultMaxApplyAttempts,
		retryDelay:  25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CompleteWorkoutInput captures the payload from the API layer.
type CompleteWorkoutInput struct {
	TenantID        string
	UserID          string
	WorkoutID       string
	WorkoutName     string
	DurationMinutes int
	Calories        *int
	Exercises       []string
	Source          string
	IdempotencyKey  string
}

// CompletionResult is returned after a workout is recorded.
type CompletionResult struct {
	Completion Completion
	Ledger     stats.Ledger
	Summary    stats.Summary
	Replay     bool
}

// CompleteWorkout records a finished workout and folds it into the user's ledger.
func (s *Service) CompleteWorkout(ctx context.Context, input CompleteWorkoutInput) (*CompletionResult, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	if replay, err := s.replay(ctx, input); err != nil || replay != nil {
		return replay, err
	}

	now := s.now().UTC()
	event := stats.CompletionEvent{
		UserID:          input.UserID,
		DurationMinutes: input.DurationMinutes,
		Calories:        input.Calories,
		CompletedAtDate: stats.DateOf(now),
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.WorkoutName)
	if name == "" {
		name = "Workout"
	}
	exercises := input.Exercises
	if exercises == nil {
		exercises = []string{}
	}

	completion := Completion{
		ID:              uuid.NewString(),
		TenantID:        input.TenantID,
		UserID:          input.UserID,
		WorkoutID:       input.WorkoutID,
		WorkoutName:     name,
		DurationMinutes: input.DurationMinutes,
		Calories:        event.ResolvedCalories(),
		Exercises:       exercises,
		CompletedAt:     now,
		CompletedOn:     event.CompletedAtDate,
		Source:          input.Source,
	}

	ledger, err := s.apply(ctx, completion, input.IdempotencyKey)
	if errors.Is(err, ErrDuplicateCompletion) {
		// Lost an idempotency race with a concurrent request.
		if replay, replayErr := s.replay(ctx, input); replayErr == nil && replay != nil {
			return replay, nil
		}
	}
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, input.TenantID, input.UserID, ledger)

	return &CompletionResult{
		Completion: completion,
		Ledger:     ledger,
		Summary:    stats.Summarize(ledger, now, DefaultStatsDays),
	}, nil
}

// refreshCache publishes the post-write snapshot. If that fails the entry is
// dropped instead so no reader keeps serving the pre-write ledger.
func (s *Service) refreshCache(ctx context.Context, tenantID, userID string, ledger stats.Ledger) {
	err := s.cache.Set(ctx, tenantID, userID, ledger)
	if err == nil {
		return
	}
	s.logger.Warn("ledger cache update failed", "tenant_id", tenantID, "user_id", userID, "error", err)
	if err := s.cache.Invalidate(ctx, tenantID, userID); err != nil {
		s.logger.Warn("ledger cache invalidation failed", "tenant_id", tenantID, "user_id", userID, "error", err)
	}
}

func (s *Service) replay(ctx context.Context, input CompleteWorkoutInput) (*CompletionResult, error) {
	if input.IdempotencyKey == "" {
		return nil, nil
	}
	existing, err := s.repo.FindByIdempotency(ctx, input.TenantID, input.UserID, input.IdempotencyKey)
	if err != nil || existing == nil {
		return nil, err
	}
	ledger, err := s.loadLedger(ctx, input.TenantID, input.UserID)
	if err != nil {
		return nil, err
	}
	return &CompletionResult{
		Completion: *existing,
		Ledger:     ledger,
		Summary:    stats.Summarize(ledger, s.now(), DefaultStatsDays),
		Replay:     true,
	}, nil
}

func (s *Service) apply(ctx context.Context, completion Completion, idempotencyKey string) (stats.Ledger, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		ledger, err := s.repo.ApplyCompletion(ctx, completion, idempotencyKey)
		if err == nil {
			return ledger, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return stats.Ledger{}, err
		}

		lastErr = err
		observability.RecordApplyConflict()
		s.logger.Info("ledger conflict, retrying", "user_id", completion.UserID, "attempt", attempt)

		select {
		case <-ctx.Done():
			return stats.Ledger{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * s.retryDelay):
		}
	}
	return stats.Ledger{}, fmt.Errorf("apply completion after %d attempts: %w", s.maxAttempts, lastErr)
}

// StatsView is the dashboard payload for one user.
type StatsView struct {
	UserID            string
	Days              int
	GeneratedAt       time.Time
	Summary           stats.Summary
	FavoriteExercises []stats.ExerciseCount
}

// GetStats derives dashboard figures from the user's ledger at the current instant.
func (s *Service) GetStats(ctx context.Context, tenantID, userID string, days int) (*StatsView, error) {
	if days <= 0 {
		days = DefaultStatsDays
	}
	ledger, err := s.loadLedger(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.ExerciseCounts(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return &StatsView{
		UserID:            userID,
		Days:              days,
		GeneratedAt:       now,
		Summary:           stats.Summarize(ledger, now, days),
		FavoriteExercises: stats.FavoriteExercises(counts, FavoriteExerciseCount),
	}, nil
}

// loadLedger reads through the cache. A user without a ledger gets a zeroed one.
func (s *Service) loadLedger(ctx context.Context, tenantID, userID string) (stats.Ledger, error) {
	cached, ok, err := s.cache.Get(ctx, tenantID, userID)
	if err != nil {
		s.logger.Warn("ledger cache read failed", "tenant_id", tenantID, "user_id", userID, "error", err)
	}
	if ok {
		observability.RecordLedgerRead(true)
		return cached, nil
	}
	observability.RecordLedgerRead(false)

	ledger, err := s.repo.LoadLedger(ctx, tenantID, userID)
	if errors.Is(err, ErrLedgerNotFound) {
		return stats.NewLedger(userID), nil
	}
	if err != nil {
		return stats.Ledger{}, err
	}

	if err := s.cache.Fill(ctx, tenantID, userID, ledger); err != nil {
		s.logger.Warn("ledger cache fill failed", "tenant_id", tenantID, "user_id", userID, "error", err)
	}
	return ledger, nil
}

// History page size bounds.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// ListCompletions fetches workout history with cursor pagination.
func (s *Service) ListCompletions(ctx context.Context, tenantID, userID string, query HistoryQuery) ([]Completion, *Cursor, error) {
	if query.From != "" && query.To != "" && query.To.Before(query.From) {
		return nil, nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidInput, query.From, query.To)
	}
	if query.Limit <= 0 {
		query.Limit = DefaultHistoryLimit
	}
	if query.Limit > MaxHistoryLimit {
		query.Limit = MaxHistoryLimit
	}
	return s.repo.ListCompletions(ctx, tenantID, userID, query)
}
