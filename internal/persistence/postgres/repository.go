package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/workoutstats/internal/domain"
	"example.com/workoutstats/internal/events"
	"example.com/workoutstats/internal/observability"
	"example.com/workoutstats/internal/stats"
)

// Postgres error codes mapped onto domain errors.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// Repository provides Postgres-backed persistence for stats ledgers, workout
// history, and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ApplyCompletion locks the user's ledger row, folds the completion in, and
// writes the ledger, the history row, and the outbox events in one transaction.
func (r *Repository) ApplyCompletion(ctx context.Context, completion domain.Completion, idempotencyKey string) (ledger stats.Ledger, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return stats.Ledger{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
			err = classify(err)
		}
	}()

	if err = setTenant(ctx, tx, completion.TenantID); err != nil {
		return stats.Ledger{}, err
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO user_stats (tenant_id, user_id) VALUES ($1, $2) ON CONFLICT (tenant_id, user_id) DO NOTHING`,
		completion.TenantID, completion.UserID,
	); err != nil {
		return stats.Ledger{}, err
	}

	current, err := loadLedger(ctx, tx, completion.TenantID, completion.UserID, true)
	if err != nil {
		return stats.Ledger{}, err
	}

	next, err := stats.RecordCompletion(current, completion.Event())
	if err != nil {
		return stats.Ledger{}, err
	}
	day, _ := next.Day(completion.CompletedOn)

	if _, err = tx.Exec(ctx,
		`INSERT INTO daily_stats (tenant_id, user_id, stat_date, workouts_completed, total_duration_min, total_calories)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (tenant_id, user_id, stat_date) DO UPDATE
        SET workouts_completed = EXCLUDED.workouts_completed,
            total_duration_min = EXCLUDED.total_duration_min,
            total_calories = EXCLUDED.total_calories`,
		completion.TenantID, completion.UserID, day.Date.Time(), day.WorkoutsCompleted, day.TotalDurationMinutes, day.TotalCalories,
	); err != nil {
		return stats.Ledger{}, err
	}

	if _, err = tx.Exec(ctx,
		`UPDATE user_stats
            SET total_workouts = $3, total_duration_min = $4, total_calories = $5,
                last_workout_date = $6, version = version + 1, updated_at = NOW()
          WHERE tenant_id = $1 AND user_id = $2`,
		completion.TenantID, completion.UserID,
		next.Lifetime.TotalWorkouts, next.Lifetime.TotalDurationMinutes, next.Lifetime.TotalCalories,
		next.LastWorkoutDate.Time(),
	); err != nil {
		return stats.Ledger{}, err
	}

	exercises, err := json.Marshal(completion.Exercises)
	if err != nil {
		return stats.Ledger{}, err
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO workout_completions (completion_id, tenant_id, user_id, workout_id, workout_name, duration_min, calories, exercises, completed_at, completed_on, source, idempotency_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		completion.ID,
		completion.TenantID,
		completion.UserID,
		completion.WorkoutID,
		completion.WorkoutName,
		completion.DurationMinutes,
		completion.Calories,
		exercises,
		completion.CompletedAt,
		completion.CompletedOn.Time(),
		completion.Source,
		nullIfEmpty(idempotencyKey),
	); err != nil {
		return stats.Ledger{}, err
	}

	if err = r.insertOutbox(ctx, tx, completion, events.TypeWorkoutCompleted, events.WorkoutCompleted{
		CompletionID:    completion.ID,
		TenantID:        completion.TenantID,
		UserID:          completion.UserID,
		WorkoutID:       completion.WorkoutID,
		WorkoutName:     completion.WorkoutName,
		DurationMinutes: completion.DurationMinutes,
		Calories:        completion.Calories,
		Exercises:       completion.Exercises,
		CompletedAt:     completion.CompletedAt,
		CompletedOn:     completion.CompletedOn.String(),
	}); err != nil {
		return stats.Ledger{}, err
	}

	if err = r.insertOutbox(ctx, tx, completion, events.TypeStatsUpdated, events.StatsUpdated{
		TenantID:             completion.TenantID,
		UserID:               completion.UserID,
		Date:                 day.Date.String(),
		DayWorkouts:          day.WorkoutsCompleted,
		TotalWorkouts:        next.Lifetime.TotalWorkouts,
		TotalDurationMinutes: next.Lifetime.TotalDurationMinutes,
		TotalCalories:        next.Lifetime.TotalCalories,
		LastWorkoutDate:      next.LastWorkoutDate.String(),
		OccurredAt:           completion.CompletedAt,
	}); err != nil {
		return stats.Ledger{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return stats.Ledger{}, err
	}
	observability.RecordCompletionPersisted(completion.CompletedAt)
	return next, nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, completion domain.Completion, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		completion.TenantID,
		"workout_completion",
		completion.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(completion),
		body,
		completion.ID+":"+eventType,
	)
	return err
}

// FindByIdempotency returns the completion previously recorded under the key.
func (r *Repository) FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*domain.Completion, error) {
	if idempotencyKey == "" {
		return nil, nil
	}

	var found *domain.Completion
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, selectCompletion+` WHERE tenant_id=$1 AND user_id=$2 AND idempotency_key=$3`, tenantID, userID, idempotencyKey)
		c, err := scanCompletion(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &c
		return nil
	})
	return found, err
}

// LoadLedger hydrates the user's ledger from the daily rows.
func (r *Repository) LoadLedger(ctx context.Context, tenantID, userID string) (stats.Ledger, error) {
	var ledger stats.Ledger
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		ledger, err = loadLedger(ctx, tx, tenantID, userID, false)
		return err
	})
	return ledger, err
}

// ListCompletions returns workout history newest first.
func (r *Repository) ListCompletions(ctx context.Context, tenantID, userID string, q domain.HistoryQuery) ([]domain.Completion, *domain.Cursor, error) {
	args := []interface{}{tenantID, userID, q.Limit}
	query := selectCompletion + ` WHERE tenant_id=$1 AND user_id=$2`
	if q.From != "" {
		args = append(args, q.From.String())
		query += fmt.Sprintf(` AND completed_on >= $%d::date`, len(args))
	}
	if q.To != "" {
		args = append(args, q.To.String())
		query += fmt.Sprintf(` AND completed_on <= $%d::date`, len(args))
	}
	if q.Cursor != nil {
		args = append(args, q.Cursor.CompletedAt, q.Cursor.ID)
		query += fmt.Sprintf(` AND (completed_at, completion_id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	query += ` ORDER BY completed_at DESC, completion_id DESC LIMIT $3`

	results := make([]domain.Completion, 0, q.Limit)
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			c, err := scanCompletion(rows)
			if err != nil {
				return err
			}
			results = append(results, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == q.Limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CompletedAt: last.CompletedAt, ID: last.ID}
	}
	return results, next, nil
}

// ExerciseCounts tallies exercise names across the user's stored completions.
func (r *Repository) ExerciseCounts(ctx context.Context, tenantID, userID string) (map[string]int, error) {
	counts := make(map[string]int)
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT exercise, COUNT(*)
               FROM workout_completions, jsonb_array_elements_text(exercises) AS exercise
              WHERE tenant_id=$1 AND user_id=$2
              GROUP BY exercise`,
			tenantID, userID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				name string
				n    int
			)
			if err := rows.Scan(&name, &n); err != nil {
				return err
			}
			counts[name] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *Repository) withTenant(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := setTenant(ctx, tx, tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func setTenant(ctx context.Context, tx pgx.Tx, tenantID string) error {
	_, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID)
	return err
}

// loadLedger reads the totals row and the daily rows, and checks that they
// agree. forUpdate locks the totals row for the rest of the transaction.
func loadLedger(ctx context.Context, tx pgx.Tx, tenantID, userID string, forUpdate bool) (stats.Ledger, error) {
	query := `SELECT total_workouts, total_duration_min, total_calories, last_workout_date
                FROM user_stats WHERE tenant_id=$1 AND user_id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		stored      stats.Lifetime
		lastWorkout *time.Time
	)
	err := tx.QueryRow(ctx, query, tenantID, userID).
		Scan(&stored.TotalWorkouts, &stored.TotalDurationMinutes, &stored.TotalCalories, &lastWorkout)
	if errors.Is(err, pgx.ErrNoRows) {
		return stats.Ledger{}, domain.ErrLedgerNotFound
	}
	if err != nil {
		return stats.Ledger{}, err
	}

	ledger, err := loadDailyStats(ctx, tx, tenantID, userID, lastWorkout)
	if err != nil {
		return stats.Ledger{}, err
	}
	ledger.Lifetime = stored
	if err := stats.Verify(ledger); err != nil {
		return stats.Ledger{}, fmt.Errorf("%w: user %s: %v", domain.ErrLedgerCorrupt, userID, err)
	}
	return ledger, nil
}

func loadDailyStats(ctx context.Context, tx pgx.Tx, tenantID, userID string, lastWorkout *time.Time) (stats.Ledger, error) {
	rows, err := tx.Query(ctx,
		`SELECT stat_date, workouts_completed, total_duration_min, total_calories
           FROM daily_stats WHERE tenant_id=$1 AND user_id=$2 ORDER BY stat_date`,
		tenantID, userID,
	)
	if err != nil {
		return stats.Ledger{}, err
	}
	defer rows.Close()

	entries := make([]stats.DailyStat, 0)
	for rows.Next() {
		var (
			date  time.Time
			entry stats.DailyStat
		)
		if err := rows.Scan(&date, &entry.WorkoutsCompleted, &entry.TotalDurationMinutes, &entry.TotalCalories); err != nil {
			return stats.Ledger{}, err
		}
		entry.Date = stats.DateOf(date)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return stats.Ledger{}, err
	}

	var last *stats.Date
	if lastWorkout != nil {
		d := stats.DateOf(*lastWorkout)
		last = &d
	}
	return stats.Rebuild(userID, entries, last), nil
}

const selectCompletion = `SELECT completion_id, tenant_id, user_id, workout_id, workout_name, duration_min, calories, exercises, completed_at, completed_on, source
        FROM workout_completions`

func scanCompletion(row pgx.Row) (domain.Completion, error) {
	var (
		c         domain.Completion
		exercises []byte
		on        time.Time
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.UserID, &c.WorkoutID, &c.WorkoutName, &c.DurationMinutes, &c.Calories, &exercises, &c.CompletedAt, &on, &c.Source); err != nil {
		return domain.Completion{}, err
	}
	if err := json.Unmarshal(exercises, &c.Exercises); err != nil {
		return domain.Completion{}, fmt.Errorf("decode exercises for %s: %w", c.ID, err)
	}
	c.CompletedOn = stats.DateOf(on)
	return c, nil
}

// classify maps retryable and constraint errors onto domain errors.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", domain.ErrConcurrentModification, pgErr.Message)
	case codeUniqueViolation:
		if pgErr.ConstraintName == "workout_completions_idempotency_idx" {
			return domain.ErrDuplicateCompletion
		}
	}
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.Completion) string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeWorkoutCompleted: {
		Topic:         "workout_events",
		SchemaSubject: "workout_events-value",
		PartitionKeyFn: func(c domain.Completion) string {
			return c.TenantID + ":" + c.UserID
		},
	},
	events.TypeStatsUpdated: {
		Topic:         "stats_updates",
		SchemaSubject: "stats_updates-value",
		PartitionKeyFn: func(c domain.Completion) string {
			return c.UserID
		},
	},
}
