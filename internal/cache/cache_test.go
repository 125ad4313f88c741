package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"example.com/workoutstats/internal/session"
	"example.com/workoutstats/internal/stats"
)

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(key, value, expiration)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) store(key string, value interface{}, expiration time.Duration) {
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = expiration
}

func (f *fakeRedis) GetDel(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	delete(f.values, key)
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.store(key, value, expiration)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			n++
		}
		delete(f.values, k)
	}
	return redis.NewIntResult(n, nil)
}

func TestLedgerCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	cache := NewLedgerCache(client, time.Minute)

	_, ok, err := cache.Get(ctx, "tenant", "user-1")
	require.NoError(t, err)
	require.False(t, ok)

	ledger, err := stats.RecordCompletion(stats.NewLedger("user-1"), stats.CompletionEvent{
		UserID:          "user-1",
		DurationMinutes: 30,
		CompletedAtDate: "2024-06-10",
	})
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "tenant", "user-1", ledger))
	require.Equal(t, time.Minute, client.ttls[LedgerKey("tenant", "user-1")])

	got, ok, err := cache.Get(ctx, "tenant", "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ledger, got)

	require.NoError(t, cache.Invalidate(ctx, "tenant", "user-1"))
	_, ok, err = cache.Get(ctx, "tenant", "user-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLedgerCacheSurfacesErrors(t *testing.T) {
	client := newFakeRedis()
	client.getErr = errors.New("connection refused")
	cache := NewLedgerCache(client, time.Minute)

	_, ok, err := cache.Get(context.Background(), "tenant", "user-1")
	require.Error(t, err)
	require.False(t, ok)
}

func TestLedgerCacheRejectsCorruptEntries(t *testing.T) {
	client := newFakeRedis()
	client.values[LedgerKey("tenant", "user-1")] = "{not json"
	cache := NewLedgerCache(client, time.Minute)

	_, ok, err := cache.Get(context.Background(), "tenant", "user-1")
	require.ErrorContains(t, err, "decode cached ledger")
	require.False(t, ok)
}

func TestLedgerKeyIsTenantScoped(t *testing.T) {
	require.Equal(t, "stats:ledger:acme:u1", LedgerKey("acme", "u1"))
	require.NotEqual(t, LedgerKey("acme", "u1"), LedgerKey("globex", "u1"))
}

func TestLedgerCacheSetKeepsNewerSnapshot(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	cache := NewLedgerCache(client, time.Minute)

	one := ledgerWith(t, 1)
	two := ledgerWith(t, 2)

	require.NoError(t, cache.Set(ctx, "tenant", "user-1", two))
	require.NoError(t, cache.Set(ctx, "tenant", "user-1", one))
	got, ok, err := cache.Get(ctx, "tenant", "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, got.Lifetime.TotalWorkouts)

	require.NoError(t, cache.Fill(ctx, "tenant", "user-1", one))
	got, _, err = cache.Get(ctx, "tenant", "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, got.Lifetime.TotalWorkouts, "fill never replaces a cached snapshot")

	require.NotContains(t, client.values, LedgerKey("tenant", "user-1")+":lock", "lock is released")
}

func TestLedgerCacheInvalidateOlder(t *testing.T) {
	ctx := context.Background()
	cache := NewLedgerCache(newFakeRedis(), time.Minute)
	require.NoError(t, cache.Set(ctx, "tenant", "user-1", ledgerWith(t, 2)))

	require.NoError(t, cache.InvalidateOlder(ctx, "tenant", "user-1", 2))
	_, ok, err := cache.Get(ctx, "tenant", "user-1")
	require.NoError(t, err)
	require.True(t, ok, "an up-to-date snapshot is kept")

	require.NoError(t, cache.InvalidateOlder(ctx, "tenant", "user-1", 3))
	_, ok, err = cache.Get(ctx, "tenant", "user-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLedgerCacheDropsSnapshotsThatFailVerification(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	ledger := ledgerWith(t, 1)
	ledger.Lifetime.TotalWorkouts = 5
	body, err := json.Marshal(ledger)
	require.NoError(t, err)
	client.values[LedgerKey("tenant", "user-1")] = string(body)

	cache := NewLedgerCache(client, time.Minute)
	_, ok, err := cache.Get(ctx, "tenant", "user-1")
	require.ErrorContains(t, err, "cached ledger rejected")
	require.False(t, ok)
	require.NotContains(t, client.values, LedgerKey("tenant", "user-1"))
}

func TestLockTimesOutWhileHeld(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	client := newFakeRedis()
	client.values["busy:lock"] = "1"

	_, err := acquire(ctx, client, "busy:lock")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func ledgerWith(t *testing.T, workouts int) stats.Ledger {
	t.Helper()
	ledger := stats.NewLedger("user-1")
	for i := 0; i < workouts; i++ {
		var err error
		ledger, err = stats.RecordCompletion(ledger, stats.CompletionEvent{
			UserID:          "user-1",
			DurationMinutes: 20,
			CompletedAtDate: "2024-06-10",
		})
		require.NoError(t, err)
	}
	return ledger
}

type sessionStore interface {
	Load(ctx context.Context, tenantID, userID string) (*session.ActiveWorkout, error)
	Create(ctx context.Context, tenantID, userID string, workout session.ActiveWorkout) (bool, error)
	Update(ctx context.Context, tenantID, userID string, mutate func(session.ActiveWorkout) (session.ActiveWorkout, error)) (*session.ActiveWorkout, error)
	Take(ctx context.Context, tenantID, userID string) (*session.ActiveWorkout, error)
}

func sessionStores() map[string]sessionStore {
	return map[string]sessionStore{
		"redis":  NewSessionStore(newFakeRedis(), time.Hour),
		"memory": NewMemorySessionStore(),
	}
}

func TestSessionStores(t *testing.T) {
	for name, store := range sessionStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := store.Load(ctx, "tenant", "user-1")
			require.NoError(t, err)
			require.Nil(t, got)

			workout := session.Start("w-1", "Leg Day", []session.PlannedExercise{
				{Name: "Squat", Sets: 3},
			}, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC))
			created, err := store.Create(ctx, "tenant", "user-1", workout)
			require.NoError(t, err)
			require.True(t, created)

			created, err = store.Create(ctx, "tenant", "user-1", session.Start("w-2", "", nil, time.Now()))
			require.NoError(t, err)
			require.False(t, created, "an in-progress workout is never replaced")

			got, err = store.Load(ctx, "tenant", "user-1")
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Equal(t, "Leg Day", got.WorkoutName)
			require.Len(t, got.Exercises, 1)

			other, err := store.Load(ctx, "other", "user-1")
			require.NoError(t, err)
			require.Nil(t, other)

			updated, err := store.Update(ctx, "tenant", "user-1", func(w session.ActiveWorkout) (session.ActiveWorkout, error) {
				return session.CompleteSet(w, 0, 1, 5, time.Now())
			})
			require.NoError(t, err)
			require.Equal(t, 1, session.ExerciseProgress(*updated, 0).CompletedSets)

			_, err = store.Update(ctx, "tenant", "user-1", func(w session.ActiveWorkout) (session.ActiveWorkout, error) {
				return session.CompleteSet(w, 4, 1, 5, time.Now())
			})
			require.ErrorIs(t, err, session.ErrUnknownExercise)

			taken, err := store.Take(ctx, "tenant", "user-1")
			require.NoError(t, err)
			require.NotNil(t, taken)
			require.Equal(t, 1, session.ExerciseProgress(*taken, 0).CompletedSets)

			taken, err = store.Take(ctx, "tenant", "user-1")
			require.NoError(t, err)
			require.Nil(t, taken)

			missing, err := store.Update(ctx, "tenant", "user-1", func(w session.ActiveWorkout) (session.ActiveWorkout, error) {
				t.Fatal("mutate called without a session")
				return w, nil
			})
			require.NoError(t, err)
			require.Nil(t, missing)
		})
	}
}

func TestSessionStoresSerialiseUpdates(t *testing.T) {
	for name, store := range sessionStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const sets = 12
			_, err := store.Create(ctx, "tenant", "user-1", session.Start("w", "", []session.PlannedExercise{{Name: "Row", Sets: sets}}, time.Now()))
			require.NoError(t, err)

			var wg sync.WaitGroup
			for n := 1; n <= sets; n++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					_, err := store.Update(ctx, "tenant", "user-1", func(w session.ActiveWorkout) (session.ActiveWorkout, error) {
						return session.CompleteSet(w, 0, n, 10, time.Now())
					})
					require.NoError(t, err)
				}(n)
			}
			wg.Wait()

			got, err := store.Load(ctx, "tenant", "user-1")
			require.NoError(t, err)
			require.Equal(t, sets, session.ExerciseProgress(*got, 0).CompletedSets)
		})
	}
}

func TestSessionStoresHandOutWorkoutOnce(t *testing.T) {
	for name, store := range sessionStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Create(ctx, "tenant", "user-1", session.Start("w", "", nil, time.Now()))
			require.NoError(t, err)

			const callers = 8
			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				taken int
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					w, err := store.Take(ctx, "tenant", "user-1")
					require.NoError(t, err)
					if w != nil {
						mu.Lock()
						taken++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			require.Equal(t, 1, taken)
		})
	}
}
