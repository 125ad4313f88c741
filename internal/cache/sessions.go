package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/workoutstats/internal/domain"
	"example.com/workoutstats/internal/session"
)

// SessionStore keeps each user's in-progress workout in Redis. Entries expire
// after ttl so abandoned workouts do not linger.
type SessionStore struct {
	client commander
	ttl    time.Duration
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client commander, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(tenantID, userID string) string {
	return fmt.Sprintf("session:active:%s:%s", tenantID, userID)
}

// Load returns nil when the user has no workout in progress.
func (s *SessionStore) Load(ctx context.Context, tenantID, userID string) (*session.ActiveWorkout, error) {
	return decodeSession(s.client.Get(ctx, sessionKey(tenantID, userID)).Bytes())
}

// Create stores workout only if the user has none in progress.
func (s *SessionStore) Create(ctx context.Context, tenantID, userID string, workout session.ActiveWorkout) (bool, error) {
	body, err := json.Marshal(workout)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, sessionKey(tenantID, userID), body, s.ttl).Result()
}

// Update applies mutate to the in-progress workout while holding the user's
// session lock. It returns nil when there is no workout to update.
func (s *SessionStore) Update(ctx context.Context, tenantID, userID string, mutate func(session.ActiveWorkout) (session.ActiveWorkout, error)) (*session.ActiveWorkout, error) {
	release, err := s.lock(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.Load(ctx, tenantID, userID)
	if err != nil || current == nil {
		return nil, err
	}
	next, err := mutate(*current)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, sessionKey(tenantID, userID), body, s.ttl).Err(); err != nil {
		return nil, err
	}
	return &next, nil
}

// Take removes and returns the in-progress workout. Of several concurrent
// callers at most one receives it.
func (s *SessionStore) Take(ctx context.Context, tenantID, userID string) (*session.ActiveWorkout, error) {
	release, err := s.lock(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer release()
	return decodeSession(s.client.GetDel(ctx, sessionKey(tenantID, userID)).Bytes())
}

// lock serialises Update and Take so a set written after a finish cannot
// bring the session back.
func (s *SessionStore) lock(ctx context.Context, tenantID, userID string) (func(), error) {
	release, err := acquire(ctx, s.client, sessionKey(tenantID, userID)+":lock")
	if errors.Is(err, ErrLockTimeout) {
		return nil, domain.ErrSessionBusy
	}
	return release, err
}

func decodeSession(raw []byte, err error) (*session.ActiveWorkout, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var workout session.ActiveWorkout
	if err := json.Unmarshal(raw, &workout); err != nil {
		return nil, fmt.Errorf("decode active session: %w", err)
	}
	return &workout, nil
}

// MemorySessionStore is the in-process fallback used without Redis. Every
// operation runs under one mutex.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]session.ActiveWorkout
}

// NewMemorySessionStore constructs an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]session.ActiveWorkout)}
}

// Load implements domain.SessionStore.
func (m *MemorySessionStore) Load(_ context.Context, tenantID, userID string) (*session.ActiveWorkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	workout, ok := m.sessions[sessionKey(tenantID, userID)]
	if !ok {
		return nil, nil
	}
	return &workout, nil
}

// Create implements domain.SessionStore.
func (m *MemorySessionStore) Create(_ context.Context, tenantID, userID string, workout session.ActiveWorkout) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey(tenantID, userID)
	if _, exists := m.sessions[key]; exists {
		return false, nil
	}
	m.sessions[key] = workout
	return true, nil
}

// Update implements domain.SessionStore.
func (m *MemorySessionStore) Update(_ context.Context, tenantID, userID string, mutate func(session.ActiveWorkout) (session.ActiveWorkout, error)) (*session.ActiveWorkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey(tenantID, userID)
	current, ok := m.sessions[key]
	if !ok {
		return nil, nil
	}
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	m.sessions[key] = next
	return &next, nil
}

// Take implements domain.SessionStore.
func (m *MemorySessionStore) Take(_ context.Context, tenantID, userID string) (*session.ActiveWorkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey(tenantID, userID)
	workout, ok := m.sessions[key]
	if !ok {
		return nil, nil
	}
	delete(m.sessions, key)
	return &workout, nil
}
