// Package memory provides an in-process LedgerStore for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"example.com/workoutstats/internal/domain"
	"example.com/workoutstats/internal/observability"
	"example.com/workoutstats/internal/stats"
)

// Store keeps ledgers and completion history in memory. Writers for the same
// user are serialised by a per-user mutex; different users never contend.
type Store struct {
	mu          sync.RWMutex
	userLocks   map[string]*sync.Mutex
	ledgers     map[string]stats.Ledger
	completions map[string][]domain.Completion
	idempotency map[string]domain.Completion
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		userLocks:   make(map[string]*sync.Mutex),
		ledgers:     make(map[string]stats.Ledger),
		completions: make(map[string][]domain.Completion),
		idempotency: make(map[string]domain.Completion),
	}
}

func userKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.userLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[key] = lock
	}
	return lock
}

// ApplyCompletion folds the completion into the user's ledger while holding the user's lock.
func (s *Store) ApplyCompletion(ctx context.Context, completion domain.Completion, idempotencyKey string) (stats.Ledger, error) {
	key := userKey(completion.TenantID, completion.UserID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return stats.Ledger{}, err
	}

	s.mu.RLock()
	_, replay := s.idempotency[key+"#"+idempotencyKey]
	current, ok := s.ledgers[key]
	s.mu.RUnlock()

	if idempotencyKey != "" && replay {
		return stats.Ledger{}, domain.ErrDuplicateCompletion
	}
	if !ok {
		current = stats.NewLedger(completion.UserID)
	}

	next, err := stats.RecordCompletion(current, completion.Event())
	if err != nil {
		return stats.Ledger{}, err
	}

	s.mu.Lock()
	s.ledgers[key] = next
	s.completions[key] = append(s.completions[key], completion)
	if idempotencyKey != "" {
		s.idempotency[key+"#"+idempotencyKey] = completion
	}
	s.mu.Unlock()

	observability.RecordCompletionPersisted(completion.CompletedAt)
	return next.Clone(), nil
}

// FindByIdempotency returns the completion recorded under the key, if any.
func (s *Store) FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*domain.Completion, error) {
	if idempotencyKey == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	completion, ok := s.idempotency[userKey(tenantID, userID)+"#"+idempotencyKey]
	if !ok {
		return nil, nil
	}
	return &completion, nil
}

// LoadLedger returns a copy of the user's ledger.
func (s *Store) LoadLedger(ctx context.Context, tenantID, userID string) (stats.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ledger, ok := s.ledgers[userKey(tenantID, userID)]
	if !ok {
		return stats.Ledger{}, domain.ErrLedgerNotFound
	}
	return ledger.Clone(), nil
}

// ListCompletions returns history newest first, continuing after the query cursor.
func (s *Store) ListCompletions(ctx context.Context, tenantID, userID string, query domain.HistoryQuery) ([]domain.Completion, *domain.Cursor, error) {
	s.mu.RLock()
	all := append([]domain.Completion(nil), s.completions[userKey(tenantID, userID)]...)
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CompletedAt.Equal(all[j].CompletedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CompletedAt.After(all[j].CompletedAt)
	})

	limit := query.Limit
	results := make([]domain.Completion, 0, max(limit, 0))
	for _, c := range all {
		if query.Cursor != nil && !before(c, *query.Cursor) {
			continue
		}
		if !query.Includes(c.CompletedOn) {
			continue
		}
		results = append(results, c)
		if limit > 0 && len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CompletedAt: last.CompletedAt, ID: last.ID}
	}
	return results, next, nil
}

// ExerciseCounts tallies exercise names across the user's completions.
func (s *Store) ExerciseCounts(ctx context.Context, tenantID, userID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, c := range s.completions[userKey(tenantID, userID)] {
		for _, name := range c.Exercises {
			counts[name]++
		}
	}
	return counts, nil
}

// before mirrors the SQL row comparison (completed_at, id) < (cursor.completed_at, cursor.id).
func before(c domain.Completion, cursor domain.Cursor) bool {
	if c.CompletedAt.Equal(cursor.CompletedAt) {
		return c.ID < cursor.ID
	}
	return c.CompletedAt.Before(cursor.CompletedAt)
}
