package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/workoutstats/internal/stats"
)

// LedgerCache stores ledger snapshots as JSON. Derived figures are never
// cached; they are recomputed from the snapshot on every read.
//
// Ledgers only grow, so a snapshot with more recorded workouts is always the
// newer one. Writers go through Set, which never replaces a newer snapshot;
// readers go through Fill, which never replaces anything.
type LedgerCache struct {
	client commander
	ttl    time.Duration
}

// NewLedgerCache constructs a LedgerCache with the given entry TTL.
func NewLedgerCache(client commander, ttl time.Duration) *LedgerCache {
	return &LedgerCache{client: client, ttl: ttl}
}

// LedgerKey is the Redis key holding a user's ledger snapshot.
func LedgerKey(tenantID, userID string) string {
	return fmt.Sprintf("stats:ledger:%s:%s", tenantID, userID)
}

// Get returns the cached ledger, reporting false on a miss. A snapshot that
// fails verification is dropped and reported as a miss with an error.
func (c *LedgerCache) Get(ctx context.Context, tenantID, userID string) (stats.Ledger, bool, error) {
	key := LedgerKey(tenantID, userID)
	ledger, ok, err := c.read(ctx, key)
	if err != nil {
		var corrupt *corruptSnapshotError
		if errors.As(err, &corrupt) {
			_ = c.client.Del(ctx, key).Err()
		}
		return stats.Ledger{}, false, err
	}
	return ledger, ok, nil
}

// Set stores the snapshot unless the cached one has recorded more workouts.
func (c *LedgerCache) Set(ctx context.Context, tenantID, userID string, ledger stats.Ledger) error {
	key := LedgerKey(tenantID, userID)
	release, err := acquire(ctx, c.client, key+":lock")
	if err != nil {
		return err
	}
	defer release()

	current, ok, err := c.read(ctx, key)
	var corrupt *corruptSnapshotError
	if err != nil && !errors.As(err, &corrupt) {
		return err
	}
	if ok && current.Lifetime.TotalWorkouts > ledger.Lifetime.TotalWorkouts {
		return nil
	}
	body, err := json.Marshal(ledger)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, body, c.ttl).Err()
}

// Fill stores the snapshot only when nothing is cached for the user.
func (c *LedgerCache) Fill(ctx context.Context, tenantID, userID string, ledger stats.Ledger) error {
	body, err := json.Marshal(ledger)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, LedgerKey(tenantID, userID), body, c.ttl).Err()
}

// Invalidate drops the snapshot so the next read goes to the store.
func (c *LedgerCache) Invalidate(ctx context.Context, tenantID, userID string) error {
	return c.client.Del(ctx, LedgerKey(tenantID, userID)).Err()
}

// InvalidateOlder drops the snapshot if it has recorded fewer than totalWorkouts.
func (c *LedgerCache) InvalidateOlder(ctx context.Context, tenantID, userID string, totalWorkouts int) error {
	key := LedgerKey(tenantID, userID)
	release, err := acquire(ctx, c.client, key+":lock")
	if err != nil {
		return err
	}
	defer release()

	current, ok, err := c.read(ctx, key)
	var corrupt *corruptSnapshotError
	if err != nil && !errors.As(err, &corrupt) {
		return err
	}
	if ok && current.Lifetime.TotalWorkouts >= totalWorkouts {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

type corruptSnapshotError struct {
	err error
}

func (e *corruptSnapshotError) Error() string { return "cached ledger rejected: " + e.err.Error() }

func (e *corruptSnapshotError) Unwrap() error { return e.err }

func (c *LedgerCache) read(ctx context.Context, key string) (stats.Ledger, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return stats.Ledger{}, false, nil
	}
	if err != nil {
		return stats.Ledger{}, false, err
	}

	var ledger stats.Ledger
	if err := json.Unmarshal(raw, &ledger); err != nil {
		return stats.Ledger{}, false, &corruptSnapshotError{err: fmt.Errorf("decode cached ledger: %w", err)}
	}
	if err := stats.Verify(ledger); err != nil {
		return stats.Ledger{}, false, &corruptSnapshotError{err: err}
	}
	return ledger, true, nil
}
