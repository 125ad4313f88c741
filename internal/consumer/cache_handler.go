package consumer

import (
	"context"

	"example.com/workoutstats/internal/events"
)

// Invalidator drops a cached ledger snapshot that trails a published total.
type Invalidator interface {
	InvalidateOlder(ctx context.Context, tenantID, userID string, totalWorkouts int) error
}

// CacheHandler keeps ledger snapshots in step with writes made by other instances.
type CacheHandler struct {
	cache Invalidator
}

// NewCacheHandler constructs a CacheHandler.
func NewCacheHandler(cache Invalidator) *CacheHandler {
	return &CacheHandler{cache: cache}
}

// WorkoutCompleted is a no-op: the stats.updated event that follows every
// completion carries the total needed to judge the snapshot.
func (h *CacheHandler) WorkoutCompleted(context.Context, Envelope, events.WorkoutCompleted) error {
	return nil
}

// StatsUpdated drops the user's snapshot unless it already includes evt.
func (h *CacheHandler) StatsUpdated(ctx context.Context, _ Envelope, evt events.StatsUpdated) error {
	if err := h.cache.InvalidateOlder(ctx, evt.TenantID, evt.UserID, evt.TotalWorkouts); err != nil {
		return err
	}
	invalidationCounter.Inc()
	return nil
}
