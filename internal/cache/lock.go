package cache

import (
	"context"
	"errors"
	"time"
)

// ErrLockTimeout is returned when another holder kept a lock past the wait budget.
var ErrLockTimeout = errors.New("cache lock not acquired")

const (
	lockTTL  = 5 * time.Second
	lockWait = 2 * time.Second
	lockPoll = 10 * time.Millisecond
)

// acquire takes a short-lived lock on key with SET NX. The lock expires on its
// own if the holder dies before releasing it.
func acquire(ctx context.Context, client commander, key string) (func(), error) {
	deadline := time.Now().Add(lockWait)
	for {
		ok, err := client.SetNX(ctx, key, "1", lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { _ = client.Del(context.WithoutCancel(ctx), key).Err() }, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPoll):
		}
	}
}
