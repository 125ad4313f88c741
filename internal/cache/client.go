// Package cache holds Redis-backed stores for ledger snapshots and in-progress
// workouts, plus in-memory fallbacks used when Redis is not configured.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// commander is the subset of the go-redis client the stores use.
type commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewRedisClient connects to Redis and logs whether the server answered a ping.
// A failed ping is not fatal: stores degrade to cache misses.
func NewRedisClient(ctx context.Context, addr, password string, db int) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis ping failed", "addr", addr, "error", err)
	} else {
		slog.Info("connected to redis", "addr", addr)
	}
	return client
}
