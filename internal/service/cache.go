package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// kvCache is the part of Redis the lookup services use. *redis.Client
// satisfies it.
type kvCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}
