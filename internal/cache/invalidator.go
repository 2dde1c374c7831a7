package cache

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Invalidator drops cached derived artifacts for a subscription.
type Invalidator interface {
	Invalidate(ctx context.Context, token string)
}

// RedisInvalidator deletes the cached subscription config bundle. Failures
// are logged only; a stale cache entry expires on its own TTL.
type RedisInvalidator struct {
	Redis *redis.Client
}

func NewRedisInvalidator(rdb *redis.Client) *RedisInvalidator {
	return &RedisInvalidator{Redis: rdb}
}

func (i *RedisInvalidator) Invalidate(ctx context.Context, token string) {
	key := fmt.Sprintf("subconfig:%s", token)
	if err := i.Redis.Del(ctx, key).Err(); err != nil {
		log.Printf("Failed to invalidate cache for %s: %v", key, err)
	}
}
