// Package cache invalidates client-facing caches once a payment commits.
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CartInvalidator drops the cached cart of a scope.
type CartInvalidator interface {
	Invalidate(ctx context.Context, scope string) error
}

// RedisCart keeps carts under cart:<scope>.
type RedisCart struct {
	rdb *redis.Client
}

func NewRedisCart(rdb *redis.Client) *RedisCart {
	return &RedisCart{rdb: rdb}
}

// CartKey is the Redis key of a scope's cart.
func CartKey(scope string) string {
	return fmt.Sprintf("cart:%s", scope)
}

func (c *RedisCart) Invalidate(ctx context.Context, scope string) error {
	if err := c.rdb.Del(ctx, CartKey(scope)).Err(); err != nil {
		return fmt.Errorf("cache: invalidate cart %s: %w", scope, err)
	}
	return nil
}

// NopCart is used when no cart cache is configured.
type NopCart struct{}

func (NopCart) Invalidate(context.Context, string) error { return nil }
