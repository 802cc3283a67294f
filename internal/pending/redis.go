package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps drafts as JSON strings under pending:<scope>:<kind>.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore returns a store on rdb. A zero ttl keeps drafts until cleared.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(scope string, kind Kind) string {
	return fmt.Sprintf("pending:%s:%s", scope, kind)
}

func (s *RedisStore) Save(ctx context.Context, tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("pending: marshal draft: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKey(tx.Scope, tx.Kind), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("pending: save draft: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, scope string, kind Kind) (*Transaction, error) {
	val, err := s.rdb.Get(ctx, redisKey(scope, kind)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pending: load draft: %w", err)
	}
	var tx Transaction
	if err := json.Unmarshal([]byte(val), &tx); err != nil {
		return nil, fmt.Errorf("pending: decode draft: %w", err)
	}
	return &tx, nil
}

func (s *RedisStore) Clear(ctx context.Context, scope string, kind Kind) error {
	if err := s.rdb.Del(ctx, redisKey(scope, kind)).Err(); err != nil {
		return fmt.Errorf("pending: clear draft: %w", err)
	}
	return nil
}
