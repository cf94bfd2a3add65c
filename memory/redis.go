package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one session's memory in a Redis hash so another process
// (a dashboard, the relay) can read it. The hash lives only as long as the
// session: Clear deletes it and every write refreshes its TTL.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, sessionID string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisStore{
		client: client,
		key:    "memory:" + sessionID,
		ttl:    ttl,
	}
}

// Key returns the Redis hash key backing this store.
func (s *RedisStore) Key() string { return s.key }

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key, key, value)
	pipe.Expire(ctx, s.key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set memory %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Snapshot(ctx context.Context) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read memory: %w", err)
	}
	return m, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis clear memory: %w", err)
	}
	return nil
}
