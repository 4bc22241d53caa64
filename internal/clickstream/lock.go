package clickstream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker is the optional fast-path guard in front of the Postgres
// transaction that serializes register_session's counter increment (spec
// §5: "correctness never depends on it — the database transaction is the
// source of truth"). It exists purely to cut contention under heavy
// concurrent registration.
type Locker interface {
	// Lock acquires a short-TTL advisory lock for key, returning an
	// unlock function. A failed acquisition must not block the caller;
	// implementations should return a no-op unlock and a non-nil error
	// instead.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// RedisLocker implements Locker with a SETNX-with-TTL lock, grounded on
// internal/session.Manager's Redis client usage.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := fmt.Sprintf("finetune:lock:%s", key)

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return func() {}, err
	}
	if !ok {
		return func() {}, fmt.Errorf("clickstream: lock %q already held", key)
	}

	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		// Best-effort release; a stale lock simply expires via TTL.
		cur, err := l.client.Get(ctx, redisKey).Result()
		if err == nil && cur == token {
			l.client.Del(ctx, redisKey)
		}
	}
	return unlock, nil
}
