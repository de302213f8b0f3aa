package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockKey is shared by every instance sweeping the same ledger.
const DefaultLockKey = "reservation:sweeper:lock"

const defaultLockTTL = 50 * time.Second

// Lock makes sure only one instance sweeps at a time.  Sweeps are
// idempotent, so losing the lock only saves work.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NoopLock always succeeds.  It is used when Redis is not configured.
type NoopLock struct{}

func (NoopLock) Acquire(context.Context) (bool, error) { return true, nil }
func (NoopLock) Release(context.Context) error         { return nil }

// lockStore is the subset of Redis the lock needs.
type lockStore interface {
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

type redisStore struct{ rdb redis.Cmdable }

func (s redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s redisStore) Get(ctx context.Context, key string) (string, error) {
	return s.rdb.Get(ctx, key).Result()
}

func (s redisStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// RedisLock is a SETNX lock with a TTL and a random owner token.  The TTL
// should be shorter than the sweep interval so a crashed holder cannot
// block more than one cycle.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	owner string
}

// NewRedisLock builds a lock on rdb.  An empty key selects DefaultLockKey.
func NewRedisLock(rdb redis.Cmdable, key string, ttl time.Duration) (*RedisLock, error) {
	if rdb == nil {
		return nil, errors.New("redis client required for sweeper lock")
	}
	return newRedisLock(redisStore{rdb: rdb}, key, ttl), nil
}

func newRedisLock(store lockStore, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}
}

// Acquire tries to take the lock for one TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release deletes the key only while this instance still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	value, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			l.owner = ""
			return nil
		}
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != l.owner {
		l.owner = ""
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	l.owner = ""
	return nil
}
