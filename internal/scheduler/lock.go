package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ComboLock prevents the same (date, base_url, channel) combination from
// running twice at once: a distributed mutex over redis.Client when
// REDIS_ADDR is set, falling back to an in-memory set otherwise, so a
// single-process deployment needs no Redis at all.
type ComboLock interface {
	TryAcquire(key string) bool
	Release(key string)
}

// memoryLock is the in-process RUNNING_KEYS set.
type memoryLock struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewMemoryLock builds a ComboLock with no external dependency.
func NewMemoryLock() ComboLock {
	return &memoryLock{keys: make(map[string]struct{})}
}

func (l *memoryLock) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, running := l.keys[key]; running {
		return false
	}
	l.keys[key] = struct{}{}
	return true
}

func (l *memoryLock) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, key)
}

// redisLock backs the in-flight key-set with a Redis SET NX, so multiple
// scheduler processes sharing one database don't double-start a
// combination.
type redisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock builds a ComboLock backed by Redis at addr.
func NewRedisLock(addr string) ComboLock {
	return &redisLock{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    30 * time.Minute,
	}
}

func (l *redisLock) TryAcquire(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := l.client.SetNX(ctx, "combo_lock:"+key, "1", l.ttl).Result()
	if err != nil {
		// Redis unavailable: fail open rather than stall capture entirely.
		return true
	}
	return ok
}

func (l *redisLock) Release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l.client.Del(ctx, "combo_lock:"+key)
}
