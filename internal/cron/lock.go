package cron

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/jobrouter/pkg/redis"
)

const defaultLockTTL = 25 * time.Hour

// Lock coordinates exclusive cron cycles across workers.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NewRedisLock guards cycles with a SETNX key shared by every worker.
func NewRedisLock(store redis.LockStore, key string, ttl time.Duration) (Lock, error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	lock, err := redis.NewLock(store, key, ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// LocalLock serializes cycles inside one process. Used when redis is not
// configured, which is only safe with a single worker.
type LocalLock struct {
	mu sync.Mutex
}

func (l *LocalLock) Acquire(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

func (l *LocalLock) Release(context.Context) error {
	l.mu.Unlock()
	return nil
}
