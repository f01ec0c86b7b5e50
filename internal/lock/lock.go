// Package lock provides the short lease the dispatcher holds while scanning.
// The store's conditional claim is what prevents double dispatch; the lease
// only keeps replicas from scanning the same batch at the same time.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when another holder owns the key
var ErrNotObtained = errors.New("lock not obtained")

type Lease interface {
	Release(ctx context.Context) error
}

type Locker interface {
	// Obtain takes key for ttl without waiting
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// RedisLocker leases keys in redis so every replica sees the same holder
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return redisLease{lock: lock}, nil
}

type redisLease struct {
	lock *redislock.Lock
}

func (l redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// LocalLocker leases keys within one process
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]*localLease
	clock func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]*localLease), clock: time.Now}
}

func (l *LocalLocker) Obtain(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, ErrNotObtained
	}

	lease := &localLease{owner: l, key: key, expires: now.Add(ttl)}
	l.held[key] = lease
	return lease, nil
}

type localLease struct {
	owner   *LocalLocker
	key     string
	expires time.Time
}

func (l *localLease) Release(_ context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()

	// an expired lease may already belong to someone else
	if cur, ok := l.owner.held[l.key]; ok && cur == l {
		delete(l.owner.held, l.key)
	}
	return nil
}
