package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"meetsum/internal/apperr"
	"meetsum/internal/redis"
)

// Locker guarantees a single outstanding call per key, also across replicas
// when backed by redis. Acquire returns ErrBusy when the key is held.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() Locker {
	return &memoryLocker{held: make(map[string]struct{})}
}

func (l *memoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, apperr.ErrBusy
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

type lockStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

const redisLockPrefix = "meetsum:lock:"

type redisLocker struct {
	store  lockStore
	logger *slog.Logger
}

// NewRedisLocker stores locks as SET NX PX keys holding a per-holder token so a
// late release never frees someone else's lock.
func NewRedisLocker(client *redis.Client, logger *slog.Logger) Locker {
	return newRedisLocker(client, logger)
}

func newRedisLocker(store lockStore, logger *slog.Logger) *redisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisLocker{store: store, logger: logger.With("component", "workflow.RedisLocker")}
}

func (l *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	fullKey := redisLockPrefix + key
	ok, err := l.store.SetNX(ctx, fullKey, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, apperr.ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if _, err := l.store.CompareAndDelete(releaseCtx, fullKey, token); err != nil {
				l.logger.Warn("release lock failed", "key", key, "err", err)
			}
		})
	}, nil
}
