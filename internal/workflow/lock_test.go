package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meetsum/internal/apperr"
)

type fakeLockStore struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func (f *fakeLockStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeLockStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[key] != value {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	release, err := l.Acquire(ctx, "s1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "s1", time.Minute); !errors.Is(err, apperr.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	if other, err := l.Acquire(ctx, "s2", time.Minute); err != nil {
		t.Fatalf("independent key should lock: %v", err)
	} else {
		other()
	}
	release()
	release()
	again, err := l.Acquire(ctx, "s1", time.Minute)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again()
}

func TestRedisLocker(t *testing.T) {
	store := &fakeLockStore{values: map[string]string{}}
	l := newRedisLocker(store, nil)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "s1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, ok := store.values[redisLockPrefix+"s1"]; !ok {
		t.Fatalf("lock key not written")
	}
	if _, err := l.Acquire(ctx, "s1", time.Minute); !errors.Is(err, apperr.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}

	// Simulate expiry and takeover by another holder: the stale release must not free it.
	store.values[redisLockPrefix+"s1"] = "someone-else"
	release()
	if store.values[redisLockPrefix+"s1"] != "someone-else" {
		t.Fatalf("stale release removed a foreign lock")
	}

	store.err = errors.New("connection refused")
	if _, err := l.Acquire(ctx, "s2", time.Minute); err == nil || errors.Is(err, apperr.ErrBusy) {
		t.Fatalf("expected store error, got %v", err)
	}
}
