package transfer

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// volumeLocks serializes writes per destination volume. Entries are
// reference counted and dropped when unused.
type volumeLocks struct {
	mu    sync.Mutex
	locks map[string]*volumeLock
}

type volumeLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newVolumeLocks() *volumeLocks {
	return &volumeLocks{locks: make(map[string]*volumeLock)}
}

// acquire blocks until key is free or ctx ends. The returned func releases
// the lock.
func (v *volumeLocks) acquire(ctx context.Context, key string) (func(), error) {
	v.mu.Lock()
	lock, ok := v.locks[key]
	if !ok {
		lock = &volumeLock{sem: semaphore.NewWeighted(1)}
		v.locks[key] = lock
	}
	lock.refs++
	v.mu.Unlock()

	if err := lock.sem.Acquire(ctx, 1); err != nil {
		v.unref(key, lock)
		return nil, err
	}
	return func() {
		lock.sem.Release(1)
		v.unref(key, lock)
	}, nil
}

func (v *volumeLocks) unref(key string, lock *volumeLock) {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(v.locks, key)
	}
}

func (v *volumeLocks) size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.locks)
}
