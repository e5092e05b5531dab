package db

import (
	"context"
	"hash/fnv"
	"sync"

	"gorm.io/gorm"
)

// localLocks serializes advisory sections on sqlite, where the database
// itself has no advisory lock primitive. Postgres callers in other processes
// are serialized by pg_advisory_xact_lock instead.
var localLocks sync.Map

// WithAdvisoryLock runs fn inside a transaction while holding an exclusive
// lock derived from key. On postgres the lock is a transaction-scoped
// advisory lock visible to every process sharing the database; on sqlite it
// is an in-process mutex.
func WithAdvisoryLock(ctx context.Context, gdb *gorm.DB, backend Backend, key string, fn func(tx *gorm.DB) error) error {
	if backend == BackendPostgres {
		return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", LockKey(key)).Error; err != nil {
				return err
			}
			return fn(tx)
		})
	}

	muAny, _ := localLocks.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return gdb.WithContext(ctx).Transaction(fn)
}

// LockKey hashes an arbitrary string onto the int64 space postgres advisory
// locks are keyed by.
func LockKey(key string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(key))
	return int64(hasher.Sum64())
}
