// Package locker provides the per-product lock table the reservation manager
// serializes write operations with. The table is process-local state only:
// it is rebuilt empty on restart and never persisted.
package locker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"reservation-service/internal/models"
)

// ProductLocker hands out one lock per product id, created lazily. Operations
// on different products never contend with each other. Entries are reference
// counted and removed once the last holder or waiter lets go, so the table
// stays bounded by the number of products currently under contention rather
// than growing with every product id ever seen.
type ProductLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewProductLocker creates a lock table with the given acquisition timeout
func NewProductLocker(timeout time.Duration) *ProductLocker {
	return &ProductLocker{
		timeout: timeout,
		locks:   make(map[string]*lockEntry),
	}
}

// Acquire takes the lock for a product, waiting at most the configured
// timeout. On contention past the deadline it returns a BusyError so the
// caller can retry with backoff instead of hanging.
func (l *ProductLocker) Acquire(ctx context.Context, productID string) (release func(), err error) {
	entry := l.ref(productID)

	acquireCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := entry.sem.Acquire(acquireCtx, 1); err != nil {
		l.unref(productID, entry)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NewBusyError(productID)
	}

	return func() {
		entry.sem.Release(1)
		l.unref(productID, entry)
	}, nil
}

// ref pins the entry for a product, creating it on first use
func (l *ProductLocker) ref(productID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[productID]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.locks[productID] = entry
	}
	entry.refs++
	return entry
}

// unref drops one pin and reaps the entry once nobody holds or waits on it.
// A waiter that already pinned the entry keeps it alive, so a later Acquire
// for the same product always converges on the same semaphore.
func (l *ProductLocker) unref(productID string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, productID)
	}
}

// size reports the number of live entries, for tests
func (l *ProductLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
