package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when the lock could not be taken before the context ended.
var ErrNotAcquired = errors.New("booking lock not acquired")

// Release gives the lock back. Calling it more than once is a no-op.
type Release func()

// Locker serializes read-modify-write cycles per booking.
type Locker interface {
	// Acquire blocks until the booking's lock is held or ctx is done.
	Acquire(ctx context.Context, bookingID int64) (Release, error)
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker. Different bookings never contend.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*keyedEntry
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[int64]*keyedEntry)}
}

// Acquire implements Locker.
func (k *KeyedMutex) Acquire(ctx context.Context, bookingID int64) (Release, error) {
	k.mu.Lock()
	e, ok := k.entries[bookingID]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.entries[bookingID] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.unref(bookingID, e)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.unref(bookingID, e)
		})
	}, nil
}

func (k *KeyedMutex) unref(bookingID int64, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, bookingID)
	}
}

// size returns the number of bookings with holders or waiters.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
