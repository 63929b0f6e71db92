// Package keylock provides per-key mutual exclusion. The registry locks one
// key per space and the session ledger one key per space and per vehicle, so
// unrelated requests never contend.
package keylock

import (
	"context"
	"sync"
)

// Unlock releases a held key. Calling it more than once is a no-op.
type Unlock func()

// Locker hands out exclusive per-key locks. Lock blocks until the key is free
// or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Local is an in-process Locker. Entries are reference counted and dropped
// once no goroutine holds or waits for the key.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

var _ Locker = (*Local)(nil)

// New creates an in-process Locker.
func New() *Local {
	return &Local{entries: make(map[string]*entry)}
}

// Lock acquires key, waiting while another holder has it.
func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.drop(key, e)
		})
	}, nil
}

// Len returns the number of keys currently held or awaited.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Local) drop(key string, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

// LockAll acquires keys in the given order and returns a single Unlock that
// releases them in reverse. If any key cannot be acquired the ones already
// held are released before returning the error.
func LockAll(ctx context.Context, l Locker, keys ...string) (Unlock, error) {
	held := make([]Unlock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	for _, k := range keys {
		u, err := l.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, u)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
