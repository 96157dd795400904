package claims

import (
	"context"
	"errors"
	"sync"
)

// ErrLockLost is the cancellation cause of a held lock's context when the lock
// was taken away before it was released.
var ErrLockLost = errors.New("claim lock lost")

// Locker provides mutual exclusion keyed by an arbitrary string. Lock blocks
// until the key is free or ctx is done. The returned context is derived from ctx
// and is cancelled with ErrLockLost if the lock stops being held; work done under
// the lock should use it. The returned func releases the key.
type Locker interface {
	Lock(ctx context.Context, key string) (context.Context, func(), error)
}

// KeyedMutex is an in-process Locker. Idle keys are dropped so the map only
// holds addresses with a claim in flight.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock never loses a key once held, so the returned context is ctx itself.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, nil, ctx.Err()
	}

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			<-l.sem
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
