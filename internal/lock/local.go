package lock

import (
	"context"
	"sync"
)

// Local is an in-process Locker. Each key maps to a mutex that lives only
// while someone holds or waits for it.
type Local struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*keyLock)}
}

// WithLock acquires keys in ascending order, runs fn and releases them.
// Waiting for a key gives up when ctx is done.
func (l *Local) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilLockFn
	}
	ordered, err := orderedKeys(keys)
	if err != nil {
		return err
	}

	held := make([]string, 0, len(ordered))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}()

	for _, key := range ordered {
		if err := l.acquire(ctx, key); err != nil {
			return err
		}
		held = append(held, key)
	}

	return fn(ctx)
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, kl)
		return ctx.Err()
	}
}

func (l *Local) release(key string) {
	l.mu.Lock()
	kl := l.locks[key]
	l.mu.Unlock()

	<-kl.ch
	l.unref(key, kl)
}

func (l *Local) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
