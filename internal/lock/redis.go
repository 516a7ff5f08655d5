package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Options tunes the Redis lock.
type Options struct {
	// Prefix is prepended to every key, e.g. "lock:ledger:".
	Prefix string
	// Expiry bounds how long a crashed holder can block others. Held locks
	// are extended every Expiry/2 while the operation runs.
	Expiry time.Duration
	// Tries is the number of acquisition attempts per key.
	Tries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultOptions suits ledger operations that finish well within a second.
func DefaultOptions() Options {
	return Options{
		Prefix:     "lock:ledger:",
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
	}
}

// Redis is a distributed Locker built on redsync.
type Redis struct {
	rs   *redsync.Redsync
	opts Options
	log  zerolog.Logger
}

func NewRedis(client goredislib.UniversalClient, opts Options, log zerolog.Logger) *Redis {
	return &Redis{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
		log:  log,
	}
}

// WithLock takes one redsync mutex per key in ascending key order and
// releases them in reverse.
func (r *Redis) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilLockFn
	}
	ordered, err := orderedKeys(keys)
	if err != nil {
		return err
	}

	held := make([]*redsync.Mutex, 0, len(ordered))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			if ok, err := held[i].UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
				r.log.Error().Err(err).Str("lock_key", held[i].Name()).Bool("unlock_ok", ok).Msg("Failed to release lock")
			}
		}
	}()

	for _, key := range ordered {
		m := r.rs.NewMutex(r.opts.Prefix+key,
			redsync.WithExpiry(r.opts.Expiry),
			redsync.WithTries(r.opts.Tries),
			redsync.WithRetryDelay(r.opts.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("acquire lock %s: %w: %v", key, ErrLockBusy, err)
		}
		held = append(held, m)
	}

	lockCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := r.keepAlive(lockCtx, cancel, held)
	err = fn(lockCtx)
	stop()

	if cause := context.Cause(lockCtx); err != nil && errors.Is(cause, ErrLockLost) {
		return fmt.Errorf("%w: %v", cause, err)
	}
	return err
}

// keepAlive extends every held mutex until the returned stop func is called.
// A failed extension cancels ctx with ErrLockLost so fn aborts before its
// writes commit.
func (r *Redis) keepAlive(ctx context.Context, cancel context.CancelCauseFunc, held []*redsync.Mutex) (stop func()) {
	interval := r.opts.Expiry / 2
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, m := range held {
					if ok, err := m.ExtendContext(ctx); !ok || err != nil {
						r.log.Error().Err(err).Str("lock_key", m.Name()).Msg("Failed to extend lock")
						cancel(fmt.Errorf("%w: %s", ErrLockLost, m.Name()))
						return
					}
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

var (
	// ErrLockBusy is returned when a key stays held for every retry.
	ErrLockBusy = errors.New("lock is held by another operation")
	// ErrLockLost is returned when a held lock could not be extended.
	ErrLockLost = errors.New("lock was lost while the operation ran")
)
