package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/clover/pkg/locking"
	"github.com/Ramsey-B/clover/pkg/metrics"
)

// ErrLockNotHeld is returned when releasing a lock that expired or was taken over
var ErrLockNotHeld = errors.New("lock not held")

// releaseScript deletes the key only if we still own it
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Locker is a locking.Locker shared by every instance using the same Redis
type Locker struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
	wait      time.Duration
}

var _ locking.Locker = (*Locker)(nil)

// NewLocker creates a distributed locker. Locks expire after ttl if never
// released; Acquire retries for up to wait.
func NewLocker(client *Client, keyPrefix string, ttl, wait time.Duration) *Locker {
	if keyPrefix == "" {
		keyPrefix = "clover:lock:"
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		wait:      wait,
	}
}

// Acquire takes the lock with SET NX, retrying with capped exponential backoff
func (l *Locker) Acquire(ctx context.Context, key string) (locking.Release, error) {
	lockKey := l.keyPrefix + key
	token := uuid.New().String()

	deadline := time.Now().Add(l.wait)
	backoff := 10 * time.Millisecond

	for {
		ok, err := l.client.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			metrics.LockAcquireFailuresTotal.WithLabelValues("redis").Inc()
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			metrics.LockAcquireFailuresTotal.WithLabelValues("redis").Inc()
			return nil, fmt.Errorf("%w: %s", locking.ErrNotAcquired, key)
		}

		select {
		case <-ctx.Done():
			metrics.LockAcquireFailuresTotal.WithLabelValues("redis").Inc()
			return nil, fmt.Errorf("%w: %s: %w", locking.ErrNotAcquired, key, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() { err = l.release(ctx, lockKey, token) })
		return err
	}, nil
}

func (l *Locker) release(ctx context.Context, lockKey, token string) error {
	// a cancelled request context must not leave the key behind until ttl
	ctx = context.WithoutCancel(ctx)

	result, err := releaseScript.Run(ctx, l.client.rdb, []string{lockKey}, token).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", lockKey, err)
	}
	if result == 0 {
		l.client.logger.WithContext(ctx).Warnf("Lock %s expired before release", lockKey)
		return ErrLockNotHeld
	}

	l.client.logger.WithContext(ctx).Debugf("Released lock: %s", lockKey)
	return nil
}
