// Package locking serializes mutations of a single participant
package locking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
)

// ErrNotAcquired is returned when a lock could not be taken before the wait expired
var ErrNotAcquired = errors.New("lock not acquired")

// Release gives a held lock back. Calling it more than once is safe.
type Release func(ctx context.Context) error

// Locker hands out exclusive locks by key
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// DomainError maps an Acquire failure onto the domain errors. Losing the
// race for a lock is a concurrent modification; any other failure means the
// lock backend itself is unreachable.
func DomainError(err error) error {
	if errors.Is(err, ErrNotAcquired) {
		return fmt.Errorf("%w: %w", models.ErrConcurrentModification, err)
	}
	return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
}

// ParticipantKey is the lock key for one participant of an org
func ParticipantKey(orgID, participantID string) string {
	return "participant:" + orgID + ":" + participantID
}

// AcquireAll takes every key in lexical order so that two callers locking
// the same pair can never deadlock. Duplicate keys are taken once.
// On failure any lock already held is released.
func AcquireAll(ctx context.Context, locker Locker, keys ...string) (Release, error) {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	held := make([]Release, 0, len(sorted))
	releaseAll := func(ctx context.Context) error {
		var errs []error
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, key := range sorted {
		release, err := locker.Acquire(ctx, key)
		if err != nil {
			_ = releaseAll(ctx)
			return nil, err
		}
		held = append(held, release)
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() { err = releaseAll(ctx) })
		return err
	}, nil
}

// KeyedMutex is an in-process Locker. Waiters give up after the configured wait
// or when their context ends.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
	wait  time.Duration
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*KeyedMutex)(nil)

// NewKeyedMutex creates an in-process locker. A zero wait blocks until ctx ends.
func NewKeyedMutex(wait time.Duration) *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*keyLock),
		wait:  wait,
	}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string) (Release, error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	var timeout <-chan time.Time
	if m.wait > 0 {
		timer := time.NewTimer(m.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, l)
		metrics.LockAcquireFailuresTotal.WithLabelValues("memory").Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
	case <-timeout:
		m.unref(key, l)
		metrics.LockAcquireFailuresTotal.WithLabelValues("memory").Inc()
		return nil, fmt.Errorf("%w: %s: waited %s", ErrNotAcquired, key, m.wait)
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-l.ch
			m.unref(key, l)
		})
		return nil
	}, nil
}

func (m *KeyedMutex) unref(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}
