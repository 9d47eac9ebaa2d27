package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyedMutex(0)
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "k")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				current := atomic.LoadInt32(&maxActive)
				if n <= current || atomic.CompareAndSwapInt32(&maxActive, current, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			assert.NoError(t, release(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Empty(t, m.locks)
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	m := NewKeyedMutex(50 * time.Millisecond)
	ctx := context.Background()

	releaseA, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	defer releaseA(ctx)

	releaseB, err := m.Acquire(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, releaseB(ctx))
}

func TestKeyedMutex_WaitExpires(t *testing.T) {
	m := NewKeyedMutex(20 * time.Millisecond)
	ctx := context.Background()

	release, err := m.Acquire(ctx, "k")
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, release(ctx))
	release, err = m.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex(0)

	release, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyedMutex_ReleaseTwice(t *testing.T) {
	m := NewKeyedMutex(20 * time.Millisecond)
	ctx := context.Background()

	release, err := m.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	other, err := m.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, other(ctx))
}

func TestAcquireAll_OppositeOrders(t *testing.T) {
	m := NewKeyedMutex(time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := AcquireAll(ctx, m, "a", "b")
			if assert.NoError(t, err) {
				assert.NoError(t, release(ctx))
			}
		}()
		go func() {
			defer wg.Done()
			release, err := AcquireAll(ctx, m, "b", "a")
			if assert.NoError(t, err) {
				assert.NoError(t, release(ctx))
			}
		}()
	}
	wg.Wait()
}

func TestAcquireAll_ReleasesOnFailure(t *testing.T) {
	m := NewKeyedMutex(20 * time.Millisecond)
	ctx := context.Background()

	holdB, err := m.Acquire(ctx, "b")
	require.NoError(t, err)

	_, err = AcquireAll(ctx, m, "b", "a")
	assert.ErrorIs(t, err, ErrNotAcquired)

	// "a" was taken first and must have been given back
	releaseA, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, releaseA(ctx))
	require.NoError(t, holdB(ctx))
}

func TestAcquireAll_DuplicateKeys(t *testing.T) {
	m := NewKeyedMutex(20 * time.Millisecond)
	ctx := context.Background()

	release, err := AcquireAll(ctx, m, "a", "a")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestParticipantKey(t *testing.T) {
	assert.Equal(t, "participant:org-1:p-1", ParticipantKey("org-1", "p-1"))
}

func TestDomainError(t *testing.T) {
	timedOut := DomainError(fmt.Errorf("key participant:org-1:p-1: %w", ErrNotAcquired))
	assert.ErrorIs(t, timedOut, models.ErrConcurrentModification)
	assert.ErrorIs(t, timedOut, ErrNotAcquired)

	unreachable := DomainError(errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"))
	assert.ErrorIs(t, unreachable, models.ErrStoreUnavailable)
	assert.NotErrorIs(t, unreachable, models.ErrConcurrentModification)
	assert.True(t, models.IsRetryable(unreachable))
}
