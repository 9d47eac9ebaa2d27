package redis

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/locking"
	"github.com/Ramsey-B/clover/pkg/models"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	client, err := NewClient(context.Background(), Config{Addr: s.Addr()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, s
}

func TestNewClient_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	_, err := NewClient(context.Background(), Config{Addr: addr}, logger)
	assert.Error(t, err)
}

func TestLocker_AcquireAndRelease(t *testing.T) {
	client, s := setupTestRedis(t)
	locker := NewLocker(client, "", time.Minute, 50*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "participant:org-1:a")
	require.NoError(t, err)
	assert.True(t, s.Exists("clover:lock:participant:org-1:a"))

	require.NoError(t, release(ctx))
	assert.False(t, s.Exists("clover:lock:participant:org-1:a"))

	// releasing twice is a no-op
	require.NoError(t, release(ctx))
}

func TestLocker_ExcludesOtherInstances(t *testing.T) {
	client, _ := setupTestRedis(t)
	first := NewLocker(client, "test:", time.Minute, 30*time.Millisecond)
	second := NewLocker(client, "test:", time.Minute, 30*time.Millisecond)
	ctx := context.Background()

	release, err := first.Acquire(ctx, "k")
	require.NoError(t, err)

	_, err = second.Acquire(ctx, "k")
	assert.ErrorIs(t, err, locking.ErrNotAcquired)

	require.NoError(t, release(ctx))

	release, err = second.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestLocker_BackendDown(t *testing.T) {
	client, s := setupTestRedis(t)
	locker := NewLocker(client, "", time.Minute, 50*time.Millisecond)
	s.Close()

	_, err := locker.Acquire(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, locking.ErrNotAcquired)
	assert.ErrorIs(t, locking.DomainError(err), models.ErrStoreUnavailable)
}

func TestLocker_ReleaseAfterExpiry(t *testing.T) {
	client, s := setupTestRedis(t)
	locker := NewLocker(client, "", time.Second, 30*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	s.FastForward(2 * time.Second)

	// someone else took the key after expiry; we must not delete it
	other, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	assert.ErrorIs(t, release(ctx), ErrLockNotHeld)
	assert.True(t, s.Exists("clover:lock:k"))
	require.NoError(t, other(ctx))
}

func TestLocker_WorksWithAcquireAll(t *testing.T) {
	client, s := setupTestRedis(t)
	locker := NewLocker(client, "", time.Minute, 30*time.Millisecond)
	ctx := context.Background()

	release, err := locking.AcquireAll(ctx, locker,
		locking.ParticipantKey("org-1", "b"),
		locking.ParticipantKey("org-1", "a"),
	)
	require.NoError(t, err)
	assert.Len(t, s.Keys(), 2)

	require.NoError(t, release(ctx))
	assert.Empty(t, s.Keys())
}
