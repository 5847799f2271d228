package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "r1"))
	require.NoError(t, q.Push(ctx, "r2"))

	id, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	id, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", id)
}

func TestMemoryQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	done := make(chan string, 1)
	go func() {
		id, err := q.Pop(ctx)
		require.NoError(t, err)
		done <- id
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(ctx, "late"))

	select {
	case id := <-done:
		assert.Equal(t, "late", id)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestMemoryQueue_PopHonorsContext(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_CloseWakesAllBlockedPops(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	const waiters = 3
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, err := q.Pop(ctx)
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrEmpty)
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d never woke up after Close", i)
		}
	}
}

func TestMemoryQueue_Remove(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "r1"))
	require.NoError(t, q.Push(ctx, "r2"))

	removed, err := q.Remove(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = q.Remove(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, removed)

	id, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", id)
}

func newRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewRedisQueue(context.Background(), client, "wf.runs")
	require.NoError(t, err)
	return q
}

func TestRedisQueue_FIFO(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "r1"))
	require.NoError(t, q.Push(ctx, "r2"))

	id, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	id, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", id)
}

func TestRedisQueue_RemoveTombstonesQueuedID(t *testing.T) {
	q := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "r1"))
	require.NoError(t, q.Push(ctx, "r2"))

	removed, err := q.Remove(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, removed)

	id, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", id)
}
