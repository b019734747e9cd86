package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 5, RetryDelay: 5 * time.Millisecond})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1", Type: "blob.delete"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestEnqueueBeforeStartFails(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
	assert.Error(t, q.TryEnqueue(Job{ID: "x"}))
}

func TestTryEnqueueReportsFullBuffer(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		<-block
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(block)
		q.Stop()
	}()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))
	require.Eventually(t, func() bool { return len(q.jobs) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.TryEnqueue(Job{ID: "b"}))
	assert.ErrorIs(t, q.TryEnqueue(Job{ID: "c"}), ErrQueueFull)
}

func TestQueueRejectsJobsAfterStop(t *testing.T) {
	var handled int32
	q := NewQueue("stopped", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 64})
	q.Start(context.Background())
	q.Stop()

	for i := 0; i < 40; i++ {
		assert.ErrorIs(t, q.TryEnqueue(Job{ID: "late"}), ErrQueueStopped)
	}
	assert.ErrorIs(t, q.Enqueue(Job{ID: "late"}), ErrQueueStopped)
	assert.Empty(t, q.jobs)
	assert.Zero(t, atomic.LoadInt32(&handled))
}

func TestQueueRejectsJobsOnceStartContextIsCancelled(t *testing.T) {
	var handled int32
	q := NewQueue("cancelled", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 16})
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.TryEnqueue(Job{ID: "early"}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&handled) == 1 }, time.Second, time.Millisecond)

	cancel()
	for i := 0; i < 20; i++ {
		assert.Error(t, q.TryEnqueue(Job{ID: "late"}))
	}
	assert.Empty(t, q.jobs)
	assert.Equal(t, int32(1), atomic.LoadInt32(&handled))
}
