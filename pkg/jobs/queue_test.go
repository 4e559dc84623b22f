package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var handled int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}, Config{Workers: 2})
	q.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "job"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Stop(ctx)
	assert.EqualValues(t, 5, atomic.LoadInt32(&handled))
}

func TestQueueRetriesThenDeadLetters(t *testing.T) {
	var attempts int32
	var mu sync.Mutex
	var dead []Job
	deadCh := make(chan struct{})

	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	}, Config{
		Workers:    1,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnDead: func(job Job, err error) {
			mu.Lock()
			dead = append(dead, job)
			mu.Unlock()
			close(deadCh)
		},
	})
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{ID: "j1", Kind: "email"}))

	select {
	case <-deadCh:
	case <-time.After(2 * time.Second):
		t.Fatal("job never dead-lettered")
	}
	q.Stop(context.Background())

	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempt)
}

func TestEnqueueRequiresRunningQueue(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, Config{})
	err := q.Enqueue(Job{ID: "x"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestEnqueueReportsFullBuffer(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		<-block
		return nil
	}, Config{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(block)
		q.Stop(context.Background())
	}()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))
	var full bool
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(Job{ID: "b"}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	assert.True(t, full)
}

func TestQueueDrainsAfterParentContextCancelled(t *testing.T) {
	var handled int32
	q := NewQueue("drain", func(ctx context.Context, job Job) error {
		time.Sleep(5 * time.Millisecond)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		atomic.AddInt32(&handled, 1)
		return nil
	}, Config{Workers: 1})

	parent, cancelParent := context.WithCancel(context.Background())
	q.Start(parent)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "job"}))
	}
	cancelParent()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	q.Stop(ctx)

	assert.EqualValues(t, 5, atomic.LoadInt32(&handled))
	assert.Zero(t, q.Pending())
	assert.Less(t, time.Since(start), time.Second)
}
