package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var handled int32
	done := make(chan struct{}, 2)
	q := NewQueue("certificates", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&handled, 1)
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "req-1", Type: "certificate"}))
	require.NoError(t, q.Enqueue(Job{ID: "req-2", Type: "certificate"}))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	require.EqualValues(t, 2, atomic.LoadInt32(&handled))
}

func TestQueueRetriesUntilExhausted(t *testing.T) {
	var attempts int32
	exhausted := make(chan Job, 1)
	q := NewQueue("certificates", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("render failed")
	}, QueueConfig{
		MaxRetries:  2,
		RetryDelay:  5 * time.Millisecond,
		OnExhausted: func(job Job, err error) { exhausted <- job },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "req-1"}))

	select {
	case job := <-exhausted:
		require.Equal(t, "req-1", job.ID)
		require.Equal(t, 2, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job never exhausted")
	}
	require.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("certificates", func(context.Context, Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "x"}))
}

func TestQueueFullDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("certificates", func(ctx context.Context, job Job) error {
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
	require.NoError(t, q.Enqueue(Job{ID: "b"}))
	err := q.Enqueue(Job{ID: "c"})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestQueueCoalescesWaitingJobs(t *testing.T) {
	block := make(chan struct{})
	var handled int32
	q := NewQueue("certificates", func(ctx context.Context, job Job) error {
		if job.ID == "busy" {
			<-block
		}
		atomic.AddInt32(&handled, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "busy"}))
	require.Eventually(t, func() bool { return len(q.jobs) == 0 }, time.Second, time.Millisecond)

	require.NoError(t, q.Enqueue(Job{ID: "req-7"}))
	require.NoError(t, q.Enqueue(Job{ID: "req-7"}))
	require.Equal(t, 1, len(q.jobs))
	require.Eventually(t, func() bool { return q.Pending() == 2 }, time.Second, time.Millisecond)

	close(block)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&handled) == 2 }, time.Second, time.Millisecond)
}

func TestQueueBoundsEachAttempt(t *testing.T) {
	exhausted := make(chan error, 1)
	q := NewQueue("certificates", func(ctx context.Context, job Job) error {
		<-ctx.Done()
		return ctx.Err()
	}, QueueConfig{
		MaxRetries:  1,
		JobTimeout:  10 * time.Millisecond,
		OnExhausted: func(job Job, err error) { exhausted <- err },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "slow"}))
	select {
	case err := <-exhausted:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("attempt was never cut off")
	}
}

func TestQueueRejectsAfterStop(t *testing.T) {
	q := NewQueue("certificates", func(context.Context, Job) error { return nil }, QueueConfig{})
	q.Start(context.Background())
	q.Stop()
	require.ErrorIs(t, q.Enqueue(Job{ID: "late"}), ErrQueueStopped)
}
