package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueNeverExceedsConcurrency(t *testing.T) {
	q := New(2)

	var running, peak int32
	release := make(chan struct{})

	futures := make([]*Future, 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		futures = append(futures, q.Enqueue(context.Background(), func(context.Context) (any, error) {
			current := atomic.AddInt32(&running, 1)
			for {
				observed := atomic.LoadInt32(&peak)
				if current <= observed || atomic.CompareAndSwapInt32(&peak, observed, current) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return i, nil
		}))
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, q.Active())
	require.Equal(t, 8, q.Pending())
	close(release)

	for i, future := range futures {
		value, err := future.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, i, value)
	}
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	require.Eventually(t, func() bool { return q.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestQueueRunsJobsInFIFOOrderWithSingleWorker(t *testing.T) {
	q := New(0)
	require.Equal(t, 1, q.Concurrency())

	var mu sync.Mutex
	var order []int
	futures := make([]*Future, 0, 5)
	for i := 0; i < 5; i++ {
		i := i
		futures = append(futures, q.Enqueue(context.Background(), func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil, nil
		}))
	}
	for _, future := range futures {
		_, err := future.Wait(context.Background())
		require.NoError(t, err)
	}

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueueIsolatesJobFailures(t *testing.T) {
	q := New(2)
	boom := errors.New("row rejected")

	failed := q.Enqueue(context.Background(), func(context.Context) (any, error) { return nil, boom })
	panicked := q.Enqueue(context.Background(), func(context.Context) (any, error) { panic("bad row") })
	ok := q.Enqueue(context.Background(), func(context.Context) (any, error) { return "imported", nil })

	_, err := failed.Wait(context.Background())
	require.ErrorIs(t, err, boom)

	_, err = panicked.Wait(context.Background())
	require.ErrorContains(t, err, "panicked")

	value, err := ok.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "imported", value)
}

func TestSubmitReturnsTypedResult(t *testing.T) {
	q := New(1)

	count, err := Submit(context.Background(), q, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, count)
}

func TestQueueReportsActiveWorkers(t *testing.T) {
	var peak int32
	q := New(3, WithActiveObserver(func(active int) {
		for {
			observed := atomic.LoadInt32(&peak)
			if int32(active) <= observed || atomic.CompareAndSwapInt32(&peak, observed, int32(active)) {
				return
			}
		}
	}))

	release := make(chan struct{})
	var futures []*Future
	for i := 0; i < 6; i++ {
		futures = append(futures, q.Enqueue(context.Background(), func(context.Context) (any, error) {
			<-release
			return nil, nil
		}))
	}
	close(release)
	for _, future := range futures {
		_, _ = future.Wait(context.Background())
	}

	require.Equal(t, int32(3), atomic.LoadInt32(&peak))
}
