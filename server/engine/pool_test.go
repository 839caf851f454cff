package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_everyTaskRunsOnce(t *testing.T) {
	for _, tc := range []struct{ workers, tasks int }{
		{1, 1},
		{1, 100},
		{4, 1000},
		{16, 5000},
	} {
		t.Run(fmt.Sprintf("%dx%d", tc.workers, tc.tasks), func(t *testing.T) {
			p := NewPool(tc.workers, 0)

			var (
				mu   sync.Mutex
				seen = make(map[int]int)
				wg   sync.WaitGroup
			)
			wg.Add(tc.tasks)
			for id := range tc.tasks {
				require.NoError(t, p.Submit(func() {
					defer wg.Done()
					mu.Lock()
					seen[id]++
					mu.Unlock()
				}))
			}
			wg.Wait()
			require.NoError(t, p.Close())

			assert.Len(t, seen, tc.tasks)
			for id, n := range seen {
				assert.Equal(t, 1, n, "task %d", id)
			}
		})
	}
}

func TestPool_submitAfterClose(t *testing.T) {
	p := NewPool(2, 0)
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
	assert.ErrorIs(t, p.Close(), ErrPoolClosed)
}

func TestPool_boundedQueueRejects(t *testing.T) {
	p := NewPool(1, 2)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	// the only worker is blocked, two tasks fit in the queue
	require.NoError(t, p.Submit(func() {}))
	require.NoError(t, p.Submit(func() {}))
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolBusy)
	assert.Equal(t, 2, p.Pending())

	close(release)
	require.NoError(t, p.Close())
}

func TestPool_closeDropsQueued(t *testing.T) {
	p := NewPool(1, 0)

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
		ran.Add(1)
	}))
	<-started
	for range 10 {
		require.NoError(t, p.Submit(func() { ran.Add(1) }))
	}

	done := make(chan error)
	go func() { done <- p.Close() }()

	// the worker is still blocked, so only Close can empty the queue
	require.Eventually(t, func() bool { return p.Pending() == 0 }, time.Second, time.Millisecond)

	// Close waits for the in-flight task
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), ran.Load(), "queued tasks are dropped on close")
}

func BenchmarkPool_submit(b *testing.B) {
	p := NewPool(0, 0)
	defer p.Close()

	var wg sync.WaitGroup
	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		wg.Add(1)
		p.Submit(wg.Done)
	}
	wg.Wait()
}
