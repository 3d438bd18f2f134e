package dispatch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopExecutesTasksInOrder(t *testing.T) {
	l := NewLoop(nil)
	l.Run()
	defer l.Stop()

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, l.Post(func() { order = append(order, i) }))
	}

	// Flush: all prior tasks complete before PostAndWait returns.
	require.NoError(t, l.PostAndWait(func() {}))

	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestLoopSerializesConcurrentPosters(t *testing.T) {
	l := NewLoop(nil)
	l.Run()
	defer l.Stop()

	var inTask atomic.Int32
	var overlap atomic.Bool
	var count atomic.Int32

	for g := 0; g < 8; g++ {
		go func() {
			for i := 0; i < 50; i++ {
				_ = l.Post(func() {
					if inTask.Add(1) > 1 {
						overlap.Store(true)
					}
					time.Sleep(time.Microsecond)
					inTask.Add(-1)
					count.Add(1)
				})
			}
		}()
	}

	require.Eventually(t, func() bool { return count.Load() == 400 },
		2*time.Second, time.Millisecond)
	assert.False(t, overlap.Load(), "tasks ran concurrently")
}

func TestLoopPostFromTask(t *testing.T) {
	l := NewLoop(nil)
	l.Run()
	defer l.Stop()

	ran := make(chan struct{})
	require.NoError(t, l.Post(func() {
		// A task may schedule follow-up work on the same loop.
		_ = l.Post(func() { close(ran) })
	}))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("nested task never ran")
	}
}

func TestLoopStopDrainsQueue(t *testing.T) {
	l := NewLoop(nil)
	l.Run()

	var count atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Post(func() { count.Add(1) }))
	}

	l.Stop()
	assert.Equal(t, int32(20), count.Load())
	assert.ErrorIs(t, l.Post(func() {}), ErrStopped)
	assert.ErrorIs(t, l.PostAndWait(func() {}), ErrStopped)
}

func TestLoopStopIdempotent(t *testing.T) {
	l := NewLoop(nil)
	l.Run()
	l.Stop()
	l.Stop()
}

func TestLoopStopWithoutRun(t *testing.T) {
	l := NewLoop(nil)
	l.Stop()
	assert.ErrorIs(t, l.Post(func() {}), ErrStopped)
}
