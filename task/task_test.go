package task

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, h *Handler) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestTask_CheckAfterClose(t *testing.T) {
	tk, h := New()
	assert.NoError(t, tk.Check())
	assert.Equal(t, h.ID(), tk.ID())
	h.Close()
	h.Close()
	assert.ErrorIs(t, tk.Check(), ErrCancelled)
	assert.True(t, h.Closed())
}

func TestPool_CancelBeforeFirstCheckpoint(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	gate := make(chan struct{})
	blocker := p.Spawn(func(*Task) { <-gate })

	var result atomic.Value
	h := p.Spawn(func(tk *Task) {
		if err := tk.Check(); err != nil {
			result.Store(err)
			return
		}
		result.Store("success")
	})
	h.Close()
	close(gate)

	waitDone(t, blocker)
	waitDone(t, h)
	assert.Equal(t, ErrCancelled, result.Load())
}

func TestPool_SpawnDoesNotWaitForWork(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	gate := make(chan struct{})
	var ran atomic.Int32
	handlers := make([]*Handler, 0, 100)
	start := time.Now()
	for i := 0; i < 100; i++ {
		handlers = append(handlers, p.Spawn(func(*Task) {
			<-gate
			ran.Add(1)
		}))
	}
	assert.Less(t, time.Since(start), time.Second)
	close(gate)
	for _, h := range handlers {
		waitDone(t, h)
	}
	assert.Equal(t, int32(100), ran.Load())
}

func TestPool_ConcurrentSubmitters(t *testing.T) {
	p := NewPool(4)
	var count atomic.Int64
	var wg sync.WaitGroup
	var mu sync.Mutex
	var handlers []*Handler
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				h := p.Spawn(func(*Task) { count.Add(1) })
				mu.Lock()
				handlers = append(handlers, h)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	for _, h := range handlers {
		waitDone(t, h)
	}
	p.Close()
	assert.Equal(t, int64(400), count.Load())
}

func TestPool_PanicIsContained(t *testing.T) {
	var finished atomic.Int32
	p := NewPool(1, WithHooks(Hooks{Finished: func(bool) { finished.Add(1) }}))
	defer p.Close()

	h := p.Spawn(func(*Task) { panic("boom") })
	waitDone(t, h)
	ok := p.Spawn(func(*Task) {})
	waitDone(t, ok)
	assert.Equal(t, int32(2), finished.Load())
}

func TestPool_CloseRejectsNewWork(t *testing.T) {
	p := NewPool(1)
	p.Close()
	require.False(t, p.Accepting())

	called := false
	h := p.Spawn(func(*Task) { called = true })
	waitDone(t, h)
	assert.True(t, h.Closed())
	assert.False(t, called)
}

func TestPool_HooksSeeQueueDepth(t *testing.T) {
	var submitted, started atomic.Int32
	var maxDepth atomic.Int32
	p := NewPool(1, WithHooks(Hooks{
		Submitted: func() { submitted.Add(1) },
		Started:   func() { started.Add(1) },
		Queue: func(d int) {
			if int32(d) > maxDepth.Load() {
				maxDepth.Store(int32(d))
			}
		},
	}))
	gate := make(chan struct{})
	hs := []*Handler{p.Spawn(func(*Task) { <-gate })}
	for i := 0; i < 3; i++ {
		hs = append(hs, p.Spawn(func(*Task) {}))
	}
	close(gate)
	for _, h := range hs {
		waitDone(t, h)
	}
	p.Close()
	assert.Equal(t, int32(4), submitted.Load())
	assert.Equal(t, int32(4), started.Load())
	assert.GreaterOrEqual(t, maxDepth.Load(), int32(1))
}

func TestPool_QueueDepthReportsStayOrdered(t *testing.T) {
	var (
		mu     sync.Mutex
		depths []int
	)
	p := NewPool(3, WithHooks(Hooks{
		Queue: func(d int) {
			mu.Lock()
			depths = append(depths, d)
			mu.Unlock()
		},
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.Spawn(func(*Task) {})
			}
		}()
	}
	wg.Wait()
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, depths, 2*8*50)
	prev := 0
	for i, d := range depths {
		require.Equal(t, 1, abs(d-prev), "report %d jumps from %d to %d", i, prev, d)
		prev = d
	}
	assert.Equal(t, 0, depths[len(depths)-1])
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
