package task

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"ComicDetServer/logger"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("task pool is closed")

// Hooks lets the caller observe pool activity, monitor wires its counters through it.
type Hooks struct {
	Submitted func()
	Started   func()
	Finished  func(cancelled bool)
	// Queue is called with the pool lock held, so reports arrive in order.
	// It must not call back into the pool.
	Queue func(depth int)
}

type job struct {
	task    *Task
	handler *Handler
	work    func(*Task)
}

// Pool runs submitted work on a fixed set of goroutines.
// The queue lock is held only for push and pop, never while work runs.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []job
	closed  bool
	wg      sync.WaitGroup
	hooks   Hooks
	workers int
}

type Option func(*Pool)

func WithHooks(h Hooks) Option {
	return func(p *Pool) {
		p.hooks = h
	}
}

func NewPool(workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{workers: workers}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker(i)
	}
	logger.Log().Info("task pool started", zap.Int("workers", workers))
	return p
}

func (p *Pool) Workers() int {
	return p.workers
}

// Spawn queues work and returns immediately with its handler.
// After Close the work is not run; the returned handler is already cancelled and done.
func (p *Pool) Spawn(work func(*Task)) *Handler {
	t, h := New()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		h.Close()
		h.finish()
		return h
	}
	p.queue = append(p.queue, job{task: t, handler: h, work: work})
	p.reportDepth()
	p.mu.Unlock()
	p.cond.Signal()

	if p.hooks.Submitted != nil {
		p.hooks.Submitted()
	}
	return h
}

// Accepting reports whether Spawn still schedules work.
func (p *Pool) Accepting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Close stops accepting work, drains the queue and waits for the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
	logger.Log().Info("task pool stopped")
}

// reportDepth runs with p.mu held.
func (p *Pool) reportDepth() {
	if p.hooks.Queue != nil {
		p.hooks.Queue(len(p.queue))
	}
}

func (p *Pool) next() (job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return job{}, false
	}
	j := p.queue[0]
	p.queue[0] = job{}
	p.queue = p.queue[1:]
	p.reportDepth()
	return j, true
}

func (p *Pool) runWorker(workerID int) {
	defer p.wg.Done()
	for {
		j, ok := p.next()
		if !ok {
			return
		}
		p.execute(workerID, j)
	}
}

func (p *Pool) execute(workerID int, j job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("task panic",
				zap.Int("worker", workerID),
				zap.String("task", j.task.ID()),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
		}
		cancelled := j.handler.Closed()
		j.handler.finish()
		if p.hooks.Finished != nil {
			p.hooks.Finished(cancelled)
		}
	}()
	if p.hooks.Started != nil {
		p.hooks.Started()
	}
	j.work(j.task)
}
