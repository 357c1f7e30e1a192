package task

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrCancelled is returned by Task.Check once the owning Handler was closed.
var ErrCancelled = errors.New("task was cancelled")

// Task is the worker side of a unit of work. Long operations poll Check between steps.
type Task struct {
	id     string
	cancel <-chan struct{}
}

// Check returns ErrCancelled after the handler closed, nil otherwise. It never blocks.
func (t *Task) Check() error {
	if t == nil {
		return nil
	}
	select {
	case <-t.cancel:
		return ErrCancelled
	default:
		return nil
	}
}

// Cancelled exposes the cancellation channel for select statements.
func (t *Task) Cancelled() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.cancel
}

func (t *Task) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// Handler is the caller side. Closing it is the only way to cancel the task.
type Handler struct {
	id        string
	cancel    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// New returns a bound pair without scheduling anything, for work run inline.
func New() (*Task, *Handler) {
	h := &Handler{
		id:     uuid.NewString(),
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	return &Task{id: h.id, cancel: h.cancel}, h
}

func (h *Handler) ID() string {
	return h.id
}

// Close cancels the task. Safe to call more than once and from any goroutine.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.cancel)
	})
}

// Closed reports whether Close was called.
func (h *Handler) Closed() bool {
	select {
	case <-h.cancel:
		return true
	default:
		return false
	}
}

// Done is closed after the work function returned.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

func (h *Handler) finish() {
	close(h.done)
}
