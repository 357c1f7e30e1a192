package server

import (
	"sync"
	"time"

	"ComicDetServer/pipeline"
	"ComicDetServer/task"
)

type State string

const (
	Queued    State = "queued"
	Running   State = "running"
	Done      State = "done"
	Failed    State = "failed"
	Cancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s == Done || s == Failed || s == Cancelled
}

// Snapshot is what clients see of a job.
type Snapshot struct {
	ID       string         `json:"taskID"`
	Path     string         `json:"path"`
	State    State          `json:"state"`
	Error    string         `json:"error,omitempty"`
	Created  time.Time      `json:"created"`
	Finished *time.Time     `json:"finished,omitempty"`
	Result   *pipeline.Book `json:"result,omitempty"`
}

type job struct {
	mu      sync.Mutex
	snap    Snapshot
	handler *task.Handler
	changed chan struct{}
}

func (j *job) snapshot() (Snapshot, <-chan struct{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap, j.changed
}

// update applies fn and wakes every watcher. Terminal states are final.
func (j *job) update(fn func(*Snapshot)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.State.Terminal() {
		return
	}
	fn(&j.snap)
	if j.snap.State.Terminal() {
		now := time.Now()
		j.snap.Finished = &now
	}
	close(j.changed)
	j.changed = make(chan struct{})
}

type jobs struct {
	mu   sync.RWMutex
	byID map[string]*job
}

func newJobs() *jobs {
	return &jobs{byID: map[string]*job{}}
}

func newJob(path string) *job {
	return &job{
		snap:    Snapshot{Path: path, State: Queued, Created: time.Now()},
		changed: make(chan struct{}),
	}
}

// register binds j to the handler Spawn returned. The work may already be
// running by then; it only touches the state fields.
func (js *jobs) register(j *job, h *task.Handler) {
	j.mu.Lock()
	j.snap.ID = h.ID()
	j.handler = h
	j.mu.Unlock()

	js.mu.Lock()
	js.byID[h.ID()] = j
	js.mu.Unlock()
}

func (j *job) cancel() {
	j.mu.Lock()
	h := j.handler
	j.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

func (js *jobs) get(id string) (*job, bool) {
	js.mu.RLock()
	defer js.mu.RUnlock()
	j, ok := js.byID[id]
	return j, ok
}

func (js *jobs) cancelAll() {
	js.mu.RLock()
	defer js.mu.RUnlock()
	for _, j := range js.byID {
		j.cancel()
	}
}
