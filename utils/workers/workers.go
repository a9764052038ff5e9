package workers

import (
	"errors"
	"sync"
)

var (
	errTerminated = errors.New("terminated")
)

// Workers runs queued tasks on a fixed number of goroutines.
type Workers struct {
	quit  chan struct{}
	wg    *sync.WaitGroup
	tasks chan func()

	// mu orders enqueues against the final flush on quit
	mu    sync.RWMutex
	flush sync.Once

	// inflight counts tasks enqueued and not yet finished or drained
	inflight sync.WaitGroup
}

func New(wg *sync.WaitGroup, quit chan struct{}, maxTasks int) *Workers {
	return &Workers{
		tasks: make(chan func(), maxTasks),
		quit:  quit,
		wg:    wg,
	}
}

func (w *Workers) Start(workersN int) {
	for i := 0; i < workersN; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.worker()
		}()
	}
}

// Enqueue blocks while the queue is full. It fails only after quit is closed.
// A task accepted by Enqueue runs even if quit is closed right after.
func (w *Workers) Enqueue(fn func()) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.terminated() {
		return errTerminated
	}
	w.inflight.Add(1)
	select {
	case w.tasks <- fn:
		return nil
	case <-w.quit:
		w.inflight.Done()
		return errTerminated
	}
}

// TryEnqueue is Enqueue which never blocks.
func (w *Workers) TryEnqueue(fn func()) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.terminated() {
		return false
	}
	w.inflight.Add(1)
	select {
	case w.tasks <- fn:
		return true
	default:
		w.inflight.Done()
		return false
	}
}

// Drain drops the queued tasks which have not started yet.
func (w *Workers) Drain() {
	for {
		select {
		case <-w.tasks:
			w.inflight.Done()
			continue
		default:
			return
		}
	}
}

// Wait blocks until every enqueued task has finished or was drained.
func (w *Workers) Wait() {
	w.inflight.Wait()
}

func (w *Workers) TasksCount() int {
	return len(w.tasks)
}

func (w *Workers) terminated() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}

// runQueued runs the tasks left in the queue once quit is closed.
// No task can be queued after the write lock is taken.
func (w *Workers) runQueued() {
	w.mu.Lock()
	w.mu.Unlock()
	for {
		select {
		case job := <-w.tasks:
			job()
			w.inflight.Done()
		default:
			return
		}
	}
}

func (w *Workers) worker() {
	for {
		select {
		case <-w.quit:
			w.flush.Do(w.runQueued)
			return
		case job := <-w.tasks:
			job()
			w.inflight.Done()
		}
	}
}
