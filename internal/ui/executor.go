// Package ui provides the single-threaded executor that owns all
// workstation state. Tasks are drained FIFO by exactly one goroutine; the
// executor is never re-entered and never blocks on network I/O.
package ui

import (
	"errors"
	"fmt"
	"os"
)

var ErrStopped = errors.New("executor stopped")

type Task func()

type Executor struct {
	tasks chan Task
	stop  chan struct{}
	done  chan struct{}
}

func New(depth int) *Executor {
	if depth <= 0 {
		depth = 64
	}
	return &Executor{
		tasks: make(chan Task, depth),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run drains the task queue until Stop is called. It must be invoked from
// exactly one goroutine; that goroutine becomes the UI thread.
func (e *Executor) Run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case task := <-e.tasks:
			e.runTask(task)
		}
	}
}

// Submit enqueues a task to run later on the executor goroutine. It blocks
// only when the queue is full and fails once the executor is stopping.
func (e *Executor) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("submit nil task")
	}
	select {
	case <-e.stop:
		return ErrStopped
	default:
	}
	select {
	case e.tasks <- task:
		return nil
	case <-e.stop:
		return ErrStopped
	}
}

// Stop ends the loop after the task currently running, if any. Queued tasks
// that have not started are dropped.
func (e *Executor) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// Done is closed once the run loop has exited.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// runTask keeps a panicking task from killing the event loop. Callers that
// need the panic surfaced as a result install their own recovery inside the
// task; this recover is the loop's last line of defense.
func (e *Executor) runTask(task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			_, _ = fmt.Fprintf(os.Stderr, "gisbridged: task panic: %v\n", rec)
		}
	}()
	task()
}
