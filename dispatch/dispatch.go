// Package dispatch provides the serialized execution context the conversion
// engine runs on.
//
// All engine state is mutated only from tasks executed by a single Loop:
// caller-initiated operations and device completion notifications alike are
// posted here, which removes the need for locking inside the engine. The
// surrounding runtime must deliver every device notification through the
// same Loop the caller uses to invoke the engine.
package dispatch

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned by Post and PostAndWait after the loop has stopped.
var ErrStopped = errors.New("dispatch loop stopped")

// Loop is a single-threaded cooperative task queue. Tasks run in the order
// they were posted, one at a time, on one goroutine.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	running bool
	stopped bool
	done    chan struct{}
	logger  *slog.Logger
}

// NewLoop creates a loop. Run must be called before tasks execute.
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		done:   make(chan struct{}),
		logger: logger.With("component", "dispatch"),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Run starts the loop goroutine. It returns immediately and is a no-op if
// the loop is already running or stopped.
func (l *Loop) Run() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running || l.stopped {
		return
	}
	l.running = true
	go l.run()
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			// Stopped and drained.
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		task()
	}
}

// Post enqueues a task for execution. Safe to call from any goroutine,
// including from a task already running on the loop.
func (l *Loop) Post(task func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrStopped
	}
	l.queue = append(l.queue, task)
	l.cond.Signal()
	return nil
}

// PostAndWait enqueues a task and blocks until it has executed. It must not
// be called from a task running on the loop itself.
func (l *Loop) PostAndWait(task func()) error {
	doneCh := make(chan struct{})
	err := l.Post(func() {
		defer close(doneCh)
		task()
	})
	if err != nil {
		return err
	}
	<-doneCh
	return nil
}

// Stop prevents new tasks from being posted, drains tasks already queued and
// waits for the loop goroutine to exit. Idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		running := l.running
		l.mu.Unlock()
		if running {
			<-l.done
		}
		return
	}
	l.stopped = true
	running := l.running
	l.cond.Signal()
	l.mu.Unlock()

	if running {
		<-l.done
	}
	l.logger.Debug("Dispatch loop stopped")
}
