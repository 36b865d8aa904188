package live

import (
	"fmt"
	"sync"
)

// eventLoop runs posted functions one at a time, in order, on a single
// goroutine. Each function runs to completion before the next starts. The
// queue is unbounded so posting never blocks the caller.
type eventLoop struct {
	name string
	log  *Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func newEventLoop(name string, logger *Logger) *eventLoop {
	l := &eventLoop{
		name: name,
		log:  orNop(logger),
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// post enqueues fn. It reports false once the loop is closed.
func (l *eventLoop) post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// call runs fn on the loop and waits for it. It must not be used from the
// loop goroutine itself. After close, fn runs on the caller.
func (l *eventLoop) call(fn func()) {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		fn()
		return
	}
	<-finished
}

// close stops accepting work, drains what is queued and waits for the loop to exit.
func (l *eventLoop) close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.cond.Signal()
	}
	l.mu.Unlock()
	<-l.done
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.exec(fn)
	}
}

func (l *eventLoop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("loop", l.name).WithError(fmt.Errorf("panic: %v", r)).Error("Recovered panic in event handler")
		}
	}()
	fn()
}
