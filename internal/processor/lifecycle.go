package processor

import "sync"

// Lifecycle is the stop flag shared between the signal handler and the
// worker. It moves once from running to stop-requested.
type Lifecycle struct {
	stop chan struct{}
	once sync.Once
}

// NewLifecycle returns a running lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{stop: make(chan struct{})}
}

// RequestStop moves the lifecycle to stop-requested. Safe to call repeatedly.
func (l *Lifecycle) RequestStop() {
	l.once.Do(func() { close(l.stop) })
}

// StopRequested reports, without blocking, whether a stop was requested.
func (l *Lifecycle) StopRequested() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

// Stopping is closed once a stop is requested.
func (l *Lifecycle) Stopping() <-chan struct{} {
	return l.stop
}

// Handle controls a processor running in its own goroutine.
type Handle struct {
	lc   *Lifecycle
	done chan struct{}
}

// Start runs p in a new goroutine.
func Start(p *Processor) *Handle {
	h := &Handle{
		lc:   NewLifecycle(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		p.Run(h.lc)
	}()
	return h
}

// Stop asks the worker to exit at its next safe point.
func (h *Handle) Stop() {
	h.lc.RequestStop()
}

// Wait blocks until the worker has returned.
func (h *Handle) Wait() {
	<-h.done
}

// Done is closed when the worker has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
