package eventloop

import (
	"sync/atomic"
)

// Async is a coalescing cross-thread wakeup bound to one loop: any
// number of Send calls between two callback runs collapse into one run.
type Async struct {
	loop   *Loop
	f      func()
	armed  atomic.Bool
	closed atomic.Bool
}

func NewAsync(loop *Loop, f func()) *Async {
	return &Async{
		loop: loop,
		f:    f,
	}
}

// Send schedules the callback onto the loop unless one is already
// scheduled. Safe to call from any goroutine.
func (a *Async) Send() {
	if a.closed.Load() {
		return
	}
	if !a.armed.CompareAndSwap(false, true) {
		return
	}
	if !a.loop.Post(a.fire) {
		a.armed.Store(false)
	}
}

func (a *Async) fire() {
	a.armed.Store(false)
	if a.closed.Load() {
		return
	}
	a.f()
}

// Close releases the handle; subsequent Sends are dropped.
func (a *Async) Close() {
	a.closed.Store(true)
}
