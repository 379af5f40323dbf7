package eventloop

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ringdb/ring-go-driver/internal/xsync"
)

// Timer is a restartable one-shot timer whose callback runs on the
// owning loop.
type Timer struct {
	loop *Loop

	mu     xsync.Mutex
	t      clockwork.Timer
	gen    uint64
	closed bool
}

func NewTimer(loop *Loop) *Timer {
	return &Timer{
		loop: loop,
	}
}

// Start arms the timer; a previous pending run is superseded.
func (t *Timer) Start(d time.Duration, f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	gen := t.gen
	t.t = t.loop.clock.AfterFunc(d, func() {
		t.loop.Post(func() {
			if t.current(gen) {
				f()
			}
		})
	})
}

func (t *Timer) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return !t.closed && gen == t.gen
}

// Stop cancels a pending run, if any.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

// Close stops the timer permanently.
func (t *Timer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.gen++
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}
