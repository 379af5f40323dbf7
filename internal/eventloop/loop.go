// Package eventloop provides the single-goroutine cooperative loops the
// dispatch core runs on. A task posted to a loop runs to completion
// before any other task on that loop; cross-loop communication happens
// only through Post, Async and Timer.
package eventloop

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Loop is a single-goroutine task executor with FIFO ordering for tasks
// posted from the same source.
type Loop struct {
	name  string
	clock clockwork.Clock

	mu      sync.Mutex
	pending []func()
	closed  bool

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

type Option func(l *Loop)

func WithName(name string) Option {
	return func(l *Loop) {
		l.name = name
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(l *Loop) {
		l.clock = clock
	}
}

func New(opts ...Option) *Loop {
	l := &Loop{
		clock:  clockwork.NewRealClock(),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	go l.run()

	return l
}

func (l *Loop) Name() string {
	return l.name
}

func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Post schedules f onto the loop. It never blocks. Returns false after
// Close, in which case f is dropped.
func (l *Loop) Post(f func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()

		return false
	}
	l.pending = append(l.pending, f)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}

	return true
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		select {
		case <-l.notify:
			l.drain()
		case <-l.stop:
			// Run what was accepted before the close flag flipped.
			l.drain()

			return
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		tasks := l.pending
		l.pending = nil
		l.mu.Unlock()

		if len(tasks) == 0 {
			return
		}
		for _, task := range tasks {
			task()
		}
	}
}

// Close stops accepting tasks, runs the already-accepted ones and waits
// for the loop goroutine to exit or ctx to expire.
func (l *Loop) Close(ctx context.Context) error {
	l.mu.Lock()
	alreadyClosed := l.closed
	l.closed = true
	l.mu.Unlock()

	if !alreadyClosed {
		close(l.stop)
	}

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
