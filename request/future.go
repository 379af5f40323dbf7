package request

import (
	"context"
	"sync"

	"github.com/ringdb/ring-go-driver/transport"
)

// Future is the caller's handle on one in-flight request. It resolves
// exactly once, with either a response or an error.
type Future struct {
	once sync.Once
	done chan struct{}

	resp transport.Response
	err  error
}

func NewFuture() *Future {
	return &Future{
		done: make(chan struct{}),
	}
}

func (f *Future) Set(resp transport.Response) {
	f.once.Do(func() {
		f.resp = resp
		close(f.done)
	})
}

func (f *Future) SetErr(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx expires.
func (f *Future) Await(ctx context.Context) (transport.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the failure, if any. Valid only after Done.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Resolved reports whether the future already completed.
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
