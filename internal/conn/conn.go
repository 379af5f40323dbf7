// Package conn wraps collaborator transport connections into pooled
// connections owned by exactly one pool and one event loop.
package conn

import (
	"sync/atomic"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/internal/eventloop"
	"github.com/ringdb/ring-go-driver/trace"
	"github.com/ringdb/ring-go-driver/transport"
)

// Conn is one live connection owned by a pool. Write is called only
// from the owning loop; InFlight is readable from any goroutine.
type Conn struct {
	raw      transport.Connection
	addr     addr.Addr
	loop     *eventloop.Loop
	keyspace func() string

	maxInFlight int32
	inFlight    atomic.Int32
	closed      atomic.Bool

	trace *trace.Driver
}

// New wraps raw. onClose runs once on the owning loop when the
// connection dies, either remotely or via Close.
func New(
	raw transport.Connection,
	a addr.Addr,
	loop *eventloop.Loop,
	maxInFlight int,
	keyspace func() string,
	t *trace.Driver,
	onClose func(c *Conn, err error),
) *Conn {
	c := &Conn{
		raw:         raw,
		addr:        a,
		loop:        loop,
		keyspace:    keyspace,
		maxInFlight: int32(maxInFlight),
		trace:       t,
	}
	raw.OnClose(func(err error) {
		if c.closed.Swap(true) {
			return
		}
		if t != nil && t.OnConnClose != nil {
			t.OnConnClose(trace.ConnCloseInfo{Addr: a, Error: err})
		}
		if onClose != nil {
			loop.Post(func() {
				onClose(c, err)
			})
		}
	})

	return c
}

func (c *Conn) Addr() addr.Addr {
	return c.addr
}

// Write submits the callback's request. False means the connection is
// closed or at its stream-id budget; the caller moves on to another
// connection. Must run on the owning loop.
func (c *Conn) Write(cb transport.Callback) bool {
	if c.closed.Load() {
		return false
	}
	if c.inFlight.Load() >= c.maxInFlight {
		return false
	}
	if ks := c.keyspace(); ks != "" && c.raw.Keyspace() != ks {
		if !c.raw.SetKeyspace(ks) {
			return false
		}
	}

	c.inFlight.Add(1)
	if !c.raw.Write(&writeCallback{c: c, inner: cb}) {
		c.inFlight.Add(-1)

		return false
	}

	return true
}

// InFlight is an atomic load, callable from any goroutine.
func (c *Conn) InFlight() int {
	return int(c.inFlight.Load())
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Close tears down the transport; the OnClose handler fires as usual.
func (c *Conn) Close() {
	c.raw.Close()
}

// writeCallback forwards completion back onto the owning loop so the
// in-flight count only ever decreases there.
type writeCallback struct {
	c     *Conn
	inner transport.Callback
}

func (w *writeCallback) Request() transport.Request {
	return w.inner.Request()
}

func (w *writeCallback) OnResponse(resp transport.Response) {
	w.complete(func() {
		w.inner.OnResponse(resp)
	})
}

func (w *writeCallback) OnError(err error) {
	w.complete(func() {
		w.inner.OnError(err)
	})
}

func (w *writeCallback) complete(f func()) {
	posted := w.c.loop.Post(func() {
		w.c.inFlight.Add(-1)
		f()
	})
	if !posted {
		// Loop already closed; still complete so handlers drain.
		w.c.inFlight.Add(-1)
		f()
	}
}
