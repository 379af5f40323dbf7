package conn

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/internal/eventloop"
	"github.com/ringdb/ring-go-driver/internal/xsync"
	"github.com/ringdb/ring-go-driver/trace"
	"github.com/ringdb/ring-go-driver/transport"
)

// Connector is a one-shot asynchronous handshake against one node. The
// completion callback always runs on the target loop, also after
// Cancel (with IsCancelled reporting true).
type Connector struct {
	tc       transport.Connector
	addr     addr.Addr
	keyspace string
	timeout  time.Duration
	loop     *eventloop.Loop
	trace    *trace.Driver

	mu        xsync.Mutex
	cancel    context.CancelFunc
	cancelled atomic.Bool

	raw transport.Connection
	err error
}

func NewConnector(
	tc transport.Connector,
	a addr.Addr,
	keyspace string,
	timeout time.Duration,
	loop *eventloop.Loop,
	t *trace.Driver,
) *Connector {
	return &Connector{
		tc:       tc,
		addr:     a,
		keyspace: keyspace,
		timeout:  timeout,
		loop:     loop,
		trace:    t,
	}
}

func (c *Connector) Addr() addr.Addr {
	return c.addr
}

// Connect launches the handshake. cb runs on the connector's loop.
func (c *Connector) Connect(cb func(*Connector)) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	c.mu.WithLock(func() {
		c.cancel = cancel
	})
	if c.cancelled.Load() {
		cancel()
	}

	var onDone func(trace.ConnDialDoneInfo)
	if c.trace != nil && c.trace.OnConnDial != nil {
		onDone = c.trace.OnConnDial(trace.ConnDialStartInfo{Addr: c.addr})
	}

	go func() {
		defer cancel()

		raw, err := c.tc.Connect(ctx, c.addr, c.keyspace)
		if err != nil && ctx.Err() != nil && transport.CodeOf(err) == transport.CodeInternal {
			err = transport.NewError(transport.CodeTimeout, c.addr, err)
		}
		if onDone != nil {
			onDone(trace.ConnDialDoneInfo{Error: err})
		}

		posted := c.loop.Post(func() {
			c.raw, c.err = raw, err
			if c.cancelled.Load() && raw != nil {
				raw.Close()
				c.raw = nil
			}
			cb(c)
		})
		if !posted && raw != nil {
			raw.Close()
		}
	}()
}

// Cancel aborts an in-flight handshake. The completion callback still
// fires but must not touch the (closing) pool.
func (c *Connector) Cancel() {
	c.cancelled.Store(true)
	c.mu.WithLock(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
}

func (c *Connector) IsOK() bool {
	return c.err == nil && c.raw != nil
}

func (c *Connector) IsCancelled() bool {
	return c.cancelled.Load()
}

func (c *Connector) IsCritical() bool {
	return transport.IsCritical(c.err)
}

func (c *Connector) IsTimeout() bool {
	return transport.CodeOf(c.err) == transport.CodeTimeout
}

func (c *Connector) Err() error {
	return c.err
}

// Release hands ownership of the raw connection to the caller.
func (c *Connector) Release() transport.Connection {
	raw := c.raw
	c.raw = nil

	return raw
}
