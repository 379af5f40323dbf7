package ringtest

import (
	"context"
	"sync"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/control"
	"github.com/ringdb/ring-go-driver/host"
)

// Control is a hand-driven control connection: Connect reports the
// scripted topology immediately and the Emit helpers replay events.
type Control struct {
	mu       sync.Mutex
	current  *host.Host
	hosts    []*host.Host
	listener control.Listener
	closed   bool
}

func NewControl(current *host.Host, hosts ...*host.Host) *Control {
	return &Control{
		current: current,
		hosts:   hosts,
	}
}

func (c *Control) Connect(_ context.Context, l control.Listener) error {
	c.mu.Lock()
	c.listener = l
	current, hosts := c.current, c.hosts
	c.mu.Unlock()

	l.OnReady(current, hosts)

	return nil
}

func (c *Control) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Control) get() control.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	return c.listener
}

func (c *Control) EmitUp(a addr.Addr) {
	if l := c.get(); l != nil {
		l.OnUp(a)
	}
}

func (c *Control) EmitDown(a addr.Addr) {
	if l := c.get(); l != nil {
		l.OnDown(a)
	}
}

func (c *Control) EmitAdd(h *host.Host) {
	if l := c.get(); l != nil {
		l.OnAdd(h)
	}
}

func (c *Control) EmitRemove(h *host.Host) {
	if l := c.get(); l != nil {
		l.OnRemove(h)
	}
}

func (c *Control) EmitKeyspaceChange(keyspace string) {
	if l := c.get(); l != nil {
		l.OnKeyspaceChange(keyspace)
	}
}
