// Package control declares the control-connection collaborator: the
// dispatch core consumes its readiness, topology and keyspace events
// and never speaks the event protocol itself.
package control

import (
	"context"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/host"
)

// Listener receives control-connection events. The session implements
// it. Callbacks may arrive from the control connection's own goroutine.
type Listener interface {
	// OnReady fires once the control connection finished its initial
	// discovery. current is the node it is connected to.
	OnReady(current *host.Host, hosts []*host.Host)

	OnUp(a addr.Addr)
	OnDown(a addr.Addr)
	OnAdd(h *host.Host)
	OnRemove(h *host.Host)

	OnKeyspaceChange(keyspace string)

	OnError(err error)
}

// Connection is the control-connection collaborator.
type Connection interface {
	Connect(ctx context.Context, l Listener) error
	Close()
}
