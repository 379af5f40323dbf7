package pool

import (
	"sync/atomic"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/internal/conn"
	"github.com/ringdb/ring-go-driver/internal/xsync"
	"github.com/ringdb/ring-go-driver/transport"
)

// PoolConnector bulk-opens the configured number of connections for one
// new host. It aggregates the outcomes: transient failures turn into
// scheduled reconnects, the first critical failure aborts the whole
// pool. One-shot.
type PoolConnector struct {
	pool *Pool

	mu       xsync.Mutex
	pending  map[*conn.Connector]struct{}
	critical error

	remaining atomic.Int32
	released  bool
}

func NewPoolConnector(m *Manager, a addr.Addr) *PoolConnector {
	return &PoolConnector{
		pool:    newPool(m, a),
		pending: make(map[*conn.Connector]struct{}),
	}
}

func (pc *PoolConnector) Addr() addr.Addr {
	return pc.pool.addr
}

// Connect launches all connectors concurrently. cb runs on the pool's
// loop once every outcome settled. If cb does not ReleasePool, the
// pool is closed.
func (pc *PoolConnector) Connect(cb func(*PoolConnector)) {
	m := pc.pool.manager
	n := m.settings.NumConnectionsPerHost
	pc.remaining.Store(int32(n))

	cts := make([]*conn.Connector, 0, n)
	pc.mu.WithLock(func() {
		for i := 0; i < n; i++ {
			ct := conn.NewConnector(
				m.tc,
				pc.pool.addr,
				m.Keyspace(),
				m.settings.ConnectTimeout,
				pc.pool.loop,
				m.settings.Trace,
			)
			pc.pending[ct] = struct{}{}
			cts = append(cts, ct)
		}
	})

	for _, ct := range cts {
		ct.Connect(func(ct *conn.Connector) {
			pc.handleConnect(ct, cb)
		})
	}
}

// Cancel aborts remaining handshakes and closes the pool.
func (pc *PoolConnector) Cancel() {
	pc.pool.Close()
	pc.mu.WithLock(func() {
		for ct := range pc.pending {
			ct.Cancel()
		}
	})
}

// handleConnect consumes one connector outcome on the pool's loop.
func (pc *PoolConnector) handleConnect(ct *conn.Connector, cb func(*PoolConnector)) {
	pc.mu.Lock()
	delete(pc.pending, ct)

	switch {
	case ct.IsOK():
		pc.mu.Unlock()
		pc.pool.addConnection(ct)
	case ct.IsCancelled():
		pc.mu.Unlock()
	case ct.IsCritical():
		if pc.critical == nil {
			pc.critical = ct.Err()
			for other := range pc.pending {
				other.Cancel()
			}
			pc.mu.Unlock()
			pc.pool.Close()
		} else {
			pc.mu.Unlock()
		}
	default:
		pc.mu.Unlock()
		if ct.IsTimeout() {
			pc.pool.manager.settings.Sink.IncConnectionTimeouts()
		}
		pc.pool.scheduleReconnect()
	}

	if pc.remaining.Add(-1) == 0 {
		pc.pool.notifyUpOrDown()
		cb(pc)
		if !pc.released {
			pc.pool.Close()
		}
	}
}

// ReleasePool transfers pool ownership to the caller. Valid only inside
// the completion callback.
func (pc *PoolConnector) ReleasePool() *Pool {
	pc.released = true

	return pc.pool
}

func (pc *PoolConnector) IsOK() bool {
	return !pc.IsCritical()
}

func (pc *PoolConnector) IsCritical() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	return pc.critical != nil
}

func (pc *PoolConnector) IsKeyspaceError() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.critical == nil {
		return false
	}

	return transport.CodeOf(pc.critical) == transport.CodeKeyspace
}

func (pc *PoolConnector) Err() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	return pc.critical
}
