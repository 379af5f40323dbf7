package pool

import (
	"context"
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/internal/conn"
	"github.com/ringdb/ring-go-driver/internal/eventloop"
	"github.com/ringdb/ring-go-driver/transport"
)

// Listener receives pool-level availability transitions. Implemented by
// the request processor.
type Listener interface {
	OnPoolUp(a addr.Addr)
	OnPoolDown(a addr.Addr)
	OnPoolCriticalError(a addr.Addr, err error)
}

// Manager aggregates the pools of every reachable host for one request
// processor.
type Manager struct {
	loop     *eventloop.Loop
	tc       transport.Connector
	settings Settings
	listener Listener

	pools    cmap.ConcurrentMap[string, *Pool]
	keyspace atomic.Value

	closing    atomic.Bool
	closedOnce sync.Once
	closed     chan struct{}
}

func NewManager(
	loop *eventloop.Loop,
	tc transport.Connector,
	settings Settings,
	keyspace string,
	listener Listener,
) *Manager {
	m := &Manager{
		loop:     loop,
		tc:       tc,
		settings: settings.WithDefaults(),
		listener: listener,
		pools:    cmap.New[*Pool](),
		closed:   make(chan struct{}),
	}
	m.keyspace.Store(keyspace)

	return m
}

// Connect bulk-opens pools for every address. cb runs on the manager's
// loop with the connectors that failed critically; pools that merely
// lost the race to their first connection are kept and keep
// reconnecting.
func (m *Manager) Connect(addrs []addr.Addr, cb func(failures []*PoolConnector)) {
	if len(addrs) == 0 {
		m.loop.Post(func() {
			cb(nil)
		})

		return
	}

	var (
		mu        sync.Mutex
		failures  []*PoolConnector
		remaining = int32(len(addrs))
	)
	done := func() {
		mu.Lock()
		out := failures
		mu.Unlock()
		cb(out)
	}

	for _, a := range addrs {
		pc := NewPoolConnector(m, a)
		pc.Connect(func(pc *PoolConnector) {
			if pc.IsCritical() {
				mu.Lock()
				failures = append(failures, pc)
				mu.Unlock()
			} else {
				m.insertPool(pc.ReleasePool())
			}
			if atomic.AddInt32(&remaining, -1) == 0 {
				done()
			}
		})
	}
}

// FindLeastBusy picks the least busy connection of the host's pool.
// Thread-safe.
func (m *Manager) FindLeastBusy(a addr.Addr) *conn.Conn {
	p, ok := m.pools.Get(a.String())
	if !ok {
		return nil
	}

	return p.FindLeastBusy()
}

// Available lists addresses whose pools hold at least one live
// connection. Thread-safe.
func (m *Manager) Available() []addr.Addr {
	out := make([]addr.Addr, 0, m.pools.Count())
	m.pools.IterCb(func(_ string, p *Pool) {
		if p.ConnCount() > 0 {
			out = append(out, p.Addr())
		}
	})

	return out
}

// Add starts a pool for a new host. Duplicate adds are absorbed here.
// The pool is published only if it arrives with a live connection.
func (m *Manager) Add(a addr.Addr) {
	if m.closing.Load() || m.pools.Has(a.String()) {
		return
	}

	pc := NewPoolConnector(m, a)
	pc.Connect(func(pc *PoolConnector) {
		p := pc.ReleasePool()
		if p.ConnCount() == 0 {
			p.Close()

			return
		}
		if !m.insertPool(p) {
			p.Close()
		}
	})
}

func (m *Manager) insertPool(p *Pool) bool {
	if m.closing.Load() {
		p.Close()

		return false
	}

	return m.pools.SetIfAbsent(p.Addr().String(), p)
}

// SetKeyspace installs the current keyspace; connections observe it on
// their next write and switch with a USE round-trip.
func (m *Manager) SetKeyspace(keyspace string) {
	m.keyspace.Store(keyspace)
}

func (m *Manager) Keyspace() string {
	return m.keyspace.Load().(string)
}

// Close closes every pool. Completion is observable via CloseAwait.
func (m *Manager) Close() {
	if m.closing.Swap(true) {
		return
	}
	pools := m.pools.Items()
	if len(pools) == 0 {
		m.closedOnce.Do(func() {
			close(m.closed)
		})

		return
	}
	for _, p := range pools {
		p.Close()
	}
}

// CloseAwait blocks until every pool reached CLOSED or ctx expired.
func (m *Manager) CloseAwait(ctx context.Context) error {
	select {
	case <-m.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseHandles releases loop-registered handles. Must follow Close.
func (m *Manager) CloseHandles() {
	// Reconnect timers die with their pools in Close; the closed signal
	// is the only manager-level handle left.
	m.closedOnce.Do(func() {
		close(m.closed)
	})
}

// poolClosed removes a fully drained pool from the map. A pool that was
// never published (a losing duplicate) leaves the published one alone.
func (m *Manager) poolClosed(p *Pool) {
	m.pools.RemoveCb(p.Addr().String(), func(_ string, cur *Pool, exists bool) bool {
		return exists && cur == p
	})
	if m.closing.Load() && m.pools.Count() == 0 {
		m.closedOnce.Do(func() {
			close(m.closed)
		})
	}
}

func (m *Manager) notifyUp(a addr.Addr) {
	if m.listener != nil && !m.closing.Load() {
		m.listener.OnPoolUp(a)
	}
}

func (m *Manager) notifyDown(a addr.Addr) {
	if m.listener != nil && !m.closing.Load() {
		m.listener.OnPoolDown(a)
	}
}

func (m *Manager) notifyCriticalError(a addr.Addr, err error) {
	if m.listener != nil && !m.closing.Load() {
		m.listener.OnPoolCriticalError(a, err)
	}
}
