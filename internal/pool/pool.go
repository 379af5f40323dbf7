// Package pool maintains per-host connection pools, reconnecting lost
// connections and reporting host availability transitions upward.
package pool

import (
	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/internal/conn"
	"github.com/ringdb/ring-go-driver/internal/eventloop"
	"github.com/ringdb/ring-go-driver/internal/xsync"
	"github.com/ringdb/ring-go-driver/reconnect"
	"github.com/ringdb/ring-go-driver/trace"
)

type closeState int

const (
	stateOpen = closeState(iota)
	stateClosing
	stateClosed
)

// Pool owns up to NumConnectionsPerHost live connections to one host.
// Connection mutation happens on the owning loop; FindLeastBusy is
// callable from any goroutine under the read lock.
type Pool struct {
	manager *Manager
	addr    addr.Addr
	loop    *eventloop.Loop

	mu       xsync.RWMutex
	state    closeState
	up       bool
	conns    []*conn.Conn
	pending  map[*conn.Connector]struct{}
	armed    map[*eventloop.Timer]struct{}
	schedule reconnect.Schedule
}

func newPool(manager *Manager, a addr.Addr) *Pool {
	return &Pool{
		manager: manager,
		addr:    a,
		loop:    manager.loop,
		pending: make(map[*conn.Connector]struct{}),
		armed:   make(map[*eventloop.Timer]struct{}),
	}
}

func (p *Pool) Addr() addr.Addr {
	return p.addr
}

func (p *Pool) Manager() *Manager {
	return p.manager
}

// FindLeastBusy returns the live connection with the fewest outstanding
// requests, or nil if the pool is empty or closing. Thread-safe.
func (p *Pool) FindLeastBusy() *conn.Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != stateOpen {
		return nil
	}
	var best *conn.Conn
	bestInFlight := 0
	for _, c := range p.conns {
		if c.IsClosed() {
			continue
		}
		if n := c.InFlight(); best == nil || n < bestInFlight {
			best, bestInFlight = c, n
		}
	}

	return best
}

// ConnCount reports the number of live connections. Thread-safe.
func (p *Pool) ConnCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.conns)
}

// PendingCount reports in-flight connectors plus armed reconnect
// timers. Thread-safe.
func (p *Pool) PendingCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.pending) + len(p.armed)
}

// Close is idempotent and thread-safe. Pending connectors are
// cancelled; their callbacks still fire but see the closing pool.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.state != stateOpen {
		p.mu.Unlock()

		return
	}
	p.state = stateClosing

	for t := range p.armed {
		t.Close()
		delete(p.armed, t)
	}
	for ct := range p.pending {
		ct.Cancel()
	}
	toClose := p.conns
	p.conns = nil
	p.traceState("closing")
	p.mu.Unlock()

	// Transport Close may fire OnClose synchronously; keep it outside
	// the lock.
	for _, c := range toClose {
		c.Close()
	}

	p.mu.Lock()
	drained := p.maybeClosedLocked()
	p.mu.Unlock()
	if drained {
		p.manager.poolClosed(p)
	}
}

// maybeClosedLocked transitions CLOSING to CLOSED once connections and
// pending connectors drained. Returns true on the transition.
func (p *Pool) maybeClosedLocked() bool {
	if p.state != stateClosing {
		return false
	}
	if len(p.conns) != 0 || len(p.pending) != 0 || len(p.armed) != 0 {
		return false
	}
	p.state = stateClosed
	p.traceState("closed")

	return true
}

// addConnection takes ownership of a freshly connected transport
// connection. Runs on the owning loop.
func (p *Pool) addConnection(ct *conn.Connector) {
	raw := ct.Release()
	if raw == nil {
		return
	}

	p.mu.Lock()
	if p.state != stateOpen {
		p.mu.Unlock()
		raw.Close()

		return
	}
	c := conn.New(
		raw,
		p.addr,
		p.loop,
		p.manager.settings.MaxInFlightPerConn,
		p.manager.Keyspace,
		p.manager.settings.Trace,
		p.closeConnection,
	)
	p.conns = append(p.conns, c)
	p.schedule = nil // next failure starts a fresh backoff sequence
	wasUp := p.up
	p.up = true
	p.mu.Unlock()

	if !wasUp {
		p.manager.notifyUp(p.addr)
	}
}

// notifyUpOrDown reports the pool's availability after a bulk connect
// settles. A pool that never got a connection still reports down.
func (p *Pool) notifyUpOrDown() {
	p.mu.Lock()
	n := len(p.conns)
	wasUp := p.up
	if n > 0 {
		p.up = true
	} else {
		p.up = false
	}
	p.mu.Unlock()

	switch {
	case n > 0 && !wasUp:
		p.manager.notifyUp(p.addr)
	case n == 0:
		p.manager.notifyDown(p.addr)
	}
}

// closeConnection handles a connection that saw EOF or a protocol
// error. Runs on the owning loop.
func (p *Pool) closeConnection(c *conn.Conn, _ error) {
	p.mu.Lock()
	for i, known := range p.conns {
		if known == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)

			break
		}
	}
	drained := false
	wentDown := false
	if p.state == stateOpen {
		p.scheduleReconnectLocked()
		if len(p.conns) == 0 && p.up {
			p.up = false
			wentDown = true
		}
	} else {
		drained = p.maybeClosedLocked()
	}
	p.mu.Unlock()

	if wentDown {
		p.manager.notifyDown(p.addr)
	}
	if drained {
		p.manager.poolClosed(p)
	}
}

func (p *Pool) scheduleReconnect() {
	p.mu.Lock()
	p.scheduleReconnectLocked()
	p.mu.Unlock()
}

// scheduleReconnectLocked arms a backoff timer for one lost connection
// slot. The slot stays accounted against the pool size bound while the
// timer is armed.
func (p *Pool) scheduleReconnectLocked() {
	if p.state != stateOpen {
		return
	}
	if len(p.conns)+len(p.pending)+len(p.armed) >= p.manager.settings.NumConnectionsPerHost {
		return
	}
	if p.schedule == nil {
		p.schedule = p.manager.settings.Reconnect.NewSchedule()
	}
	delay := p.schedule.NextDelay()

	var onDone func(trace.ReconnectDoneInfo)
	if t := p.manager.settings.Trace; t.OnReconnect != nil {
		onDone = t.OnReconnect(trace.ReconnectStartInfo{Addr: p.addr, Delay: delay})
	}

	timer := eventloop.NewTimer(p.loop)
	p.armed[timer] = struct{}{}
	timer.Start(delay, func() {
		p.handleReconnectTimer(timer, onDone)
	})
}

// handleReconnectTimer runs on the owning loop when a reconnect delay
// elapses; it launches the actual connector.
func (p *Pool) handleReconnectTimer(timer *eventloop.Timer, onDone func(trace.ReconnectDoneInfo)) {
	p.mu.Lock()
	if _, ok := p.armed[timer]; !ok {
		p.mu.Unlock()

		return
	}
	delete(p.armed, timer)
	if p.state != stateOpen {
		drained := p.maybeClosedLocked()
		p.mu.Unlock()
		if drained {
			p.manager.poolClosed(p)
		}

		return
	}
	ct := conn.NewConnector(
		p.manager.tc,
		p.addr,
		p.manager.Keyspace(),
		p.manager.settings.ConnectTimeout,
		p.loop,
		p.manager.settings.Trace,
	)
	p.pending[ct] = struct{}{}
	p.mu.Unlock()

	p.manager.settings.Sink.IncReconnects()
	ct.Connect(func(ct *conn.Connector) {
		p.handleReconnect(ct, onDone)
	})
}

// handleReconnect consumes one connector outcome on the owning loop.
func (p *Pool) handleReconnect(ct *conn.Connector, onDone func(trace.ReconnectDoneInfo)) {
	if onDone != nil {
		onDone(trace.ReconnectDoneInfo{Addr: p.addr, Error: ct.Err()})
	}

	p.mu.Lock()
	delete(p.pending, ct)

	if ct.IsCancelled() {
		drained := p.maybeClosedLocked()
		p.mu.Unlock()
		if drained {
			p.manager.poolClosed(p)
		}

		return
	}
	p.mu.Unlock()

	switch {
	case ct.IsOK():
		p.addConnection(ct)
	case ct.IsCritical():
		p.manager.notifyCriticalError(p.addr, ct.Err())
		p.Close()
	default:
		if ct.IsTimeout() {
			p.manager.settings.Sink.IncConnectionTimeouts()
		}
		p.scheduleReconnect()
	}
}

func (p *Pool) traceState(state string) {
	if t := p.manager.settings.Trace; t.OnPoolStateChange != nil {
		t.OnPoolStateChange(trace.PoolStateChangeInfo{Addr: p.addr, State: state})
	}
}
