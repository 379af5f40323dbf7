package processor

import (
	"sync/atomic"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/host"
	"github.com/ringdb/ring-go-driver/tokenmap"
)

// Manager fans session-level events out over the request processors:
// request wakeups round-robin, topology and keyspace changes broadcast.
type Manager struct {
	processors []*Processor
	current    atomic.Uint64
}

func NewManager(processors []*Processor) *Manager {
	return &Manager{
		processors: processors,
	}
}

func (m *Manager) Processors() []*Processor {
	return m.processors
}

// NotifyRequestAsync wakes one processor. A processor that is already
// flushing elides the wakeup, so the round-robin biases toward waking
// an idle one.
func (m *Manager) NotifyRequestAsync() {
	m.processors[(m.current.Add(1)-1)%uint64(len(m.processors))].NotifyRequestAsync()
}

func (m *Manager) NotifyHostAddAsync(h *host.Host) {
	for _, p := range m.processors {
		p.NotifyHostAddAsync(h)
	}
}

func (m *Manager) NotifyHostUpAsync(a addr.Addr) {
	for _, p := range m.processors {
		p.NotifyHostUpAsync(a)
	}
}

func (m *Manager) NotifyHostDownAsync(a addr.Addr) {
	for _, p := range m.processors {
		p.NotifyHostDownAsync(a)
	}
}

func (m *Manager) NotifyHostRemoveAsync(h *host.Host) {
	for _, p := range m.processors {
		p.NotifyHostRemoveAsync(h)
	}
}

func (m *Manager) NotifyTokenMapUpdateAsync(tm tokenmap.TokenMap) {
	for _, p := range m.processors {
		p.NotifyTokenMapUpdateAsync(tm)
	}
}

// NotifyPrepareHostAsync routes the prepared-statement replay for one
// host to a single processor; replaying from every processor would
// prepare the same statements N times.
func (m *Manager) NotifyPrepareHostAsync(a addr.Addr, queries []string) {
	m.processors[(m.current.Add(1)-1)%uint64(len(m.processors))].PrepareHostAsync(a, queries)
}

// KeyspaceUpdate broadcasts synchronously; each processor forwards to
// its pool manager.
func (m *Manager) KeyspaceUpdate(keyspace string) {
	for _, p := range m.processors {
		p.KeyspaceUpdate(keyspace)
	}
}

func (m *Manager) Close() {
	for _, p := range m.processors {
		p.Close()
	}
}

// CloseHandles must follow Close.
func (m *Manager) CloseHandles() {
	for _, p := range m.processors {
		p.CloseHandles()
	}
}
