package host

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ringdb/ring-go-driver/addr"
)

// State is the lifecycle state of a cluster node as seen by the driver.
type State int32

const (
	Created = State(iota)
	Up
	Down
	Removed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Up:
		return "up"
	case Down:
		return "down"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Host is one cluster node. Identity is its address; everything else is
// metadata delivered by the control connection.
type Host struct {
	addr  addr.Addr
	id    uuid.UUID
	state atomic.Int32

	// mark is flipped during contact-point purge sweeps: hosts still
	// present after re-resolution keep the mark, the rest are removed.
	mark atomic.Bool

	mu         sync.RWMutex
	datacenter string
	rack       string
	tokens     []string
}

type Option func(h *Host)

func WithID(id uuid.UUID) Option {
	return func(h *Host) {
		h.id = id
	}
}

func WithDatacenter(dc string) Option {
	return func(h *Host) {
		h.datacenter = dc
	}
}

func WithRack(rack string) Option {
	return func(h *Host) {
		h.rack = rack
	}
}

func WithTokens(tokens []string) Option {
	return func(h *Host) {
		h.tokens = tokens
	}
}

func New(a addr.Addr, opts ...Option) *Host {
	h := &Host{
		addr: a,
		id:   uuid.New(),
	}
	h.state.Store(int32(Created))
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	return h
}

func (h *Host) Addr() addr.Addr {
	return h.addr
}

func (h *Host) ID() uuid.UUID {
	return h.id
}

func (h *Host) State() State {
	return State(h.state.Load())
}

func (h *Host) SetState(s State) {
	h.state.Store(int32(s))
}

func (h *Host) SetUp() {
	h.state.Store(int32(Up))
}

func (h *Host) SetDown() {
	h.state.Store(int32(Down))
}

func (h *Host) IsUp() bool {
	return h.State() == Up
}

func (h *Host) Mark(v bool) {
	h.mark.Store(v)
}

func (h *Host) IsMarked() bool {
	return h.mark.Load()
}

func (h *Host) Datacenter() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.datacenter
}

func (h *Host) Rack() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.rack
}

func (h *Host) Tokens() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append(make([]string, 0, len(h.tokens)), h.tokens...)
}

func (h *Host) Update(opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
}

// Map is an address-keyed host set.
type Map map[addr.Addr]*Host

func (m Map) Copy() Map {
	out := make(Map, len(m))
	for a, h := range m {
		out[a] = h
	}

	return out
}

func (m Map) Addrs() []addr.Addr {
	out := make([]addr.Addr, 0, len(m))
	for a := range m {
		out = append(out, a)
	}

	return out
}
