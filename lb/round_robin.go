package lb

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/ringdb/ring-go-driver/host"
	"github.com/ringdb/ring-go-driver/tokenmap"
)

// RoundRobin cycles query plans over every known host that is up or
// still in the Created state.
type RoundRobin struct {
	mu    sync.RWMutex
	hosts []*host.Host
	index atomic.Uint64
}

var _ Policy = (*RoundRobin)(nil)

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (p *RoundRobin) Init(_ *host.Host, hosts host.Map, rnd *rand.Rand) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.hosts = make([]*host.Host, 0, len(hosts))
	for _, h := range hosts {
		p.hosts = append(p.hosts, h)
	}
	if rnd != nil {
		rnd.Shuffle(len(p.hosts), func(i, j int) {
			p.hosts[i], p.hosts[j] = p.hosts[j], p.hosts[i]
		})
	}
}

func (p *RoundRobin) Distance(*host.Host) Distance {
	return Local
}

func (p *RoundRobin) NewQueryPlan(string, Request, tokenmap.TokenMap) QueryPlan {
	p.mu.RLock()
	snapshot := p.hosts
	p.mu.RUnlock()

	return &roundRobinPlan{
		hosts: snapshot,
		start: p.index.Add(1) - 1,
	}
}

func (p *RoundRobin) OnAdd(h *host.Host) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, known := range p.hosts {
		if known.Addr() == h.Addr() {
			return
		}
	}
	p.hosts = append(append(make([]*host.Host, 0, len(p.hosts)+1), p.hosts...), h)
}

func (p *RoundRobin) OnUp(*host.Host) {}

func (p *RoundRobin) OnDown(*host.Host) {}

func (p *RoundRobin) OnRemove(h *host.Host) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*host.Host, 0, len(p.hosts))
	for _, known := range p.hosts {
		if known.Addr() != h.Addr() {
			out = append(out, known)
		}
	}
	p.hosts = out
}

func (p *RoundRobin) RegisterHandles(Runner) {}

func (p *RoundRobin) CloseHandles() {}

type roundRobinPlan struct {
	hosts []*host.Host
	start uint64
	taken int
}

func (p *roundRobinPlan) Next() *host.Host {
	for p.taken < len(p.hosts) {
		h := p.hosts[(p.start+uint64(p.taken))%uint64(len(p.hosts))]
		p.taken++
		if h.IsUp() || h.State() == host.Created {
			return h
		}
	}

	return nil
}
