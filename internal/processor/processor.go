// Package processor implements the event-loop workers that drain the
// request queue, consult load-balancing policies and write requests
// onto pooled connections.
package processor

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/host"
	"github.com/ringdb/ring-go-driver/internal/eventloop"
	"github.com/ringdb/ring-go-driver/internal/mpmc"
	"github.com/ringdb/ring-go-driver/internal/pool"
	"github.com/ringdb/ring-go-driver/lb"
	"github.com/ringdb/ring-go-driver/metrics"
	"github.com/ringdb/ring-go-driver/request"
	"github.com/ringdb/ring-go-driver/ringerr"
	"github.com/ringdb/ring-go-driver/tokenmap"
	"github.com/ringdb/ring-go-driver/trace"
	"github.com/ringdb/ring-go-driver/transport"
)

const (
	defaultFlushRatio              = 90
	defaultMaxSchemaWaitTime       = 10 * time.Second
	defaultSchemaAgreementInterval = 200 * time.Millisecond

	// flushTimerThreshold is the smallest idle slice worth a timer;
	// anything shorter re-enters the flush immediately.
	flushTimerThreshold = time.Millisecond
)

type Settings struct {
	Pool                    pool.Settings
	MaxSchemaWaitTime       time.Duration
	SchemaAgreementInterval time.Duration
	PrepareOnAllHosts       bool
	DownOnCriticalError     bool
	FlushRatio              int
}

func (s Settings) WithDefaults() Settings {
	s.Pool = s.Pool.WithDefaults()
	if s.MaxSchemaWaitTime <= 0 {
		s.MaxSchemaWaitTime = defaultMaxSchemaWaitTime
	}
	if s.SchemaAgreementInterval <= 0 {
		s.SchemaAgreementInterval = defaultSchemaAgreementInterval
	}
	if s.FlushRatio <= 0 || s.FlushRatio > 100 {
		s.FlushRatio = defaultFlushRatio
	}

	return s
}

// PreparedMetadata is the session-level cache entry produced after a
// successful PREPARE.
type PreparedMetadata struct {
	Query            string
	Keyspace         string
	ResultMetadataID []byte
	Response         transport.Response
}

// Listener receives processor-level events on behalf of the session.
type Listener interface {
	OnUp(a addr.Addr)
	OnDown(a addr.Addr)
	OnCriticalError(a addr.Addr, err error)
	OnKeyspaceChanged(keyspace string)
	OnPreparedMetadataChanged(id string, entry PreparedMetadata)
}

// Processor owns one event loop, one pool manager and a local copy of
// the host map and token map. Its load-balancing policies come from the
// session's profiles and are the same instances every other processor
// uses, so they must be safe for concurrent use.
type Processor struct {
	index    int
	loop     *eventloop.Loop
	clock    clockwork.Clock
	settings Settings
	listener Listener
	trace    *trace.Driver
	sink     metrics.Sink

	queue    *mpmc.Queue[*Handler]
	tc       transport.Connector
	keyspace string

	defaultProfile *request.Profile
	profiles       map[string]*request.Profile
	policies       []lb.Policy

	// Loop-confined state.
	mgr   *pool.Manager
	hosts host.Map
	tm    tokenmap.TokenMap
	rnd   *rand.Rand

	async      *eventloop.Async
	flushTimer *eventloop.Timer
	isFlushing atomic.Bool
	isClosing  atomic.Bool
}

func New(
	index int,
	loop *eventloop.Loop,
	queue *mpmc.Queue[*Handler],
	tc transport.Connector,
	keyspace string,
	defaultProfile *request.Profile,
	profiles map[string]*request.Profile,
	settings Settings,
	listener Listener,
	t *trace.Driver,
	sink metrics.Sink,
) *Processor {
	if t == nil {
		t = &trace.Driver{}
	}
	if sink == nil {
		sink = metrics.Nop()
	}
	p := &Processor{
		index:          index,
		loop:           loop,
		clock:          loop.Clock(),
		settings:       settings.WithDefaults(),
		listener:       listener,
		trace:          t,
		sink:           sink,
		queue:          queue,
		tc:             tc,
		keyspace:       keyspace,
		defaultProfile: defaultProfile,
		profiles:       profiles,
		hosts:          make(host.Map),
	}
	p.settings.Pool.Trace = t
	p.settings.Pool.Sink = sink

	if defaultProfile.LoadBalancing() != nil {
		p.policies = append(p.policies, defaultProfile.LoadBalancing())
	}
	for name, profile := range profiles {
		if profile.LoadBalancing() != nil {
			p.policies = append(p.policies, profile.LoadBalancing())
		} else {
			profiles[name] = profile.WithDefaults(defaultProfile)
		}
	}

	p.async = eventloop.NewAsync(loop, p.flush)
	p.flushTimer = eventloop.NewTimer(loop)

	return p
}

// Connect initializes the policies and bulk-connects the pool manager
// over the processor's loop. cb runs on the loop.
func (p *Processor) Connect(
	current *host.Host,
	hosts host.Map,
	tm tokenmap.TokenMap,
	rnd *rand.Rand,
	cb func(p *Processor, err error),
) {
	p.loop.Post(func() {
		p.hosts = hosts.Copy()
		p.tm = tm
		p.rnd = rnd

		for _, policy := range p.policies {
			policy.Init(current, p.hosts, rnd)
			policy.RegisterHandles(p.loop)
		}

		p.mgr = pool.NewManager(p.loop, p.tc, p.settings.Pool, p.keyspace, p)
		p.mgr.Connect(p.hosts.Addrs(), func(failures []*pool.PoolConnector) {
			var err error
			keyspaceError := false
			for _, pc := range failures {
				if pc.IsKeyspaceError() {
					keyspaceError = true

					break
				}
				delete(p.hosts, pc.Addr())
			}
			switch {
			case keyspaceError:
				err = ringerr.New(ringerr.CodeUnableToSetKeyspace, "keyspace %q does not exist", p.keyspace)
			case len(p.hosts) == 0:
				err = ringerr.New(ringerr.CodeNoHostsAvailable, "unable to connect to any hosts")
			default:
				for _, h := range p.hosts {
					h.SetUp()
				}
			}
			cb(p, err)
		})
	})
}

func (p *Processor) Index() int {
	return p.index
}

func (p *Processor) Loop() *eventloop.Loop {
	return p.loop
}

// Manager exposes the pool manager for the session's auxiliary flows.
func (p *Processor) Manager() *pool.Manager {
	return p.mgr
}

// NotifyRequestAsync wakes the flush loop unless one is running.
func (p *Processor) NotifyRequestAsync() {
	if p.isFlushing.CompareAndSwap(false, true) {
		p.async.Send()
	}
}

func (p *Processor) NotifyHostAddAsync(h *host.Host) {
	p.loop.Post(func() {
		p.hostAdd(h)
	})
}

func (p *Processor) NotifyHostUpAsync(a addr.Addr) {
	p.loop.Post(func() {
		p.hostUp(a)
	})
}

func (p *Processor) NotifyHostDownAsync(a addr.Addr) {
	p.loop.Post(func() {
		p.hostDown(a)
	})
}

func (p *Processor) NotifyHostRemoveAsync(h *host.Host) {
	p.loop.Post(func() {
		p.hostRemove(h)
	})
}

func (p *Processor) NotifyTokenMapUpdateAsync(tm tokenmap.TokenMap) {
	p.loop.Post(func() {
		p.tm = tm
	})
}

// KeyspaceUpdate propagates synchronously to the pool manager.
func (p *Processor) KeyspaceUpdate(keyspace string) {
	if p.mgr != nil {
		p.mgr.SetKeyspace(keyspace)
	}
}

// Close shuts the pool manager down. CloseHandles must follow.
func (p *Processor) Close() {
	if p.mgr != nil {
		p.mgr.Close()
	}
}

// CloseHandles releases loop handles after Close and lets the flush
// loop drain the queue one final time so pending futures resolve.
func (p *Processor) CloseHandles() {
	if p.mgr != nil {
		p.mgr.CloseHandles()
	}
	for _, policy := range p.policies {
		policy.CloseHandles()
	}
	p.isClosing.Store(true)
	p.async.Send()
}

// flush is the central drain loop. It runs on the processor loop and
// throttles itself to FlushRatio percent of the loop's time.
func (p *Processor) flush() {
	start := p.clock.Now()
	var onDone func(trace.FlushDoneInfo)
	if p.trace.OnFlush != nil {
		onDone = p.trace.OnFlush(trace.FlushStartInfo{Processor: p.index})
	}

	n := 0
	for {
		h, ok := p.queue.Dequeue()
		if !ok {
			break
		}
		n++
		if profile, found := p.executionProfile(h.Request().ProfileName()); found {
			h.Init(profile, p.mgr, p.tm, p)
			h.Execute()
		} else {
			h.finishErr(ringerr.New(
				ringerr.CodeExecutionProfileInvalid,
				"%q does not exist", h.Request().ProfileName(),
			))
		}
		h.Release() // queue reference
	}

	if p.isClosing.Load() {
		p.async.Close()
		p.flushTimer.Close()
		if onDone != nil {
			onDone(trace.FlushDoneInfo{Processor: p.index, Requests: n, FlushTime: p.clock.Since(start)})
		}

		return
	}

	// Clearing the flag and re-checking the queue in this order closes
	// the wakeup race with NotifyRequestAsync (which elides its send
	// while the flag is up).
	p.isFlushing.Store(false)
	if p.queue.IsEmpty() || !p.isFlushing.CompareAndSwap(false, true) {
		if onDone != nil {
			onDone(trace.FlushDoneInfo{Processor: p.index, Requests: n, FlushTime: p.clock.Since(start)})
		}

		return
	}

	flushTime := p.clock.Since(start)
	idle := idleBudget(flushTime, p.settings.FlushRatio)
	if onDone != nil {
		onDone(trace.FlushDoneInfo{Processor: p.index, Requests: n, FlushTime: flushTime, IdleTime: idle})
	}
	if idle >= flushTimerThreshold {
		p.flushTimer.Start(roundToMillis(idle), p.flush)
	} else {
		p.async.Send()
	}
}

// idleBudget converts time spent flushing into the idle slice that
// keeps the loop at ratio percent flush work.
func idleBudget(flushTime time.Duration, ratio int) time.Duration {
	return flushTime * time.Duration(100-ratio) / time.Duration(ratio)
}

func roundToMillis(d time.Duration) time.Duration {
	return (d + 500*time.Microsecond) / time.Millisecond * time.Millisecond
}

func (p *Processor) executionProfile(name string) (*request.Profile, bool) {
	if name == "" {
		return p.defaultProfile, true
	}
	profile, ok := p.profiles[name]

	return profile, ok
}

// hostAdd runs on the loop. Duplicate adds are absorbed here and at the
// pool-manager level.
func (p *Processor) hostAdd(h *host.Host) {
	if _, known := p.hosts[h.Addr()]; known {
		p.mgr.Add(h.Addr()) // absorbed if the pool exists

		return
	}
	p.hosts[h.Addr()] = h
	p.mgr.Add(h.Addr())
	p.forEachRoutedPolicy(h, func(policy lb.Policy) {
		policy.OnAdd(h)
	})
}

func (p *Processor) hostRemove(h *host.Host) {
	delete(p.hosts, h.Addr())
	for _, policy := range p.policies {
		policy.OnRemove(h)
	}
}

func (p *Processor) hostUp(a addr.Addr) {
	h, ok := p.hosts[a]
	if !ok {
		return
	}
	h.SetUp()
	p.traceHostState(a, "up")
	p.forEachRoutedPolicy(h, func(policy lb.Policy) {
		policy.OnUp(h)
	})
}

func (p *Processor) hostDown(a addr.Addr) {
	h, ok := p.hosts[a]
	if !ok {
		return
	}
	h.SetDown()
	p.traceHostState(a, "down")
	p.forEachRoutedPolicy(h, func(policy lb.Policy) {
		policy.OnDown(h)
	})
}

// forEachRoutedPolicy skips policies that ignore the host entirely.
func (p *Processor) forEachRoutedPolicy(h *host.Host, f func(policy lb.Policy)) {
	for _, policy := range p.policies {
		if policy.Distance(h) == lb.Ignored {
			continue
		}
		f(policy)
	}
}

// IsHostUp answers from the processor's local host map.
func (p *Processor) IsHostUp(a addr.Addr) bool {
	h, ok := p.hosts[a]

	return ok && h.IsUp()
}

func (p *Processor) traceHostState(a addr.Addr, state string) {
	if p.trace.OnHostStateChange != nil {
		p.trace.OnHostStateChange(trace.HostStateChangeInfo{Addr: a, State: state})
	}
}

// Pool manager listener: pool transitions feed back through the session
// so every processor observes the same host state stream.

func (p *Processor) OnPoolUp(a addr.Addr) {
	p.loop.Post(func() {
		p.hostUp(a)
	})
	if p.listener != nil {
		p.listener.OnUp(a)
	}
}

func (p *Processor) OnPoolDown(a addr.Addr) {
	p.loop.Post(func() {
		p.hostDown(a)
	})
	if p.listener != nil {
		p.listener.OnDown(a)
	}
}

func (p *Processor) OnPoolCriticalError(a addr.Addr, err error) {
	if p.settings.DownOnCriticalError {
		p.loop.Post(func() {
			p.hostDown(a)
		})
		if p.listener != nil {
			p.listener.OnDown(a)
		}
	}
	if p.listener != nil {
		p.listener.OnCriticalError(a, err)
	}
}

func (p *Processor) OnKeyspaceChanged(keyspace string) {
	if p.trace.OnKeyspaceChange != nil {
		p.trace.OnKeyspaceChange(trace.KeyspaceChangeInfo{Keyspace: keyspace})
	}
	if p.listener != nil {
		p.listener.OnKeyspaceChanged(keyspace)
	}
}
