// Package ring is the client-side connection and request dispatch core
// of a driver for a wide-column distributed database. A Session keeps
// per-host connection pools over the cluster nodes, dispatches requests
// through load-balanced processor loops and absorbs topology changes
// delivered by the control connection.
package ring

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/config"
	"github.com/ringdb/ring-go-driver/control"
	"github.com/ringdb/ring-go-driver/host"
	"github.com/ringdb/ring-go-driver/internal/eventloop"
	"github.com/ringdb/ring-go-driver/internal/mpmc"
	"github.com/ringdb/ring-go-driver/internal/pool"
	"github.com/ringdb/ring-go-driver/internal/processor"
	"github.com/ringdb/ring-go-driver/internal/xerrors"
	"github.com/ringdb/ring-go-driver/internal/xsync"
	"github.com/ringdb/ring-go-driver/metrics"
	"github.com/ringdb/ring-go-driver/request"
	"github.com/ringdb/ring-go-driver/ringerr"
	"github.com/ringdb/ring-go-driver/trace"
)

// State is the session lifecycle state.
type State int32

const (
	StateClosed = State(iota)
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Session is the facade over the dispatch stack. Create with New,
// connect with ConnectAsync, submit with Execute/Prepare.
type Session struct {
	cfg   *config.Config
	clock clockwork.Clock
	trace *trace.Driver
	sink  metrics.Sink

	mu       xsync.Mutex
	state    State
	keyspace string

	hostsMu xsync.Mutex
	hosts   host.Map

	queue      *mpmc.Queue[*processor.Handler]
	loops      *eventloop.Group
	processors *processor.Manager
	ctrl       control.Connection

	connectFut       *request.Future
	connectTraceDone atomic.Pointer[func(trace.SessionConnectDoneInfo)]

	preparedMu xsync.RWMutex
	prepared   map[string]processor.PreparedMetadata
}

func New(cfg *config.Config) *Session {
	return &Session{
		cfg:      cfg,
		clock:    cfg.Clock(),
		trace:    cfg.Trace(),
		sink:     cfg.Sink(),
		hosts:    make(host.Map),
		prepared: make(map[string]processor.PreparedMetadata),
	}
}

func (s *Session) State() State {
	return xsync.Locked(&s.mu, func() State {
		return s.state
	})
}

// ConnectAsync establishes the control connection and, once it reports
// ready, builds the request queue and the processor loops. The returned
// future resolves when every processor finished its bulk connect.
func (s *Session) ConnectAsync(keyspace string) *request.Future {
	fut := request.NewFuture()

	s.mu.Lock()
	if s.state != StateClosed {
		state := s.state
		s.mu.Unlock()
		fut.SetErr(ringerr.New(ringerr.CodeUnableToConnect, "session is %s", state))

		return fut
	}
	s.state = StateConnecting
	if keyspace == "" {
		keyspace = s.cfg.Keyspace()
	}
	s.keyspace = keyspace
	s.connectFut = fut
	s.mu.Unlock()

	if s.trace.OnSessionConnect != nil {
		done := s.trace.OnSessionConnect(trace.SessionConnectStartInfo{
			ContactPoints: s.cfg.ContactPoints(),
			Keyspace:      keyspace,
		})
		s.connectTraceDone.Store(&done)
	}

	ctrl := s.cfg.Control()
	if ctrl == nil {
		s.notifyConnectError(ringerr.New(ringerr.CodeUnableToInit, "no control connection configured"))

		return fut
	}
	s.ctrl = ctrl

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout())
		defer cancel()
		if err := ctrl.Connect(ctx, s); err != nil {
			s.notifyConnectError(ringerr.New(ringerr.CodeNoHostsAvailable, "control connection: %v", err))
		}
	}()

	return fut
}

// OnReady implements control.Listener: initial discovery finished.
func (s *Session) OnReady(current *host.Host, hosts []*host.Host) {
	s.hostsMu.Lock()
	for _, h := range hosts {
		s.hosts[h.Addr()] = h
	}
	snapshot := s.hosts.Copy()
	s.hostsMu.Unlock()

	s.queue = mpmc.New[*processor.Handler](s.cfg.QueueSize())
	s.loops = eventloop.NewGroup(s.cfg.ProcessorCount(), eventloop.WithClock(s.clock))

	settings := processor.Settings{
		Pool: pool.Settings{
			NumConnectionsPerHost: s.cfg.NumConnectionsPerHost(),
			MaxInFlightPerConn:    s.cfg.MaxInFlightPerConn(),
			ConnectTimeout:        s.cfg.ConnectTimeout(),
			Reconnect:             s.cfg.ReconnectPolicy(),
		},
		MaxSchemaWaitTime:       s.cfg.MaxSchemaWaitTime(),
		SchemaAgreementInterval: s.cfg.SchemaAgreementInterval(),
		PrepareOnAllHosts:       s.cfg.PrepareOnAllHosts(),
		DownOnCriticalError:     s.cfg.DownOnCriticalError(),
	}

	n := s.loops.Size()
	procs := make([]*processor.Processor, n)
	for i := 0; i < n; i++ {
		procs[i] = processor.New(
			i,
			s.loops.At(i),
			s.queue,
			s.cfg.Connector(),
			s.keyspace,
			s.cfg.DefaultProfile(),
			s.cfg.Profiles(),
			settings,
			s,
			s.trace,
			s.sink,
		)
	}
	s.processors = processor.NewManager(procs)

	var (
		remaining = int32(n)
		errMu     xsync.Mutex
		firstErr  error
	)
	for _, p := range procs {
		var rnd *rand.Rand
		if s.cfg.RandomizedContactPoints() {
			rnd = rand.New(rand.NewSource(s.clock.Now().UnixNano()))
		}
		p.Connect(current, snapshot, s.cfg.TokenMap(), rnd, func(_ *processor.Processor, err error) {
			errMu.WithLock(func() {
				switch {
				case err == nil:
				case firstErr == nil:
					firstErr = err
				case errors.Is(err, ringerr.ErrUnableToSetKeyspace) &&
					!errors.Is(firstErr, ringerr.ErrUnableToSetKeyspace):
					// A missing keyspace outranks plain connect failures.
					firstErr = err
				}
			})
			if atomic.AddInt32(&remaining, -1) == 0 {
				s.handleProcessorsConnected(firstErr)
			}
		})
	}
}

func (s *Session) handleProcessorsConnected(err error) {
	if err != nil {
		// This runs on a processor loop, and teardown closes and waits
		// for every loop; tear down from a goroutine of its own.
		go func() {
			s.teardown()
			s.notifyConnectError(err)
		}()

		return
	}

	s.hostsMu.Lock()
	for _, h := range s.hosts {
		h.SetUp()
	}
	s.hostsMu.Unlock()

	s.mu.Lock()
	s.state = StateConnected
	fut := s.connectFut
	s.mu.Unlock()

	s.fireConnectTrace(nil)
	if fut != nil {
		fut.Set(nil)
	}
}

func (s *Session) notifyConnectError(err error) {
	s.mu.Lock()
	s.state = StateClosed
	fut := s.connectFut
	s.mu.Unlock()

	s.fireConnectTrace(err)
	if fut != nil {
		fut.SetErr(err)
	}
}

func (s *Session) fireConnectTrace(err error) {
	if done := s.connectTraceDone.Swap(nil); done != nil {
		(*done)(trace.SessionConnectDoneInfo{Error: err})
	}
}

// Execute submits a request. The future fails fast with
// NO_HOSTS_AVAILABLE when the session is not connected and with
// REQUEST_QUEUE_FULL when the queue rejects the handler.
func (s *Session) Execute(req *request.Request) *request.Future {
	fut := request.NewFuture()

	if s.State() != StateConnected {
		fut.SetErr(ringerr.New(ringerr.CodeNoHostsAvailable, "session is not connected"))

		return fut
	}

	h := processor.NewHandler(req, fut)
	h.StampEnqueued(s.clock.Now())
	if s.queue.Enqueue(h) {
		s.processors.NotifyRequestAsync()
	} else {
		s.sink.IncQueueFull()
		if s.trace.OnQueueFull != nil {
			s.trace.OnQueueFull(trace.QueueFullInfo{})
		}
		fut.SetErr(ringerr.New(ringerr.CodeRequestQueueFull, "the request queue has reached capacity"))
		h.Release()
	}

	return fut
}

// Prepare submits a PREPARE for query; with prepare-on-all-hosts
// enabled the statement is propagated to every available host.
func (s *Session) Prepare(query string) *request.Future {
	return s.Execute(request.NewPrepare(query))
}

// CloseAsync tears the session down: control connection, pools,
// processors, loops, queue — in that order.
func (s *Session) CloseAsync() *request.Future {
	fut := request.NewFuture()

	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		state := s.state
		s.mu.Unlock()
		fut.SetErr(ringerr.New(ringerr.CodeUnableToClose, "session is %s", state))

		return fut
	}
	s.state = StateClosing
	s.mu.Unlock()

	var onDone func(trace.SessionCloseDoneInfo)
	if s.trace.OnSessionClose != nil {
		onDone = s.trace.OnSessionClose(trace.SessionCloseStartInfo{})
	}

	go func() {
		err := s.shutdown(context.Background())
		s.mu.WithLock(func() {
			s.state = StateClosed
		})
		if onDone != nil {
			onDone(trace.SessionCloseDoneInfo{Error: err})
		}
		if err != nil {
			fut.SetErr(err)
		} else {
			fut.Set(nil)
		}
	}()

	return fut
}

func (s *Session) teardown() {
	_ = s.shutdown(context.Background())
	s.mu.WithLock(func() {
		s.state = StateClosed
	})
}

func (s *Session) shutdown(ctx context.Context) error {
	if s.ctrl != nil {
		s.ctrl.Close()
	}

	if s.processors != nil {
		s.processors.Close()

		eg, egCtx := errgroup.WithContext(ctx)
		for _, p := range s.processors.Processors() {
			if m := p.Manager(); m != nil {
				m := m
				eg.Go(func() error {
					return m.CloseAwait(egCtx)
				})
			}
		}
		err := eg.Wait()

		// Handles close strictly after pools; the final flush resolves
		// whatever the queue still holds.
		s.processors.CloseHandles()

		err = xerrors.Join(err, s.loops.Close(ctx))
		if s.queue != nil {
			s.queue.Dispose()
		}

		return err
	}

	if s.loops != nil {
		if err := s.loops.Close(ctx); err != nil {
			return err
		}
	}
	if s.queue != nil {
		s.queue.Dispose()
	}

	return nil
}

// Control-connection topology events.

func (s *Session) OnUp(a addr.Addr) {
	s.hostsMu.Lock()
	h, ok := s.hosts[a]
	s.hostsMu.Unlock()
	if !ok {
		return
	}
	wasUp := h.IsUp()
	h.SetUp()
	if s.processors != nil {
		s.processors.NotifyHostUpAsync(a)
	}
	if !wasUp {
		s.prepareHost(a)
	}
}

func (s *Session) OnDown(a addr.Addr) {
	s.hostsMu.Lock()
	h, ok := s.hosts[a]
	s.hostsMu.Unlock()
	if !ok {
		return
	}
	h.SetDown()
	if s.processors != nil {
		s.processors.NotifyHostDownAsync(a)
	}
}

func (s *Session) OnAdd(h *host.Host) {
	s.hostsMu.Lock()
	if _, known := s.hosts[h.Addr()]; known {
		s.hostsMu.Unlock()

		return
	}
	s.hosts[h.Addr()] = h
	s.hostsMu.Unlock()

	if tm := s.cfg.TokenMap(); tm != nil {
		tm.AddHost(h)
		tm.Build()
		if s.processors != nil {
			s.processors.NotifyTokenMapUpdateAsync(tm)
		}
	}
	if s.processors != nil {
		s.processors.NotifyHostAddAsync(h)
	}
	s.prepareHost(h.Addr())
}

// prepareHost replays the cached prepared statements onto a host that
// was just added or came back up, so its first executions skip the
// re-prepare round-trip. The replay itself is fire-and-forget; a host
// whose pool is not connected yet is caught by the pool-up event that
// follows.
func (s *Session) prepareHost(a addr.Addr) {
	if !s.cfg.PrepareOnUpOrAddHost() || s.processors == nil {
		return
	}

	s.preparedMu.RLock()
	queries := make([]string, 0, len(s.prepared))
	for _, entry := range s.prepared {
		queries = append(queries, entry.Query)
	}
	s.preparedMu.RUnlock()

	if len(queries) == 0 {
		return
	}
	s.processors.NotifyPrepareHostAsync(a, queries)
}

func (s *Session) OnRemove(h *host.Host) {
	s.hostsMu.Lock()
	delete(s.hosts, h.Addr())
	s.hostsMu.Unlock()

	h.SetState(host.Removed)

	if tm := s.cfg.TokenMap(); tm != nil {
		tm.RemoveHostAndBuild(h)
		if s.processors != nil {
			s.processors.NotifyTokenMapUpdateAsync(tm)
		}
	}
	if s.processors != nil {
		s.processors.NotifyHostRemoveAsync(h)
	}
}

func (s *Session) OnKeyspaceChange(keyspace string) {
	s.keyspaceUpdate(keyspace)
}

func (s *Session) OnError(err error) {
	if s.State() == StateConnecting {
		s.notifyConnectError(ringerr.New(ringerr.CodeNoHostsAvailable, "control connection: %v", err))
	}
}

// PurgeHosts sweeps the host set against a freshly resolved list:
// hosts absent from fresh are removed, new ones added.
func (s *Session) PurgeHosts(fresh []*host.Host) {
	s.hostsMu.Lock()
	for _, h := range s.hosts {
		h.Mark(false)
	}
	s.hostsMu.Unlock()

	var added []*host.Host
	for _, h := range fresh {
		s.hostsMu.Lock()
		if known, ok := s.hosts[h.Addr()]; ok {
			known.Mark(true)
			s.hostsMu.Unlock()

			continue
		}
		s.hostsMu.Unlock()
		h.Mark(true)
		added = append(added, h)
	}

	s.hostsMu.Lock()
	var removed []*host.Host
	for a, h := range s.hosts {
		if !h.IsMarked() {
			delete(s.hosts, a)
			removed = append(removed, h)
		}
	}
	s.hostsMu.Unlock()

	for _, h := range removed {
		h.SetState(host.Removed)
		if s.processors != nil {
			s.processors.NotifyHostRemoveAsync(h)
		}
	}
	for _, h := range added {
		s.OnAdd(h)
	}
}

// Processor listener events.

func (s *Session) OnCriticalError(a addr.Addr, err error) {
	if s.trace.OnConnClose != nil {
		s.trace.OnConnClose(trace.ConnCloseInfo{Addr: a, Error: err})
	}
}

func (s *Session) OnKeyspaceChanged(keyspace string) {
	s.keyspaceUpdate(keyspace)
}

func (s *Session) keyspaceUpdate(keyspace string) {
	if s.processors != nil {
		s.processors.KeyspaceUpdate(keyspace)
	}
}

func (s *Session) OnPreparedMetadataChanged(id string, entry processor.PreparedMetadata) {
	s.preparedMu.WithLock(func() {
		s.prepared[id] = entry
	})
}

// PreparedMetadata returns the cached metadata for a prepared id.
func (s *Session) PreparedMetadata(id string) (processor.PreparedMetadata, bool) {
	s.preparedMu.RLock()
	defer s.preparedMu.RUnlock()
	entry, ok := s.prepared[id]

	return entry, ok
}

// Hosts snapshots the session-wide host map.
func (s *Session) Hosts() host.Map {
	return xsync.Locked(&s.hostsMu, func() host.Map {
		return s.hosts.Copy()
	})
}
