package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/internal/eventloop"
	"github.com/ringdb/ring-go-driver/internal/ringtest"
	"github.com/ringdb/ring-go-driver/reconnect"
	"github.com/ringdb/ring-go-driver/transport"
)

type recordingListener struct {
	mu       sync.Mutex
	up       []addr.Addr
	down     []addr.Addr
	critical []error
}

func (l *recordingListener) OnPoolUp(a addr.Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.up = append(l.up, a)
}

func (l *recordingListener) OnPoolDown(a addr.Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down = append(l.down, a)
}

func (l *recordingListener) OnPoolCriticalError(_ addr.Addr, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.critical = append(l.critical, err)
}

func (l *recordingListener) ups() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.up)
}

func (l *recordingListener) downs() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.down)
}

func (l *recordingListener) criticals() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.critical)
}

type env struct {
	cluster  *ringtest.Cluster
	loop     *eventloop.Loop
	clock    *clockwork.FakeClock
	listener *recordingListener
	manager  *Manager
}

func newEnv(t *testing.T, settings Settings) *env {
	t.Helper()

	e := &env{
		cluster:  ringtest.NewCluster(),
		clock:    clockwork.NewFakeClock(),
		listener: &recordingListener{},
	}
	e.loop = eventloop.New(eventloop.WithClock(e.clock))
	t.Cleanup(func() {
		require.NoError(t, e.loop.Close(context.Background()))
	})
	e.manager = NewManager(e.loop, e.cluster.Connector(), settings, "", e.listener)

	return e
}

// connect bulk-connects and waits for the completion callback.
func (e *env) connect(t *testing.T, addrs ...addr.Addr) []*PoolConnector {
	t.Helper()

	done := make(chan []*PoolConnector, 1)
	e.manager.Connect(addrs, func(failures []*PoolConnector) {
		done <- failures
	})
	select {
	case failures := <-done:
		return failures
	case <-time.After(5 * time.Second):
		t.Fatal("bulk connect did not settle")

		return nil
	}
}

func (e *env) pool(t *testing.T, a addr.Addr) *Pool {
	t.Helper()
	p, ok := e.manager.pools.Get(a.String())
	require.True(t, ok, "no pool for %s", a)

	return p
}

func settingsN(n int) Settings {
	return Settings{
		NumConnectionsPerHost: n,
		Reconnect:             reconnect.NewConstant(10 * time.Millisecond),
	}
}

func TestBulkConnectFillsPool(t *testing.T) {
	a := addr.New("127.0.0.1", 9042)
	e := newEnv(t, settingsN(3))

	failures := e.connect(t, a)
	require.Empty(t, failures)

	p := e.pool(t, a)
	require.Equal(t, 3, p.ConnCount())
	require.Equal(t, 0, p.PendingCount())
	require.Equal(t, 1, e.listener.ups())
	require.NotNil(t, e.manager.FindLeastBusy(a))
	require.Equal(t, []addr.Addr{a}, e.manager.Available())
}

func TestFindLeastBusyPrefersIdleConnection(t *testing.T) {
	a := addr.New("127.0.0.1", 9042)
	e := newEnv(t, settingsN(2))
	e.connect(t, a)

	// Pin one in-flight request on some connection.
	e.cluster.SetResponder(func(a addr.Addr, req transport.Request) transport.Response {
		if req.Query() == "SELECT pinned" {
			return ringtest.NoReply
		}

		return ringtest.Result{Query: req.Query(), Addr: a}
	})

	p := e.pool(t, a)
	var first interface {
		InFlight() int
	}
	done := make(chan struct{})
	e.loop.Post(func() {
		c := p.FindLeastBusy()
		require.NotNil(t, c)
		require.True(t, c.Write(silentCallback{}))
		first = c
		close(done)
	})
	<-done

	second := p.FindLeastBusy()
	require.NotNil(t, second)
	require.Equal(t, 1, first.InFlight())
	require.Equal(t, 0, second.InFlight())
}

// silentCallback carries the pinned request.
type silentCallback struct{}

func (silentCallback) Request() transport.Request    { return silentRequest{} }
func (silentCallback) OnResponse(transport.Response) {}
func (silentCallback) OnError(error)                 {}

type silentRequest struct {
	query string
}

func (r silentRequest) Query() string {
	if r.query != "" {
		return r.query
	}

	return "SELECT pinned"
}

func (silentRequest) Idempotent() bool { return true }

func TestCriticalErrorAbortsPool(t *testing.T) {
	a := addr.New("127.0.0.1", 9042)
	e := newEnv(t, settingsN(2))
	e.cluster.Node(a).Fail(transport.CodeKeyspace)

	failures := e.connect(t, a)
	require.Len(t, failures, 1)
	require.True(t, failures[0].IsCritical())
	require.True(t, failures[0].IsKeyspaceError())

	// The aborted pool is not published.
	require.Nil(t, e.manager.FindLeastBusy(a))
	require.Empty(t, e.manager.Available())
	require.Equal(t, 1, e.listener.downs())
}

func TestTransientFailureKeepsPoolReconnecting(t *testing.T) {
	a := addr.New("127.0.0.1", 9042)
	e := newEnv(t, settingsN(2))
	e.cluster.Node(a).Fail(transport.CodeNetwork)

	failures := e.connect(t, a)
	require.Empty(t, failures)

	p := e.pool(t, a)
	require.Equal(t, 0, p.ConnCount())
	require.LessOrEqual(t, p.PendingCount(), 2)

	// Let the node recover and drive the reconnect timers.
	e.cluster.Node(a).Recover()
	require.Eventually(t, func() bool {
		e.clock.Advance(20 * time.Millisecond)

		return p.ConnCount() == 2
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, 1, e.listener.ups())
}

func TestPoolSizeBoundDuringReconnectStorm(t *testing.T) {
	const n = 2
	a := addr.New("127.0.0.1", 9042)
	e := newEnv(t, settingsN(n))
	e.connect(t, a)
	p := e.pool(t, a)

	for round := 0; round < 20; round++ {
		e.cluster.Node(a).KillConns()
		require.LessOrEqual(t, p.ConnCount()+p.PendingCount(), n)

		require.Eventually(t, func() bool {
			e.clock.Advance(20 * time.Millisecond)
			require.LessOrEqual(t, p.ConnCount()+p.PendingCount(), n)

			return p.ConnCount() == n
		}, 5*time.Second, time.Millisecond)
	}
}

func TestCloseDrainsToClosed(t *testing.T) {
	a1 := addr.New("127.0.0.1", 9042)
	a2 := addr.New("127.0.0.1", 9043)
	e := newEnv(t, settingsN(2))
	e.connect(t, a1, a2)

	e.manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.manager.CloseAwait(ctx))
	require.Equal(t, 0, e.manager.pools.Count())
	require.Nil(t, e.manager.FindLeastBusy(a1))

	e.manager.CloseHandles()
}

func TestCloseCancelsPendingConnectors(t *testing.T) {
	a := addr.New("127.0.0.1", 9042)
	e := newEnv(t, Settings{
		NumConnectionsPerHost: 2,
		ConnectTimeout:        50 * time.Millisecond,
		Reconnect:             reconnect.NewConstant(10 * time.Millisecond),
	})
	e.cluster.Node(a).Hang()

	done := make(chan []*PoolConnector, 1)
	e.manager.Connect([]addr.Addr{a}, func(failures []*PoolConnector) {
		done <- failures
	})

	// Close while the handshakes hang. The manager does not track
	// in-flight bulk connects, so they settle when the 50ms handshake
	// timeout fires; the late pool is then closed instead of published.
	e.manager.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled bulk connect did not settle")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.manager.CloseAwait(ctx))
	require.Equal(t, 0, e.cluster.Node(a).ConnCount())
}

func TestAddAbsorbsDuplicates(t *testing.T) {
	a1 := addr.New("127.0.0.1", 9042)
	a2 := addr.New("127.0.0.1", 9043)
	e := newEnv(t, settingsN(1))
	e.connect(t, a1)

	e.manager.Add(a2)
	e.manager.Add(a2)

	require.Eventually(t, func() bool {
		return e.manager.FindLeastBusy(a2) != nil
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, 1, e.pool(t, a2).ConnCount())
	require.Len(t, e.manager.Available(), 2)
}

func TestSetKeyspacePropagatesOnNextWrite(t *testing.T) {
	a := addr.New("127.0.0.1", 9042)
	e := newEnv(t, settingsN(1))
	e.connect(t, a)

	e.manager.SetKeyspace("ks2")

	c := e.manager.FindLeastBusy(a)
	require.NotNil(t, c)

	done := make(chan struct{})
	e.loop.Post(func() {
		require.True(t, c.Write(silentCallback{}))
		close(done)
	})
	<-done

	require.Equal(t, 1, e.cluster.Node(a).ConnCount())
	require.Equal(t, "ks2", e.manager.Keyspace())
}
