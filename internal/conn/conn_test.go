package conn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/internal/eventloop"
	"github.com/ringdb/ring-go-driver/internal/ringtest"
	"github.com/ringdb/ring-go-driver/transport"
)

type req struct {
	query string
}

func (r req) Query() string    { return r.query }
func (req) Idempotent() bool   { return false }

type cb struct {
	r        req
	response chan transport.Response
	failure  chan error
}

func newCB(query string) *cb {
	return &cb{
		r:        req{query: query},
		response: make(chan transport.Response, 1),
		failure:  make(chan error, 1),
	}
}

func (c *cb) Request() transport.Request { return c.r }

func (c *cb) OnResponse(resp transport.Response) {
	c.response <- resp
}

func (c *cb) OnError(err error) {
	c.failure <- err
}

type connEnv struct {
	cluster *ringtest.Cluster
	loop    *eventloop.Loop
	a       addr.Addr
}

func newConnEnv(t *testing.T) *connEnv {
	t.Helper()
	e := &connEnv{
		cluster: ringtest.NewCluster(),
		a:       addr.New("127.0.0.1", 9042),
	}
	e.loop = eventloop.New()
	t.Cleanup(func() {
		_ = e.loop.Close(context.Background())
	})

	return e
}

func (e *connEnv) dial(t *testing.T, maxInFlight int, keyspace func() string, onClose func(*Conn, error)) *Conn {
	t.Helper()
	raw, err := e.cluster.Connector().Connect(context.Background(), e.a, "")
	require.NoError(t, err)
	if keyspace == nil {
		keyspace = func() string { return "" }
	}

	return New(raw, e.a, e.loop, maxInFlight, keyspace, nil, onClose)
}

func (e *connEnv) onLoop(f func()) {
	done := make(chan struct{})
	e.loop.Post(func() {
		f()
		close(done)
	})
	<-done
}

func TestWriteDeliversResponse(t *testing.T) {
	e := newConnEnv(t)
	c := e.dial(t, 8, nil, nil)

	callback := newCB("SELECT 1")
	e.onLoop(func() {
		require.True(t, c.Write(callback))
	})

	select {
	case resp := <-callback.response:
		require.Equal(t, ringtest.Result{Query: "SELECT 1", Addr: e.a}, resp)
	case <-time.After(time.Second):
		t.Fatal("no response")
	}

	require.Eventually(t, func() bool {
		return c.InFlight() == 0
	}, time.Second, time.Millisecond)
}

func TestWriteRefusesOverStreamBudget(t *testing.T) {
	e := newConnEnv(t)
	e.cluster.SetResponder(func(addr.Addr, transport.Request) transport.Response {
		return ringtest.NoReply
	})
	c := e.dial(t, 2, nil, nil)

	e.onLoop(func() {
		require.True(t, c.Write(newCB("q1")))
		require.True(t, c.Write(newCB("q2")))
		require.False(t, c.Write(newCB("q3")))
	})
	require.Equal(t, 2, c.InFlight())
}

func TestWriteRefusesWhenClosed(t *testing.T) {
	e := newConnEnv(t)

	closed := make(chan error, 1)
	c := e.dial(t, 8, nil, func(_ *Conn, err error) {
		closed <- err
	})

	c.Close()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("onClose did not fire")
	}

	e.onLoop(func() {
		require.False(t, c.Write(newCB("q")))
	})
	require.True(t, c.IsClosed())
}

func TestWritePrefixesKeyspaceSwitch(t *testing.T) {
	e := newConnEnv(t)
	keyspace := "app"
	c := e.dial(t, 8, func() string { return keyspace }, nil)

	callback := newCB("SELECT 1")
	e.onLoop(func() {
		require.True(t, c.Write(callback))
	})
	<-callback.response

	// The transport connection observed the USE before the write, and
	// only once: the second write sees a matching keyspace.
	e.onLoop(func() {
		require.True(t, c.Write(newCB("SELECT 2")))
	})
	conns := e.cluster.Node(e.a).Conns()
	require.Len(t, conns, 1)
	require.Equal(t, []string{"app"}, conns[0].KeyspaceHistory())
}

func TestConnectorCancel(t *testing.T) {
	e := newConnEnv(t)
	e.cluster.Node(e.a).Hang()

	ct := NewConnector(e.cluster.Connector(), e.a, "", time.Second, e.loop, nil)
	done := make(chan *Connector, 1)
	ct.Connect(func(ct *Connector) {
		done <- ct
	})
	ct.Cancel()

	select {
	case ct := <-done:
		require.True(t, ct.IsCancelled())
		require.False(t, ct.IsOK())
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled connector did not complete")
	}
}

func TestConnectorClassifiesTimeout(t *testing.T) {
	e := newConnEnv(t)
	e.cluster.Node(e.a).Hang()

	ct := NewConnector(e.cluster.Connector(), e.a, "", 20*time.Millisecond, e.loop, nil)
	done := make(chan struct{})
	ct.Connect(func(*Connector) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed-out connector did not complete")
	}
	require.True(t, ct.IsTimeout())
	require.False(t, ct.IsCritical())
}

func TestConnectorCritical(t *testing.T) {
	e := newConnEnv(t)
	e.cluster.Node(e.a).Fail(transport.CodeAuth)

	ct := NewConnector(e.cluster.Connector(), e.a, "", time.Second, e.loop, nil)
	done := make(chan struct{})
	ct.Connect(func(*Connector) {
		close(done)
	})
	<-done

	require.True(t, ct.IsCritical())
	require.Nil(t, ct.Release())
}
