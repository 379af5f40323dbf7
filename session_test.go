package ring

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/config"
	"github.com/ringdb/ring-go-driver/host"
	"github.com/ringdb/ring-go-driver/internal/ringtest"
	"github.com/ringdb/ring-go-driver/reconnect"
	"github.com/ringdb/ring-go-driver/request"
	"github.com/ringdb/ring-go-driver/transport"
)

func testHosts(ports ...int) []*host.Host {
	out := make([]*host.Host, len(ports))
	for i, port := range ports {
		out[i] = host.New(addr.New("127.0.0.1", port))
	}

	return out
}

func connectSession(t *testing.T, cluster *ringtest.Cluster, hosts []*host.Host, opts ...config.Option) *Session {
	t.Helper()

	ctrl := ringtest.NewControl(hosts[0], hosts...)
	cfg := config.New(append([]config.Option{
		config.WithConnector(cluster.Connector()),
		config.WithControl(ctrl),
		config.WithNumConnectionsPerHost(1),
		config.WithReconnectPolicy(reconnect.NewConstant(5 * time.Millisecond)),
	}, opts...)...)

	s := New(cfg)
	fut := s.ConnectAsync("")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := fut.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, StateConnected, s.State())

	return s
}

func closeSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.CloseAsync().Await(ctx)
	require.NoError(t, err)
}

func TestSingleHostRoundTrip(t *testing.T) {
	cluster := ringtest.NewCluster()
	hosts := testHosts(9042)
	s := connectSession(t, cluster, hosts)
	defer closeSession(t, s)

	fut := s.Execute(request.New("SELECT 1"))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	resp, err := fut.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, ringtest.Result{Query: "SELECT 1", Addr: hosts[0].Addr()}, resp)
}

func TestExecuteFailsFastWhenNotConnected(t *testing.T) {
	cfg := config.New()
	s := New(cfg)

	fut := s.Execute(request.New("SELECT 1"))
	require.True(t, fut.Resolved())
	require.ErrorIs(t, fut.Err(), ErrNoHostsAvailable)
}

func TestConnectTwiceFails(t *testing.T) {
	cluster := ringtest.NewCluster()
	s := connectSession(t, cluster, testHosts(9042))
	defer closeSession(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.ConnectAsync("").Await(ctx)
	require.ErrorIs(t, err, ErrUnableToConnect)
}

func TestQueueBackpressure(t *testing.T) {
	cluster := ringtest.NewCluster()

	var (
		mu    sync.Mutex
		order []string
	)
	cluster.SetResponder(func(a addr.Addr, req transport.Request) transport.Response {
		mu.Lock()
		order = append(order, req.Query())
		mu.Unlock()

		return ringtest.Result{Query: req.Query(), Addr: a}
	})

	s := connectSession(t, cluster, testHosts(9042),
		config.WithQueueSize(4),
		config.WithProcessorCount(1),
	)
	defer closeSession(t, s)

	// Park the single processor loop so nothing drains.
	gate := make(chan struct{})
	parked := make(chan struct{})
	s.processors.Processors()[0].Loop().Post(func() {
		close(parked)
		<-gate
	})
	<-parked

	futs := make([]*request.Future, 0, 5)
	for _, q := range []string{"q0", "q1", "q2", "q3", "q4"} {
		futs = append(futs, s.Execute(request.New(q)))
	}

	// The fifth submission overflows the bounded queue.
	require.True(t, futs[4].Resolved())
	require.ErrorIs(t, futs[4].Err(), ErrRequestQueueFull)

	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, fut := range futs[:4] {
		_, err := fut.Await(ctx)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"q0", "q1", "q2", "q3"}, order)
}

func TestCriticalKeyspaceFailsConnect(t *testing.T) {
	cluster := ringtest.NewCluster()
	hosts := testHosts(9042, 9043)
	for _, h := range hosts {
		cluster.Node(h.Addr()).Fail(transport.CodeKeyspace)
	}

	ctrl := ringtest.NewControl(hosts[0], hosts...)
	cfg := config.New(
		config.WithConnector(cluster.Connector()),
		config.WithControl(ctrl),
		config.WithKeyspace("nope"),
		config.WithNumConnectionsPerHost(1),
	)

	s := New(cfg)
	fut := s.ConnectAsync("")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := fut.Await(ctx)
	require.ErrorIs(t, err, ErrUnableToSetKeyspace)
	require.Equal(t, StateClosed, s.State())

	// No pool survived the abort.
	require.Equal(t, 0, cluster.Node(hosts[0].Addr()).ConnCount())
	require.Equal(t, 0, cluster.Node(hosts[1].Addr()).ConnCount())
}

func TestTopologyAddReachesEveryProcessor(t *testing.T) {
	cluster := ringtest.NewCluster()
	hosts := testHosts(9042, 9043)

	ctrl := ringtest.NewControl(hosts[0], hosts...)
	cfg := config.New(
		config.WithConnector(cluster.Connector()),
		config.WithControl(ctrl),
		config.WithNumConnectionsPerHost(1),
		config.WithProcessorCount(2),
	)
	s := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.ConnectAsync("").Await(ctx)
	require.NoError(t, err)
	defer closeSession(t, s)

	h3 := host.New(addr.New("127.0.0.1", 9044))
	ctrl.EmitAdd(h3)
	ctrl.EmitAdd(h3) // duplicate absorbed

	require.Eventually(t, func() bool {
		for _, p := range s.processors.Processors() {
			if p.Manager().FindLeastBusy(h3.Addr()) == nil {
				return false
			}
		}

		return true
	}, 5*time.Second, time.Millisecond)

	require.Contains(t, s.Hosts(), h3.Addr())
}

func TestHostUpDownPropagates(t *testing.T) {
	cluster := ringtest.NewCluster()
	hosts := testHosts(9042, 9043)
	s := connectSession(t, cluster, hosts)
	defer closeSession(t, s)

	a := hosts[1].Addr()
	s.OnDown(a)
	require.Eventually(t, func() bool {
		for _, p := range s.processors.Processors() {
			if p.IsHostUp(a) {
				return false
			}
		}

		return !s.Hosts()[a].IsUp()
	}, 5*time.Second, time.Millisecond)

	s.OnUp(a)
	require.Eventually(t, func() bool {
		return s.Hosts()[a].IsUp()
	}, 5*time.Second, time.Millisecond)
}

func TestHostRemovePurges(t *testing.T) {
	cluster := ringtest.NewCluster()
	hosts := testHosts(9042, 9043)
	s := connectSession(t, cluster, hosts)
	defer closeSession(t, s)

	fresh := testHosts(9042) // 9043 disappeared from resolution
	s.PurgeHosts(fresh)

	snapshot := s.Hosts()
	require.Len(t, snapshot, 1)
	require.Contains(t, snapshot, hosts[0].Addr())
	require.Equal(t, host.Removed, hosts[1].State())
}

func TestPreparedMetadataCache(t *testing.T) {
	cluster := ringtest.NewCluster()
	cluster.SetResponder(func(a addr.Addr, req transport.Request) transport.Response {
		if r, ok := req.(*request.Request); ok && r.Kind() == request.KindPrepare {
			return ringtest.PreparedResult{
				Result:     ringtest.Result{Query: req.Query(), Addr: a},
				ID:         []byte("prep-42"),
				MetadataID: []byte("meta-42"),
			}
		}

		return ringtest.Result{Query: req.Query(), Addr: a}
	})

	s := connectSession(t, cluster, testHosts(9042))
	defer closeSession(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.Prepare("SELECT a FROM b WHERE id=?").Await(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entry, ok := s.PreparedMetadata("prep-42")

		return ok && entry.Query == "SELECT a FROM b WHERE id=?"
	}, 5*time.Second, time.Millisecond)
}

func TestPrepareReplayOnHostAddAndUp(t *testing.T) {
	cluster := ringtest.NewCluster()

	var (
		mu       sync.Mutex
		prepares = map[addr.Addr]int{}
	)
	cluster.SetResponder(func(a addr.Addr, req transport.Request) transport.Response {
		if r, ok := req.(*request.Request); ok && r.Kind() == request.KindPrepare {
			mu.Lock()
			prepares[a]++
			mu.Unlock()

			return ringtest.PreparedResult{
				Result:     ringtest.Result{Query: req.Query(), Addr: a},
				ID:         []byte("prep-7"),
				MetadataID: []byte("meta-7"),
			}
		}

		return ringtest.Result{Query: req.Query(), Addr: a}
	})

	hosts := testHosts(9042)
	ctrl := ringtest.NewControl(hosts[0], hosts...)
	cfg := config.New(
		config.WithConnector(cluster.Connector()),
		config.WithControl(ctrl),
		config.WithNumConnectionsPerHost(1),
		config.WithProcessorCount(1),
		config.WithPrepareOnAllHosts(false),
		config.WithPrepareOnUpOrAddHost(true),
	)
	s := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.ConnectAsync("").Await(ctx)
	require.NoError(t, err)
	defer closeSession(t, s)

	// The metadata cache is populated before the prepare future resolves.
	_, err = s.Prepare("SELECT a FROM b WHERE id=?").Await(ctx)
	require.NoError(t, err)
	_, ok := s.PreparedMetadata("prep-7")
	require.True(t, ok)

	// A joining host gets the cached statements replayed once its pool
	// comes up.
	h2 := host.New(addr.New("127.0.0.1", 9043))
	ctrl.EmitAdd(h2)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return prepares[h2.Addr()] == 1
	}, 5*time.Second, time.Millisecond)

	// A host flapping down and back up is re-prepared as well.
	s.OnDown(h2.Addr())
	s.OnUp(h2.Addr())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return prepares[h2.Addr()] == 2
	}, 5*time.Second, time.Millisecond)
}

func TestGracefulCloseWhileFlushing(t *testing.T) {
	defer goleak.VerifyNone(t)

	cluster := ringtest.NewCluster()
	s := connectSession(t, cluster, testHosts(9042, 9043),
		config.WithQueueSize(2048),
		config.WithProcessorCount(2),
	)

	var resolved atomic.Int32
	const total = 1000
	futs := make([]*request.Future, 0, total)
	for i := 0; i < total; i++ {
		futs = append(futs, s.Execute(request.New("SELECT n")))
	}

	closeFut := s.CloseAsync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := closeFut.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, StateClosed, s.State())

	// Every future settled: success, or NO_HOSTS_AVAILABLE for the ones
	// caught behind the teardown.
	for _, fut := range futs {
		_, err := fut.Await(ctx)
		if err != nil {
			require.ErrorIs(t, err, ErrNoHostsAvailable)
		}
		resolved.Add(1)
	}
	require.Equal(t, int32(total), resolved.Load())

	// Execute after close fails fast.
	fut := s.Execute(request.New("SELECT late"))
	require.ErrorIs(t, fut.Err(), ErrNoHostsAvailable)

	// Close twice fails.
	_, err = s.CloseAsync().Await(ctx)
	require.ErrorIs(t, err, ErrUnableToClose)
}

func TestKeyspaceChangeBroadcast(t *testing.T) {
	cluster := ringtest.NewCluster()
	hosts := testHosts(9042)
	ctrl := ringtest.NewControl(hosts[0], hosts...)
	cfg := config.New(
		config.WithConnector(cluster.Connector()),
		config.WithControl(ctrl),
		config.WithNumConnectionsPerHost(1),
	)
	s := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.ConnectAsync("").Await(ctx)
	require.NoError(t, err)
	defer closeSession(t, s)

	ctrl.EmitKeyspaceChange("analytics")

	require.Eventually(t, func() bool {
		for _, p := range s.processors.Processors() {
			if p.Manager().Keyspace() != "analytics" {
				return false
			}
		}

		return true
	}, 5*time.Second, time.Millisecond)
}
