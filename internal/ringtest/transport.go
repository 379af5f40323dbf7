// Package ringtest provides in-memory collaborator fakes: a cluster of
// scriptable nodes behind the transport interfaces and a hand-driven
// control connection.
package ringtest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/transport"
)

// Result is the fake response for ordinary queries.
type Result struct {
	Query string
	Addr  addr.Addr
}

// SchemaChangeResult marks a DDL reply.
type SchemaChangeResult struct {
	Result
}

func (SchemaChangeResult) SchemaChange() bool { return true }

// SchemaVersionsResult answers the agreement probe.
type SchemaVersionsResult struct {
	Agreement bool
}

func (r SchemaVersionsResult) InAgreement() bool { return r.Agreement }

// PreparedResult marks a successful PREPARE.
type PreparedResult struct {
	Result
	ID         []byte
	MetadataID []byte
}

func (r PreparedResult) PreparedID() []byte       { return r.ID }
func (r PreparedResult) ResultMetadataID() []byte { return r.MetadataID }

// NoReply makes the fake connection swallow the write: the callback
// never fires and the in-flight count stays pinned.
var NoReply transport.Response = noReply{}

type noReply struct{}

// Responder produces the fake node's reply for one request. Returning
// nil fails the write with OnError; returning NoReply drops it.
type Responder func(a addr.Addr, req transport.Request) transport.Response

// Cluster is a set of fake nodes addressable through a Connector.
type Cluster struct {
	mu    sync.Mutex
	nodes map[addr.Addr]*Node

	respond Responder
}

func NewCluster() *Cluster {
	c := &Cluster{
		nodes: make(map[addr.Addr]*Node),
	}
	c.respond = func(a addr.Addr, req transport.Request) transport.Response {
		return Result{Query: req.Query(), Addr: a}
	}

	return c
}

// SetResponder replaces the reply script for every node.
func (c *Cluster) SetResponder(r Responder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respond = r
}

func (c *Cluster) responder() Responder {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.respond
}

// Node returns (creating on demand) the fake node at a.
func (c *Cluster) Node(a addr.Addr) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[a]
	if !ok {
		n = &Node{cluster: c, addr: a}
		c.nodes[a] = n
	}

	return n
}

// Connector implements transport.Connector against the cluster.
func (c *Cluster) Connector() transport.Connector {
	return &clusterConnector{cluster: c}
}

type clusterConnector struct {
	cluster *Cluster
}

func (cc *clusterConnector) Connect(ctx context.Context, a addr.Addr, keyspace string) (transport.Connection, error) {
	n := cc.cluster.Node(a)

	n.mu.Lock()
	failCode := n.failCode
	hang := n.hang
	n.mu.Unlock()

	if hang {
		<-ctx.Done()

		return nil, transport.NewError(transport.CodeTimeout, a, ctx.Err())
	}
	if failCode != transport.CodeOK {
		return nil, transport.NewError(failCode, a, errors.New("handshake refused"))
	}

	conn := &Conn{node: n, keyspace: keyspace}
	n.track(conn)

	return conn, nil
}

// Node is one fake cluster node.
type Node struct {
	cluster *Cluster
	addr    addr.Addr

	mu       sync.Mutex
	failCode transport.ErrorCode
	hang     bool
	conns    []*Conn
}

// Fail makes subsequent handshakes fail with code.
func (n *Node) Fail(code transport.ErrorCode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failCode = code
}

// Recover restores successful handshakes.
func (n *Node) Recover() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failCode = transport.CodeOK
	n.hang = false
}

// Hang blocks subsequent handshakes until their context expires.
func (n *Node) Hang() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hang = true
}

func (n *Node) track(c *Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conns = append(n.conns, c)
}

// ConnCount reports connections that are still open.
func (n *Node) ConnCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, c := range n.conns {
		if !c.isClosed() {
			count++
		}
	}

	return count
}

// Conns snapshots every connection ever opened against the node.
func (n *Node) Conns() []*Conn {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]*Conn(nil), n.conns...)
}

// KillConns drops every open connection, as a remote EOF would.
func (n *Node) KillConns() {
	n.mu.Lock()
	conns := append([]*Conn(nil), n.conns...)
	n.conns = nil
	n.mu.Unlock()

	for _, c := range conns {
		c.kill(io.EOF)
	}
}

// Conn implements transport.Connection.
type Conn struct {
	node     *Node
	keyspace string

	mu        sync.Mutex
	closed    bool
	onClose   func(error)
	inFlight  int
	keyspaces []string // USE history
}

func (c *Conn) Write(cb transport.Callback) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return false
	}
	c.inFlight++
	c.mu.Unlock()

	resp := c.node.cluster.responder()(c.node.addr, cb.Request())
	if resp == NoReply {
		return true
	}

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()

	if resp == nil {
		cb.OnError(errors.New("stream reset"))

		return true
	}
	cb.OnResponse(resp)

	return true
}

func (c *Conn) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inFlight
}

func (c *Conn) Keyspace() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.keyspace
}

func (c *Conn) SetKeyspace(keyspace string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.keyspace = keyspace
	c.keyspaces = append(c.keyspaces, keyspace)

	return true
}

func (c *Conn) Close() {
	c.kill(nil)
}

func (c *Conn) OnClose(f func(error)) {
	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.onClose = f
	}
	c.mu.Unlock()

	// A connection that died before registration reports immediately.
	if closed && f != nil {
		f(io.EOF)
	}
}

func (c *Conn) kill(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return
	}
	c.closed = true
	f := c.onClose
	c.mu.Unlock()

	if f != nil {
		f(err)
	}
}

// KeyspaceHistory lists the USE switches the connection performed.
func (c *Conn) KeyspaceHistory() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.keyspaces...)
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}
