// Package config holds the immutable post-connect configuration of a
// session.
package config

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ringdb/ring-go-driver/control"
	"github.com/ringdb/ring-go-driver/lb"
	"github.com/ringdb/ring-go-driver/metrics"
	"github.com/ringdb/ring-go-driver/reconnect"
	"github.com/ringdb/ring-go-driver/request"
	"github.com/ringdb/ring-go-driver/tokenmap"
	"github.com/ringdb/ring-go-driver/trace"
	"github.com/ringdb/ring-go-driver/transport"
)

const (
	DefaultPort = 9042

	defaultNumConnectionsPerHost = 2
	defaultQueueSize             = 8192
	defaultProcessorCount        = 1
	defaultConnectTimeout        = 5 * time.Second
	defaultMaxSchemaWaitTime     = 10 * time.Second
)

type Config struct {
	contactPoints []string
	port          int

	numConnectionsPerHost int
	maxInFlightPerConn    int
	queueSize             int
	processorCount        int
	connectTimeout        time.Duration
	reconnectPolicy       reconnect.Policy

	keyspace                string
	prepareOnAllHosts       bool
	prepareOnUpOrAddHost    bool
	maxSchemaWaitTime       time.Duration
	schemaAgreementInterval time.Duration
	randomizedContactPoints bool
	downOnCriticalError     bool

	defaultProfile *request.Profile
	profiles       map[string]*request.Profile

	connector transport.Connector
	control   control.Connection
	tokenMap  tokenmap.TokenMap

	clock clockwork.Clock
	trace *trace.Driver
	sink  metrics.Sink
}

type Option func(c *Config)

func WithContactPoints(points ...string) Option {
	return func(c *Config) {
		c.contactPoints = append(c.contactPoints, points...)
	}
}

func WithPort(port int) Option {
	return func(c *Config) {
		c.port = port
	}
}

func WithNumConnectionsPerHost(n int) Option {
	return func(c *Config) {
		c.numConnectionsPerHost = n
	}
}

func WithMaxInFlightPerConn(n int) Option {
	return func(c *Config) {
		c.maxInFlightPerConn = n
	}
}

// WithQueueSize bounds the request queue; a full queue rejects
// submissions with REQUEST_QUEUE_FULL.
func WithQueueSize(n int) Option {
	return func(c *Config) {
		c.queueSize = n
	}
}

// WithProcessorCount sets how many request processor loops serve the
// session.
func WithProcessorCount(n int) Option {
	return func(c *Config) {
		c.processorCount = n
	}
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.connectTimeout = d
	}
}

func WithReconnectPolicy(p reconnect.Policy) Option {
	return func(c *Config) {
		c.reconnectPolicy = p
	}
}

func WithKeyspace(keyspace string) Option {
	return func(c *Config) {
		c.keyspace = keyspace
	}
}

func WithPrepareOnAllHosts(v bool) Option {
	return func(c *Config) {
		c.prepareOnAllHosts = v
	}
}

func WithPrepareOnUpOrAddHost(v bool) Option {
	return func(c *Config) {
		c.prepareOnUpOrAddHost = v
	}
}

func WithMaxSchemaWaitTime(d time.Duration) Option {
	return func(c *Config) {
		c.maxSchemaWaitTime = d
	}
}

func WithSchemaAgreementInterval(d time.Duration) Option {
	return func(c *Config) {
		c.schemaAgreementInterval = d
	}
}

func WithRandomizedContactPoints(v bool) Option {
	return func(c *Config) {
		c.randomizedContactPoints = v
	}
}

// WithDownOnCriticalError controls whether a critical connector error
// also marks the host down.
func WithDownOnCriticalError(v bool) Option {
	return func(c *Config) {
		c.downOnCriticalError = v
	}
}

func WithDefaultProfile(p *request.Profile) Option {
	return func(c *Config) {
		c.defaultProfile = p
	}
}

func WithProfile(name string, p *request.Profile) Option {
	return func(c *Config) {
		c.profiles[name] = p
	}
}

func WithConnector(tc transport.Connector) Option {
	return func(c *Config) {
		c.connector = tc
	}
}

func WithControl(cc control.Connection) Option {
	return func(c *Config) {
		c.control = cc
	}
}

// WithTokenMap installs the opaque replica map handed to token-aware
// load-balancing policies.
func WithTokenMap(tm tokenmap.TokenMap) Option {
	return func(c *Config) {
		c.tokenMap = tm
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) {
		c.clock = clock
	}
}

func WithTrace(t *trace.Driver) Option {
	return func(c *Config) {
		c.trace = c.trace.Compose(t)
	}
}

func WithSink(sink metrics.Sink) Option {
	return func(c *Config) {
		c.sink = sink
	}
}

func New(opts ...Option) *Config {
	c := &Config{
		port:                    DefaultPort,
		numConnectionsPerHost:   defaultNumConnectionsPerHost,
		queueSize:               defaultQueueSize,
		processorCount:          defaultProcessorCount,
		connectTimeout:          defaultConnectTimeout,
		maxSchemaWaitTime:       defaultMaxSchemaWaitTime,
		prepareOnAllHosts:       true,
		randomizedContactPoints: true,
		downOnCriticalError:     true,
		profiles:                make(map[string]*request.Profile),
		clock:                   clockwork.NewRealClock(),
		trace:                   &trace.Driver{},
		sink:                    metrics.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.defaultProfile == nil {
		c.defaultProfile = request.NewProfile(
			request.WithLoadBalancing(lb.NewRoundRobin()),
		)
	}

	return c
}

func (c *Config) ContactPoints() []string          { return c.contactPoints }
func (c *Config) Port() int                        { return c.port }
func (c *Config) NumConnectionsPerHost() int       { return c.numConnectionsPerHost }
func (c *Config) MaxInFlightPerConn() int          { return c.maxInFlightPerConn }
func (c *Config) QueueSize() int                   { return c.queueSize }
func (c *Config) ProcessorCount() int              { return c.processorCount }
func (c *Config) ConnectTimeout() time.Duration    { return c.connectTimeout }
func (c *Config) ReconnectPolicy() reconnect.Policy {
	return c.reconnectPolicy
}
func (c *Config) Keyspace() string                         { return c.keyspace }
func (c *Config) PrepareOnAllHosts() bool                  { return c.prepareOnAllHosts }
func (c *Config) PrepareOnUpOrAddHost() bool               { return c.prepareOnUpOrAddHost }
func (c *Config) MaxSchemaWaitTime() time.Duration         { return c.maxSchemaWaitTime }
func (c *Config) SchemaAgreementInterval() time.Duration   { return c.schemaAgreementInterval }
func (c *Config) RandomizedContactPoints() bool            { return c.randomizedContactPoints }
func (c *Config) DownOnCriticalError() bool                { return c.downOnCriticalError }
func (c *Config) DefaultProfile() *request.Profile         { return c.defaultProfile }
func (c *Config) Profiles() map[string]*request.Profile    { return c.profiles }
func (c *Config) Connector() transport.Connector           { return c.connector }
func (c *Config) Control() control.Connection              { return c.control }
func (c *Config) TokenMap() tokenmap.TokenMap              { return c.tokenMap }
func (c *Config) Clock() clockwork.Clock                   { return c.clock }
func (c *Config) Trace() *trace.Driver                     { return c.trace }
func (c *Config) Sink() metrics.Sink                       { return c.sink }
