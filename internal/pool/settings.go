package pool

import (
	"time"

	"github.com/ringdb/ring-go-driver/metrics"
	"github.com/ringdb/ring-go-driver/reconnect"
	"github.com/ringdb/ring-go-driver/trace"
)

const (
	defaultNumConnectionsPerHost = 2
	defaultMaxInFlightPerConn    = 2048
	defaultConnectTimeout        = 5 * time.Second
)

type Settings struct {
	NumConnectionsPerHost int
	MaxInFlightPerConn    int
	ConnectTimeout        time.Duration
	Reconnect             reconnect.Policy
	Trace                 *trace.Driver
	Sink                  metrics.Sink
}

func (s Settings) WithDefaults() Settings {
	if s.NumConnectionsPerHost <= 0 {
		s.NumConnectionsPerHost = defaultNumConnectionsPerHost
	}
	if s.MaxInFlightPerConn <= 0 {
		s.MaxInFlightPerConn = defaultMaxInFlightPerConn
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = defaultConnectTimeout
	}
	if s.Reconnect == nil {
		s.Reconnect = reconnect.NewExponential(2*time.Second, time.Minute)
	}
	if s.Trace == nil {
		s.Trace = &trace.Driver{}
	}
	if s.Sink == nil {
		s.Sink = metrics.Nop()
	}

	return s
}
