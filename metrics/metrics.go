package metrics

import (
	"time"
)

// Sink receives the driver's operational measurements. Implementations
// must be safe for concurrent use.
type Sink interface {
	// ObserveRequestLatency records end-to-end latency of one request.
	ObserveRequestLatency(d time.Duration)

	IncConnectionTimeouts()
	IncRequestTimeouts()
	IncQueueFull()
	IncReconnects()
}

type nop struct{}

func (nop) ObserveRequestLatency(time.Duration) {}
func (nop) IncConnectionTimeouts()              {}
func (nop) IncRequestTimeouts()                 {}
func (nop) IncQueueFull()                       {}
func (nop) IncReconnects()                      {}

// Nop returns a Sink that drops every measurement.
func Nop() Sink {
	return nop{}
}
