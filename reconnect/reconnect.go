// Package reconnect provides the policies bounding how fast a pool
// retries lost connections.
package reconnect

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Schedule yields successive delays for one reconnect sequence. A pool
// obtains a fresh Schedule after every successful connect.
type Schedule interface {
	NextDelay() time.Duration
}

type Policy interface {
	NewSchedule() Schedule
}

type constantPolicy struct {
	delay time.Duration
}

type constantSchedule struct {
	delay time.Duration
}

func (s constantSchedule) NextDelay() time.Duration {
	return s.delay
}

func (p constantPolicy) NewSchedule() Schedule {
	return constantSchedule{delay: p.delay}
}

// NewConstant retries with a fixed delay.
func NewConstant(delay time.Duration) Policy {
	return constantPolicy{delay: delay}
}

type exponentialPolicy struct {
	base time.Duration
	max  time.Duration
}

type exponentialSchedule struct {
	b *backoff.ExponentialBackOff
}

func (s *exponentialSchedule) NextDelay() time.Duration {
	return s.b.NextBackOff()
}

func (p exponentialPolicy) NewSchedule() Schedule {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.base
	b.MaxInterval = p.max
	b.MaxElapsedTime = 0 // pools retry until closed
	b.Reset()            // start the sequence from base, not the library default

	return &exponentialSchedule{b: b}
}

// NewExponential retries with exponentially growing jittered delays
// bounded by max.
func NewExponential(base, max time.Duration) Policy {
	return exponentialPolicy{base: base, max: max}
}
