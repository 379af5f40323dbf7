// Package lb declares the pluggable load-balancing policy surface and
// ships the default round-robin policy.
package lb

import (
	"math/rand"

	"github.com/ringdb/ring-go-driver/host"
	"github.com/ringdb/ring-go-driver/tokenmap"
)

// Distance is the policy's locality classification of a host. Hosts at
// Ignored distance never appear in query plans and receive no add, up
// or down notifications; removals reach every policy.
type Distance int

const (
	Local = Distance(iota)
	Remote
	Ignored
)

// Request is the policy's view of the request being planned.
type Request interface {
	Query() string
	Idempotent() bool
}

// QueryPlan is an ordered iterator of candidate hosts for one request.
// Next returns nil when the plan is exhausted.
type QueryPlan interface {
	Next() *host.Host
}

// Runner is the slice of an event loop a policy may register timers or
// wakeups on.
type Runner interface {
	Post(f func()) bool
}

// Policy decides which hosts serve which requests. The Policy instance
// held by a profile is shared by every request processor of the
// session: each processor calls Init and RegisterHandles on it and
// delivers host notifications and plan requests from its own loop, so
// implementations must be safe for concurrent use.
type Policy interface {
	Init(current *host.Host, hosts host.Map, rnd *rand.Rand)

	Distance(h *host.Host) Distance

	NewQueryPlan(keyspace string, req Request, tm tokenmap.TokenMap) QueryPlan

	OnAdd(h *host.Host)
	OnUp(h *host.Host)
	OnDown(h *host.Host)
	OnRemove(h *host.Host)

	RegisterHandles(r Runner)
	CloseHandles()
}
