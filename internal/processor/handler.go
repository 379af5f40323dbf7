package processor

import (
	"sync/atomic"
	"time"

	"github.com/ringdb/ring-go-driver/host"
	"github.com/ringdb/ring-go-driver/internal/pool"
	"github.com/ringdb/ring-go-driver/internal/xerrors"
	"github.com/ringdb/ring-go-driver/lb"
	"github.com/ringdb/ring-go-driver/request"
	"github.com/ringdb/ring-go-driver/ringerr"
	"github.com/ringdb/ring-go-driver/tokenmap"
	"github.com/ringdb/ring-go-driver/transport"
)

// Handler carries one request from enqueue to future resolution. It is
// referenced by the queue, by every outstanding per-host attempt and by
// a pending schema-agreement wait; the count hitting zero implies the
// future resolved.
type Handler struct {
	req *request.Request
	fut *request.Future

	refs       atomic.Int32
	enqueuedAt time.Time

	profile  *request.Profile
	mgr      *pool.Manager
	tm       tokenmap.TokenMap
	proc     *Processor
	plan     lb.QueryPlan
	attempts int
}

// NewHandler creates a handler holding the queue's reference.
func NewHandler(req *request.Request, fut *request.Future) *Handler {
	h := &Handler{
		req: req,
		fut: fut,
	}
	h.refs.Store(1)

	return h
}

func (h *Handler) Request() *request.Request {
	return h.req
}

func (h *Handler) Future() *request.Future {
	return h.fut
}

// StampEnqueued records the enqueue instant for the latency histogram.
func (h *Handler) StampEnqueued(t time.Time) {
	h.enqueuedAt = t
}

func (h *Handler) Retain() {
	h.refs.Add(1)
}

// Release drops one reference. The last release resolves a dangling
// future defensively; under normal operation the future is resolved
// before the count reaches zero.
func (h *Handler) Release() {
	if h.refs.Add(-1) == 0 && !h.fut.Resolved() {
		h.fut.SetErr(ringerr.New(ringerr.CodeNoHostsAvailable, "request handler dropped"))
	}
}

// Init binds the handler to its processor's dispatch state. Runs on the
// processor loop during flush.
func (h *Handler) Init(
	profile *request.Profile,
	mgr *pool.Manager,
	tm tokenmap.TokenMap,
	proc *Processor,
) {
	h.profile = profile
	h.mgr = mgr
	h.tm = tm
	h.proc = proc
}

// Execute builds the query plan and writes the request to the first
// usable host. Runs on the processor loop.
func (h *Handler) Execute() {
	policy := h.profile.LoadBalancing()
	if policy == nil {
		h.finishErr(ringerr.New(ringerr.CodeNoHostsAvailable, "profile has no load balancing policy"))

		return
	}
	h.plan = policy.NewQueryPlan(h.mgr.Keyspace(), h.req, h.tm)
	h.nextAttempt()
}

// nextAttempt advances through the query plan until a write sticks or
// the plan is exhausted.
func (h *Handler) nextAttempt() {
	for {
		next := h.plan.Next()
		if next == nil {
			h.finishErr(xerrors.WithStackTrace(
				ringerr.New(ringerr.CodeNoHostsAvailable, "query plan exhausted after %d attempts", h.attempts),
			))

			return
		}
		c := h.mgr.FindLeastBusy(next.Addr())
		if c == nil {
			continue
		}
		h.attempts++
		h.Retain()
		if c.Write(&attempt{h: h, host: next}) {
			return
		}
		h.Release()
	}
}

func (h *Handler) finish(resp transport.Response) {
	if !h.enqueuedAt.IsZero() && h.proc != nil {
		h.proc.sink.ObserveRequestLatency(h.proc.clock.Since(h.enqueuedAt))
	}
	h.fut.Set(resp)
}

func (h *Handler) finishErr(err error) {
	h.fut.SetErr(err)
}

// attempt is the write callback for one (handler, host) pair. Completion
// runs on the connection's owning loop, which is the processor loop.
type attempt struct {
	h    *Handler
	host *host.Host
}

func (a *attempt) Request() transport.Request {
	return a.h.req
}

func (a *attempt) OnResponse(resp transport.Response) {
	a.h.handleResponse(a.host, resp)
	a.h.Release()
}

func (a *attempt) OnError(error) {
	// Mid-stream failure: the pool reconnects underneath; this request
	// moves on to the next planned host.
	a.h.nextAttempt()
	a.h.Release()
}

func (h *Handler) handleResponse(current *host.Host, resp transport.Response) {
	if sc, ok := resp.(transport.SchemaChange); ok && sc.SchemaChange() {
		if h.proc.waitForSchemaAgreement(h, current, resp) {
			return // finish deferred until agreement settles
		}
	}
	if h.req.Kind() == request.KindPrepare {
		if ps, ok := resp.(transport.PreparedStatement); ok {
			h.proc.handlePrepared(h, current, ps, resp)
		}
	}
	h.finish(resp)
}
