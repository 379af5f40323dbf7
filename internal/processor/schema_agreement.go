package processor

import (
	"time"

	"github.com/ringdb/ring-go-driver/host"
	"github.com/ringdb/ring-go-driver/internal/eventloop"
	"github.com/ringdb/ring-go-driver/request"
	"github.com/ringdb/ring-go-driver/trace"
	"github.com/ringdb/ring-go-driver/transport"
)

const schemaVersionQuery = "SELECT schema_version FROM system.local WHERE key='local'"

// waitForSchemaAgreement starts the post-DDL agreement poll against the
// host that executed the statement. Returns false when no probe could
// be written, in which case the caller resumes its success path
// immediately.
func (p *Processor) waitForSchemaAgreement(h *Handler, current *host.Host, resp transport.Response) bool {
	sa := &schemaAgreementHandler{
		h:        h,
		current:  current,
		resp:     resp,
		proc:     p,
		timer:    eventloop.NewTimer(p.loop),
		deadline: p.clock.Now().Add(p.settings.MaxSchemaWaitTime),
		started:  p.clock.Now(),
	}
	if p.trace.OnSchemaAgreement != nil {
		sa.onDone = p.trace.OnSchemaAgreement(trace.SchemaAgreementStartInfo{Addr: current.Addr()})
	}

	// The wait holds its own handler reference until finish.
	h.Retain()
	if !sa.probe() {
		sa.timer.Close()
		h.Release()

		return false
	}

	return true
}

// schemaAgreementHandler polls the schema version until every reachable
// peer agrees or the wait budget elapses; either way the original
// response then resolves the caller's future.
type schemaAgreementHandler struct {
	h       *Handler
	current *host.Host
	resp    transport.Response
	proc    *Processor
	timer   *eventloop.Timer

	deadline time.Time
	started  time.Time
	onDone   func(trace.SchemaAgreementDoneInfo)

	req *request.Request
}

func (sa *schemaAgreementHandler) probe() bool {
	c := sa.proc.mgr.FindLeastBusy(sa.current.Addr())
	if c == nil {
		return false
	}
	if sa.req == nil {
		sa.req = request.New(schemaVersionQuery)
	}

	return c.Write(&schemaProbeCallback{sa: sa})
}

// retry runs on the processor loop.
func (sa *schemaAgreementHandler) retry() {
	if sa.proc.clock.Now().After(sa.deadline) {
		sa.finish(false)

		return
	}
	sa.timer.Start(sa.proc.settings.SchemaAgreementInterval, func() {
		if !sa.probe() {
			sa.finish(false)
		}
	})
}

func (sa *schemaAgreementHandler) finish(agreed bool) {
	sa.timer.Close()
	if sa.onDone != nil {
		sa.onDone(trace.SchemaAgreementDoneInfo{
			Agreed:  agreed,
			Elapsed: sa.proc.clock.Since(sa.started),
		})
	}
	sa.h.finish(sa.resp)
	sa.h.Release()
}

type schemaProbeCallback struct {
	sa *schemaAgreementHandler
}

func (cb *schemaProbeCallback) Request() transport.Request {
	return cb.sa.req
}

func (cb *schemaProbeCallback) OnResponse(resp transport.Response) {
	if sv, ok := resp.(transport.SchemaVersions); ok && sv.InAgreement() {
		cb.sa.finish(true)

		return
	}
	cb.sa.retry()
}

func (cb *schemaProbeCallback) OnError(error) {
	cb.sa.retry()
}
