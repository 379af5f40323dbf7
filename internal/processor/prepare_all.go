package processor

import (
	"sync/atomic"

	"github.com/ringdb/ring-go-driver/addr"
	"github.com/ringdb/ring-go-driver/host"
	"github.com/ringdb/ring-go-driver/request"
	"github.com/ringdb/ring-go-driver/trace"
	"github.com/ringdb/ring-go-driver/transport"
)

// handlePrepared publishes the prepared metadata and, when configured,
// fans the PREPARE out to every other available host. The fan-out is
// fire-and-forget: its failures never reach the caller's future.
func (p *Processor) handlePrepared(
	h *Handler,
	current *host.Host,
	ps transport.PreparedStatement,
	resp transport.Response,
) {
	if p.listener != nil {
		p.listener.OnPreparedMetadataChanged(string(ps.PreparedID()), PreparedMetadata{
			Query:            h.Request().Query(),
			Keyspace:         p.mgr.Keyspace(),
			ResultMetadataID: ps.ResultMetadataID(),
			Response:         resp,
		})
	}

	if !p.settings.PrepareOnAllHosts {
		return
	}

	addrs := p.mgr.Available()
	if len(addrs) == 0 || (len(addrs) == 1 && addrs[0] == current.Addr()) {
		return
	}

	var onDone func(trace.PrepareAllDoneInfo)
	if p.trace.OnPrepareAll != nil {
		onDone = p.trace.OnPrepareAll(trace.PrepareAllStartInfo{
			Addr:      current.Addr(),
			Remaining: len(addrs) - 1,
		})
	}

	pah := &prepareAllHandler{onDone: onDone}
	// The prepared node is excluded from the countdown.
	pah.remaining.Store(int32(len(addrs) - 1))

	prepare := request.NewPrepare(h.Request().Query())
	for _, a := range addrs {
		if a == current.Addr() {
			continue
		}
		cb := &prepareAllCallback{addr: a, req: prepare, handler: pah}
		// A failed write still completes the countdown via release.
		if c := p.mgr.FindLeastBusy(a); c == nil || !c.Write(cb) {
			cb.release()
		}
	}
}

// PrepareHostAsync replays known prepared statements onto a host that
// just came up or joined. Fire-and-forget, like the prepare-all
// fan-out: a host without a usable connection yet misses this replay;
// the session issues another one when the host's pool reports up.
func (p *Processor) PrepareHostAsync(a addr.Addr, queries []string) {
	p.loop.Post(func() {
		if p.mgr == nil || len(queries) == 0 {
			return
		}

		var onDone func(trace.PrepareAllDoneInfo)
		if p.trace.OnPrepareAll != nil {
			onDone = p.trace.OnPrepareAll(trace.PrepareAllStartInfo{
				Addr:      a,
				Remaining: len(queries),
			})
		}

		pah := &prepareAllHandler{onDone: onDone}
		pah.remaining.Store(int32(len(queries)))

		for _, query := range queries {
			cb := &prepareAllCallback{addr: a, req: request.NewPrepare(query), handler: pah}
			if c := p.mgr.FindLeastBusy(a); c == nil || !c.Write(cb) {
				cb.release()
			}
		}
	})
}

// prepareAllHandler counts outstanding per-host prepares down to zero.
type prepareAllHandler struct {
	remaining atomic.Int32
	onDone    func(trace.PrepareAllDoneInfo)
}

func (pah *prepareAllHandler) complete() {
	if pah.remaining.Add(-1) == 0 && pah.onDone != nil {
		pah.onDone(trace.PrepareAllDoneInfo{})
	}
}

// prepareAllCallback completes its slot exactly once, whether the write
// succeeded, failed or was never issued.
type prepareAllCallback struct {
	addr    addr.Addr
	req     *request.Request
	handler *prepareAllHandler
	done    atomic.Bool
}

func (cb *prepareAllCallback) Request() transport.Request {
	return cb.req
}

func (cb *prepareAllCallback) OnResponse(transport.Response) {
	cb.release()
}

func (cb *prepareAllCallback) OnError(error) {
	cb.release()
}

func (cb *prepareAllCallback) release() {
	if cb.done.CompareAndSwap(false, true) {
		cb.handler.complete()
	}
}
