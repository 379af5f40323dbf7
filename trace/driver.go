package trace

import (
	"time"

	"github.com/ringdb/ring-go-driver/addr"
)

// Driver contains the instrumentation callbacks of the dispatch core.
// Every field is optional; nil callbacks are skipped. Callbacks of the
// form OnX(StartInfo) func(DoneInfo) bracket the traced operation.
type Driver struct {
	OnSessionConnect func(SessionConnectStartInfo) func(SessionConnectDoneInfo)
	OnSessionClose   func(SessionCloseStartInfo) func(SessionCloseDoneInfo)

	OnConnDial  func(ConnDialStartInfo) func(ConnDialDoneInfo)
	OnConnClose func(ConnCloseInfo)

	OnPoolStateChange func(PoolStateChangeInfo)
	OnReconnect       func(ReconnectStartInfo) func(ReconnectDoneInfo)

	OnHostStateChange func(HostStateChangeInfo)
	OnKeyspaceChange  func(KeyspaceChangeInfo)

	OnFlush           func(FlushStartInfo) func(FlushDoneInfo)
	OnQueueFull       func(QueueFullInfo)
	OnPrepareAll      func(PrepareAllStartInfo) func(PrepareAllDoneInfo)
	OnSchemaAgreement func(SchemaAgreementStartInfo) func(SchemaAgreementDoneInfo)
}

type (
	SessionConnectStartInfo struct {
		ContactPoints []string
		Keyspace      string
	}
	SessionConnectDoneInfo struct {
		Error error
	}
	SessionCloseStartInfo struct{}
	SessionCloseDoneInfo  struct {
		Error error
	}

	ConnDialStartInfo struct {
		Addr addr.Addr
	}
	ConnDialDoneInfo struct {
		Error error
	}
	ConnCloseInfo struct {
		Addr  addr.Addr
		Error error
	}

	PoolStateChangeInfo struct {
		Addr  addr.Addr
		State string
	}
	ReconnectStartInfo struct {
		Addr  addr.Addr
		Delay time.Duration
	}
	ReconnectDoneInfo struct {
		Addr  addr.Addr
		Error error
	}

	HostStateChangeInfo struct {
		Addr  addr.Addr
		State string
	}
	KeyspaceChangeInfo struct {
		Keyspace string
	}

	FlushStartInfo struct {
		Processor int
	}
	FlushDoneInfo struct {
		Processor int
		Requests  int
		FlushTime time.Duration
		IdleTime  time.Duration
	}
	QueueFullInfo struct{}

	PrepareAllStartInfo struct {
		Addr      addr.Addr
		Remaining int
	}
	PrepareAllDoneInfo struct{}

	SchemaAgreementStartInfo struct {
		Addr addr.Addr
	}
	SchemaAgreementDoneInfo struct {
		Agreed  bool
		Elapsed time.Duration
	}
)

func (t *Driver) Compose(x *Driver) *Driver {
	if t == nil {
		return x
	}
	if x == nil {
		return t
	}
	out := *t
	composeBracket(&out.OnSessionConnect, x.OnSessionConnect)
	composeBracket(&out.OnSessionClose, x.OnSessionClose)
	composeBracket(&out.OnConnDial, x.OnConnDial)
	composeEvent(&out.OnConnClose, x.OnConnClose)
	composeEvent(&out.OnPoolStateChange, x.OnPoolStateChange)
	composeBracket(&out.OnReconnect, x.OnReconnect)
	composeEvent(&out.OnHostStateChange, x.OnHostStateChange)
	composeEvent(&out.OnKeyspaceChange, x.OnKeyspaceChange)
	composeBracket(&out.OnFlush, x.OnFlush)
	composeEvent(&out.OnQueueFull, x.OnQueueFull)
	composeBracket(&out.OnPrepareAll, x.OnPrepareAll)
	composeBracket(&out.OnSchemaAgreement, x.OnSchemaAgreement)

	return &out
}

func composeEvent[T any](dst *func(T), next func(T)) {
	prev := *dst
	switch {
	case prev == nil:
		*dst = next
	case next == nil:
	default:
		*dst = func(info T) {
			prev(info)
			next(info)
		}
	}
}

func composeBracket[T, D any](dst *func(T) func(D), next func(T) func(D)) {
	prev := *dst
	switch {
	case prev == nil:
		*dst = next
	case next == nil:
	default:
		*dst = func(info T) func(D) {
			done1 := prev(info)
			done2 := next(info)

			return func(d D) {
				if done1 != nil {
					done1(d)
				}
				if done2 != nil {
					done2(d)
				}
			}
		}
	}
}
