// Package log adapts a zap logger onto the trace callbacks of the
// dispatch core.
package log

import (
	"go.uber.org/zap"

	"github.com/ringdb/ring-go-driver/trace"
)

// Driver returns a trace.Driver that logs every traced event through l.
// Compose it with user traces via trace.Driver.Compose.
func Driver(l *zap.Logger) *trace.Driver {
	l = l.Named("ring")

	return &trace.Driver{
		OnSessionConnect: func(info trace.SessionConnectStartInfo) func(trace.SessionConnectDoneInfo) {
			l.Info("connecting",
				zap.Strings("contact_points", info.ContactPoints),
				zap.String("keyspace", info.Keyspace),
			)

			return func(done trace.SessionConnectDoneInfo) {
				if done.Error != nil {
					l.Error("connect failed", zap.Error(done.Error))

					return
				}
				l.Info("connected")
			}
		},
		OnSessionClose: func(trace.SessionCloseStartInfo) func(trace.SessionCloseDoneInfo) {
			l.Info("closing")

			return func(done trace.SessionCloseDoneInfo) {
				l.Info("closed", zap.Error(done.Error))
			}
		},
		OnConnDial: func(info trace.ConnDialStartInfo) func(trace.ConnDialDoneInfo) {
			addr := info.Addr.String()

			return func(done trace.ConnDialDoneInfo) {
				if done.Error != nil {
					l.Warn("dial failed", zap.String("addr", addr), zap.Error(done.Error))

					return
				}
				l.Debug("dialed", zap.String("addr", addr))
			}
		},
		OnConnClose: func(info trace.ConnCloseInfo) {
			l.Debug("connection closed",
				zap.String("addr", info.Addr.String()),
				zap.Error(info.Error),
			)
		},
		OnPoolStateChange: func(info trace.PoolStateChangeInfo) {
			l.Debug("pool state",
				zap.String("addr", info.Addr.String()),
				zap.String("state", info.State),
			)
		},
		OnReconnect: func(info trace.ReconnectStartInfo) func(trace.ReconnectDoneInfo) {
			l.Debug("reconnect scheduled",
				zap.String("addr", info.Addr.String()),
				zap.Duration("delay", info.Delay),
			)

			return func(done trace.ReconnectDoneInfo) {
				if done.Error != nil {
					l.Warn("reconnect failed",
						zap.String("addr", done.Addr.String()),
						zap.Error(done.Error),
					)

					return
				}
				l.Debug("reconnected", zap.String("addr", done.Addr.String()))
			}
		},
		OnHostStateChange: func(info trace.HostStateChangeInfo) {
			l.Info("host state",
				zap.String("addr", info.Addr.String()),
				zap.String("state", info.State),
			)
		},
		OnKeyspaceChange: func(info trace.KeyspaceChangeInfo) {
			l.Info("keyspace changed", zap.String("keyspace", info.Keyspace))
		},
		OnFlush: func(info trace.FlushStartInfo) func(trace.FlushDoneInfo) {
			return func(done trace.FlushDoneInfo) {
				if done.Requests == 0 {
					return
				}
				l.Debug("flush",
					zap.Int("processor", done.Processor),
					zap.Int("requests", done.Requests),
					zap.Duration("flush_time", done.FlushTime),
					zap.Duration("idle_time", done.IdleTime),
				)
			}
		},
		OnQueueFull: func(trace.QueueFullInfo) {
			l.Warn("request queue full")
		},
		OnPrepareAll: func(info trace.PrepareAllStartInfo) func(trace.PrepareAllDoneInfo) {
			l.Debug("prepare fan-out",
				zap.String("prepared_on", info.Addr.String()),
				zap.Int("remaining", info.Remaining),
			)

			return func(trace.PrepareAllDoneInfo) {
				l.Debug("prepare fan-out done")
			}
		},
		OnSchemaAgreement: func(info trace.SchemaAgreementStartInfo) func(trace.SchemaAgreementDoneInfo) {
			l.Debug("awaiting schema agreement", zap.String("addr", info.Addr.String()))

			return func(done trace.SchemaAgreementDoneInfo) {
				l.Debug("schema agreement",
					zap.Bool("agreed", done.Agreed),
					zap.Duration("elapsed", done.Elapsed),
				)
			}
		},
	}
}
