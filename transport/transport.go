// Package transport declares the collaborator interfaces between the
// dispatch core and the wire layer. The frame codec, TLS and the
// authentication handshake all live behind Connector and Connection.
package transport

import (
	"context"

	"github.com/ringdb/ring-go-driver/addr"
)

// Request is the dispatch core's view of an outgoing request. The codec
// owns everything else (values, paging, serialization).
type Request interface {
	Query() string
	Idempotent() bool
}

// Response is an opaque decoded server reply.
type Response interface{}

// SchemaChange is implemented by responses to DDL statements.
type SchemaChange interface {
	SchemaChange() bool
}

// SchemaVersions is implemented by replies to the schema-version probe
// issued while waiting for schema agreement.
type SchemaVersions interface {
	InAgreement() bool
}

// PreparedStatement is implemented by successful PREPARE responses.
type PreparedStatement interface {
	PreparedID() []byte
	ResultMetadataID() []byte
}

// Callback receives the outcome of one write on one connection. The
// connection invokes exactly one of OnResponse or OnError per write.
type Callback interface {
	Request() Request
	OnResponse(Response)
	OnError(err error)
}

// Connection is one live connection to one node, produced by a
// Connector after the full handshake.
type Connection interface {
	// Write submits a request. It returns false if the connection is
	// closed or out of stream ids; the callback is not retained then.
	Write(cb Callback) bool

	InFlight() int

	Keyspace() string

	// SetKeyspace issues a USE before subsequent writes. Returns false
	// if the connection cannot switch; the pending write is then refused.
	SetKeyspace(keyspace string) bool

	Close()

	// OnClose registers f to run once when the connection dies (EOF,
	// protocol error or local Close). Must be called before first use.
	OnClose(f func(err error))
}

// Connector performs the full dial + handshake against one node.
// Implementations classify failures via Error codes; Auth and Keyspace
// are critical (see Error.IsCritical).
type Connector interface {
	Connect(ctx context.Context, a addr.Addr, keyspace string) (Connection, error)
}
