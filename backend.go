package traybridge

import (
	"context"
	"encoding/json"
)

// EventSink pushes messages to the channels of one client.
type EventSink interface {
	Send(channel uint32, payload any) error
}

// Caller describes the client issuing a call on the host side.
type Caller struct {
	// Owner uniquely identifies the client connection, such as its D-Bus
	// unique name.
	Owner string

	// Events reaches the channels of the client.
	Events EventSink
}

// Backend executes commands on the host side. [Service],
// [WebSocketHandler], and [Pipe] expose a Backend to clients.
type Backend interface {
	// Handle executes cmd with JSON encoded args. The result is encoded as
	// JSON and sent back to the caller. Errors are reported to the caller
	// with the code of the sentinel they wrap.
	Handle(ctx context.Context, caller Caller, cmd Command, args json.RawMessage) (any, error)

	// Release drops everything owned by a client that went away.
	Release(owner string)
}
