// Package role implements the node specializations (FullNode, Miner, SPV)
// as tagged variants behind a single Role interface rather than an
// inheritance chain, so the Session Engine can dispatch to whichever
// capability a node was configured with through one code path.
package role

import (
	"context"
	"encoding/json"

	"github.com/bigdot123456/p2pnode/internal/ledger"
	"github.com/bigdot123456/p2pnode/internal/peertable"
	"github.com/bigdot123456/p2pnode/pkg/logging"
)

// Sender is the subset of the Session Engine a Role needs to emit
// messages. Implemented by *node.Engine; kept as a narrow interface here
// so this package never imports internal/node (which imports this
// package to hold the active Role).
type Sender interface {
	Send(ctx context.Context, msgType, target string, payload interface{}) error
	Identifier() string
}

// Context bundles everything a Role's handlers need: the shared state
// (Ledger, Peers), a way to talk back to the network (Sender), and
// accessors/mutators for the Session Engine's ready/synced flags, which
// a Role's conflict-resolution logic reads and writes.
type Context struct {
	Sender Sender
	Ledger *ledger.Ledger
	Peers  *peertable.Table
	Log    *logging.Logger

	Synced    func() bool
	SetSynced func(bool)
}

// Role is the capability a node specialization declares: which message
// types it handles beyond the Session Engine's own handshake/heartbeat
// set, how it handles them, and how it resolves a chain-height conflict.
type Role interface {
	// MessageTypes lists the envelope types this role's Handle expects,
	// used by the Session Engine to route dispatch.
	MessageTypes() []string

	// Handle processes one envelope whose type is in MessageTypes().
	// payload is the envelope's "message" field as raw JSON (nil if the
	// envelope carried no message; decode treats that as an empty object).
	Handle(ctx context.Context, rc *Context, senderID string, msgType string, payload json.RawMessage) error

	// ResolveConflicts finds the best candidate peer and requests its
	// chain (or headers, for SPV), or marks Synced if no peer claims a
	// strictly greater height.
	ResolveConflicts(ctx context.Context, rc *Context)
}

// decode unmarshals payload into v, treating an empty payload as "{}".
func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}
