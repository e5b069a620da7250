// Package transport defines the reliable-transport contract the routing
// core depends on (§6 of the spec) and provides an in-memory reference
// implementation used by the routing package's own tests, grounded on the
// original implementation's own test double
// (maidsafe/fakerudp/fake_managed_connections.cc).
package transport

import (
	"context"

	"github.com/walmircouto/MaidSafe-Routing/id"
)

// SendResult distinguishes the three outcomes §7 of the spec requires a
// sender to be able to tell apart: success, a retryable transient
// failure, and a terminal error.
type SendResult int

const (
	// SendSuccess indicates the bytes were handed off to the peer.
	SendSuccess SendResult = iota
	// SendFailure indicates a transient, retryable failure on a
	// connection still believed live.
	SendFailure
	// SendTerminal indicates the connection no longer exists (unknown
	// peer, connection closed) and must not be retried on.
	SendTerminal
)

// String renders the result for logging.
func (r SendResult) String() string {
	switch r {
	case SendSuccess:
		return "success"
	case SendFailure:
		return "transient_failure"
	case SendTerminal:
		return "terminal_error"
	default:
		return "unknown"
	}
}

// MessageReceivedFunc is invoked by the transport for every inbound frame.
type MessageReceivedFunc func(data []byte)

// ConnectionLostFunc is the callback for a dropped connection, registered
// through Bootstrap. A local Remove does not invoke it; the routing core
// invokes it itself after evicting a peer following repeated send
// failures.
type ConnectionLostFunc func(connectionID id.Id)

// SendCallback receives the outcome of a single Send call. It is invoked
// exactly once per Send; InMemory invokes it synchronously, before Send
// returns.
type SendCallback func(result SendResult)

// EndpointPair is the local/peer address pair returned by
// GetAvailableEndpoint, used by a connection-establishment collaborator
// (outside this spec's scope) to negotiate a direct path.
type EndpointPair struct {
	Local string
	Peer  string
}

// Transport is the reliable transport contract: connect, send, receive,
// drop. Bootstrap endpoint discovery, NAT traversal, and the cryptographic
// handshake are the caller's concern, not the transport's (per §1
// Non-goals); Transport only needs to move bytes and report connection
// loss.
type Transport interface {
	// Bootstrap attempts each endpoint in order until one accepts this
	// node, registering the message/connection-lost callbacks and
	// returning the id of the peer it bootstrapped through. It returns
	// an error if no endpoint accepts within the transport's bounded
	// attempt budget (ErrNoContacts).
	Bootstrap(ctx context.Context, endpoints []string, isClient bool,
		onMessage MessageReceivedFunc, onConnectionLost ConnectionLostFunc) (id.Id, error)

	// GetAvailableEndpoint negotiates a local/peer address pair for a
	// direct connection attempt to peer.
	GetAvailableEndpoint(peer id.Id) (EndpointPair, error)

	// Add registers peer as a connection of self, presenting validation
	// data (e.g. a signed handshake blob) the peer's identity collaborator
	// can check.
	Add(self, peer id.Id, validation []byte) error

	// Send transmits data to peer, invoking callback exactly once with
	// the outcome. Send never blocks the caller past enqueueing the
	// write.
	Send(peer id.Id, data []byte, callback SendCallback)

	// Remove tears down any connection to peer. It is idempotent.
	Remove(peer id.Id)

	// Stop tears down the transport itself, after which Send must fail
	// terminally and no further messages are delivered.
	Stop()
}

// ErrNoContacts is returned by Bootstrap when no endpoint accepted.
type ErrNoContacts struct{}

func (ErrNoContacts) Error() string { return "transport: no online bootstrap contacts" }
